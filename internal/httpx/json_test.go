package httpx

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type strictBody struct {
	Status string `json:"status" binding:"required"`
}

func newCtx(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	return c, w
}

func TestBindStrict(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"status":"paid"}`, false},
		{"unknown field", `{"status":"paid","total":1}`, true},
		{"missing required", `{}`, true},
		{"empty", ``, true},
		{"trailing data", `{"status":"paid"}{"status":"x"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCtx(http.MethodPost, "/", tc.body)
			var dst strictBody
			err := BindStrict(c, &dst)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "paid", dst.Status)
		})
	}
}

func TestUserID_HeaderThenQuery(t *testing.T) {
	c, _ := newCtx(http.MethodGet, "/?userId=q-user", "")
	assert.Equal(t, "q-user", UserID(c))

	c.Request.Header.Set("userid", "h-user")
	assert.Equal(t, "h-user", UserID(c))
}

func TestPage_Defaults(t *testing.T) {
	c, _ := newCtx(http.MethodGet, "/?limit=1000&offset=-3", "")
	limit, offset := Page(c, 50, 200)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	c, _ = newCtx(http.MethodGet, "/?limit=10&offset=20", "")
	limit, offset = Page(c, 50, 200)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)
}

func TestRecovery_ReturnsJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
