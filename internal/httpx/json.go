package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// HTTPError represents a standard error in JSON.
// swagger:model
type HTTPError struct {
	// Error message
	// example: cart is empty
	Error string `json:"error"`
}

var ErrEmptyBody = errors.New("request body is empty")

func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, HTTPError{Error: msg})
}

// BindStrict decodes a JSON body rejecting unknown fields and trailing data,
// then runs gin's struct validator over the result.
func BindStrict(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(dst)
}

// UserID returns the caller identity forwarded by the storefront: the
// "userid" header first, then the "userId" query parameter.
func UserID(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader("userid")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("userId"))
}

// Page reads limit/offset query parameters, falling back to the defaults on
// missing or malformed values.
func Page(c *gin.Context, defLimit, maxLimit int) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defLimit)))
	if err != nil || limit <= 0 || limit > maxLimit {
		limit = defLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
