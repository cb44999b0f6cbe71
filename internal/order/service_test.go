package order

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/istore/internal/notify"
)

type memRepo struct {
	orders map[string]*Order
}

func newMemRepo(os ...Order) *memRepo {
	r := &memRepo{orders: map[string]*Order{}}
	for i := range os {
		o := os[i]
		r.orders[o.ID] = &o
	}
	return r
}

func (r *memRepo) Create(ctx context.Context, o *Order) error {
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memRepo) ListAll(ctx context.Context, limit, offset int) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

func (r *memRepo) SetPaymentURL(ctx context.Context, id, url string) error {
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentURL = url
	return nil
}

type sink struct{ events []notify.Event }

func (s *sink) Dispatch(e notify.Event) bool {
	s.events = append(s.events, e)
	return true
}

func pending(id, user string) Order {
	return Order{ID: id, UserID: user, Status: StatusPending, Total: decimal.NewFromInt(10), Currency: "USD"}
}

func TestParseStatus(t *testing.T) {
	for _, in := range []string{"pending", "PAID", " shipped ", "Cancelled"} {
		st, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, strings.ToLower(strings.TrimSpace(in)), st.String())
	}
	for _, in := range []string{"", "canceled", "В обработке 🕒", "refunded"} {
		_, err := ParseStatus(in)
		assert.ErrorIs(t, err, ErrInvalidStatus, in)
	}
}

func TestUpdateStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to string
		wantErr  error
	}{
		{"pending", "paid", nil},
		{"paid", "shipped", nil},
		{"shipped", "pending", nil},
		{"pending", "cancelled", nil},
		{"cancelled", "paid", ErrTerminalStatus},
		{"cancelled", "pending", ErrTerminalStatus},
		{"pending", "lost", ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			o := pending("ORD-1", "u")
			o.Status = Status(tc.from)
			events := &sink{}
			svc := NewService(newMemRepo(o), events)

			got, err := svc.UpdateStatus(context.Background(), "ORD-1", tc.to)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, events.events)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Status(tc.to), got.Status)
			require.Len(t, events.events, 1)
			assert.Equal(t, notify.EventStatusChanged, events.events[0].Type)
			assert.Equal(t, tc.from, events.events[0].PrevStatus)
			assert.Equal(t, tc.to, events.events[0].Status)
		})
	}
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	o := pending("ORD-1", "u")
	o.Status = StatusCancelled
	events := &sink{}
	svc := NewService(newMemRepo(o), events)

	got, err := svc.UpdateStatus(context.Background(), "ORD-1", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, events.events)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	_, err := svc.UpdateStatus(context.Background(), "ORD-404", "paid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByUser_DefaultsToGuest(t *testing.T) {
	svc := NewService(newMemRepo(pending("ORD-1", GuestUserID), pending("ORD-2", "u")), nil)

	got, err := svc.ListByUser(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ORD-1", got[0].ID)
}

func TestSumItems(t *testing.T) {
	items := []Item{
		{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
		{UnitPrice: decimal.NewFromInt(120000), Quantity: 1},
	}
	assert.True(t, SumItems(items).Equal(decimal.RequireFromString("120039.98")))
	assert.True(t, SumItems(nil).IsZero())
}

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1760000000000)
	a, b := NewID(now), NewID(now)
	assert.True(t, strings.HasPrefix(a, "ORD-1760000000000-"))
	assert.Len(t, a, len("ORD-1760000000000-")+8)
	assert.NotEqual(t, a, b)
}
