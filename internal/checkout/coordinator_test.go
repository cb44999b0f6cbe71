package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/istore/internal/notify"
	"github.com/MikeMC777/istore/internal/order"
	"github.com/MikeMC777/istore/internal/payment"
	"github.com/MikeMC777/istore/internal/product"
)

type stubCatalog struct {
	items map[int64]product.Product
	err   error
}

func catalogOf(ps ...product.Product) *stubCatalog {
	c := &stubCatalog{items: map[int64]product.Product{}}
	for _, p := range ps {
		c.items[p.ID] = p
	}
	return c
}

func (c *stubCatalog) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.items[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

type stubLedger struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	creates  int
	createFn func(o *order.Order) error
}

func newLedger() *stubLedger {
	return &stubLedger{orders: map[string]*order.Order{}}
}

func (l *stubLedger) Create(ctx context.Context, o *order.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creates++
	if l.createFn != nil {
		if err := l.createFn(o); err != nil {
			return err
		}
	}
	cp := *o
	l.orders[o.ID] = &cp
	return nil
}

func (l *stubLedger) GetByID(ctx context.Context, id string) (*order.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *stubLedger) SetPaymentURL(ctx context.Context, id, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentURL = url
	return nil
}

func (l *stubLedger) only(t *testing.T) *order.Order {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.orders, 1)
	for _, o := range l.orders {
		return o
	}
	return nil
}

type stubGateway struct {
	calls []payment.LinkRequest
	url   string
	err   error
}

func (g *stubGateway) CreateLink(ctx context.Context, req payment.LinkRequest) (string, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	return g.url, nil
}

type stubEvents struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *stubEvents) Dispatch(e notify.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

type fixture struct {
	catalog *stubCatalog
	ledger  *stubLedger
	gateway *stubGateway
	events  *stubEvents
	coord   *Coordinator
	now     time.Time
}

func newFixture(ps ...product.Product) *fixture {
	f := &fixture{
		catalog: catalogOf(ps...),
		ledger:  newLedger(),
		gateway: &stubGateway{url: "https://t.me/$invoice"},
		events:  &stubEvents{},
		now:     time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	f.coord = NewCoordinator(f.catalog, f.ledger, f.gateway, NewMemoryIdempotency(), f.events, Options{
		Currency: "usd",
		Window:   10 * time.Minute,
		Now:      func() time.Time { return f.now },
	})
	return f
}

var (
	iphone = product.Product{ID: 1, Name: "iPhone 15", Price: decimal.NewFromInt(120000)}
	cover  = product.Product{ID: 2, Name: "Case", Price: decimal.RequireFromString("19.99")}
)

func TestCheckout_ScenarioSingleProduct(t *testing.T) {
	f := newFixture(iphone)

	res, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)

	assert.Equal(t, "https://t.me/$invoice", res.PaymentURL)
	assert.True(t, res.Order.Total.Equal(decimal.NewFromInt(120000)))
	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, int64(12000000), payment.ToMinorUnits(f.gateway.calls[0].Total))
	assert.Equal(t, "USD", f.gateway.calls[0].Currency)
	assert.Equal(t, res.Order.ID, f.gateway.calls[0].OrderID)

	stored := f.ledger.only(t)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, order.GuestUserID, stored.UserID)
	assert.Equal(t, "https://t.me/$invoice", stored.PaymentURL)
}

func TestCheckout_IgnoresClientPrice(t *testing.T) {
	f := newFixture(iphone, cover)
	lie := decimal.NewFromInt(1)

	res, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{
		{ProductID: 1, Quantity: 1, Name: "iPhone 15", Price: &lie},
		{ProductID: 2, Quantity: 2, Price: &lie},
	}})
	require.NoError(t, err)

	want := decimal.NewFromInt(120000).Add(decimal.RequireFromString("39.98"))
	assert.True(t, res.Order.Total.Equal(want), "total=%s", res.Order.Total)
	assert.True(t, f.ledger.only(t).Total.Equal(want))
	assert.True(t, f.gateway.calls[0].Total.Equal(want))
}

func TestCheckout_MinorUnitConversion(t *testing.T) {
	f := newFixture(cover)

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 2, Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1999), payment.ToMinorUnits(f.gateway.calls[0].Total))
}

func TestCheckout_MergesDuplicateLines(t *testing.T) {
	f := newFixture(cover)

	res, err := f.coord.PlaceOrder(context.Background(), Request{Cart: []CartLine{
		{ProductID: 2, Quantity: 1},
		{ProductID: 2, Quantity: 2},
	}})
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 3, res.Order.Items[0].Quantity)
	assert.True(t, res.Order.Total.Equal(decimal.RequireFromString("59.97")))
}

func TestCheckout_InvalidCartHasNoSideEffects(t *testing.T) {
	carts := map[string][]CartLine{
		"empty":         {},
		"nil":           nil,
		"no product":    {{Quantity: 1}},
		"zero quantity": {{ProductID: 1, Quantity: 0}},
		"negative qty":  {{ProductID: 1, Quantity: -2}},
		"too many":      {{ProductID: 1, Quantity: 600}, {ProductID: 1, Quantity: 600}},
	}
	for name, cart := range carts {
		t.Run(name, func(t *testing.T) {
			f := newFixture(iphone)

			_, err := f.coord.Checkout(context.Background(), Request{Cart: cart})
			assert.ErrorIs(t, err, ErrInvalidCart)

			_, err = f.coord.PlaceOrder(context.Background(), Request{Cart: cart})
			assert.ErrorIs(t, err, ErrInvalidCart)

			assert.Zero(t, f.ledger.creates)
			assert.Empty(t, f.gateway.calls)
		})
	}
}

func TestCheckout_UnknownProduct(t *testing.T) {
	f := newFixture(iphone)

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 999, Quantity: 1}}})
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.Contains(t, err.Error(), "999")
	assert.Zero(t, f.ledger.creates)
	assert.Empty(t, f.gateway.calls)
	assert.Empty(t, f.events.events)
}

func TestCheckout_CatalogDown(t *testing.T) {
	f := newFixture(iphone)
	f.catalog.err = errors.New("connection refused")

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Zero(t, f.ledger.creates)
}

func TestCheckout_LedgerFailureSkipsGateway(t *testing.T) {
	f := newFixture(iphone)
	f.ledger.createFn = func(*order.Order) error { return errors.New("db down") }

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, f.gateway.calls)
	assert.Empty(t, f.events.events)
}

func TestCheckout_LedgerFailureReleasesKey(t *testing.T) {
	f := newFixture(iphone)
	fail := true
	f.ledger.createFn = func(*order.Order) error {
		if fail {
			return errors.New("db down")
		}
		return nil
	}
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, IdempotencyKey: "k1"}

	_, err := f.coord.Checkout(context.Background(), req)
	require.ErrorIs(t, err, ErrPersistence)

	fail = false
	res, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, f.ledger.creates)
}

func TestCheckout_GatewayFailureKeepsPendingOrder(t *testing.T) {
	f := newFixture(iphone)
	f.gateway.err = &payment.GatewayError{Message: "Bad Request: PAYMENT_PROVIDER_INVALID"}

	res, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrPaymentGateway)
	assert.Contains(t, err.Error(), "PAYMENT_PROVIDER_INVALID")
	require.NotNil(t, res)

	stored, gerr := f.ledger.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, gerr)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Empty(t, stored.PaymentURL)
}

func TestCheckout_GatewayTimeoutIsDistinct(t *testing.T) {
	f := newFixture(iphone)
	f.gateway.err = payment.ErrTimeout

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, ErrPaymentGatewayTimeout)
	assert.NotErrorIs(t, err, ErrPaymentGateway)
	assert.Len(t, f.ledger.orders, 1)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, UserID: "u1", IdempotencyKey: "abc"}

	first, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.PaymentURL, second.PaymentURL)
	assert.Equal(t, 1, f.ledger.creates)
	assert.Len(t, f.gateway.calls, 1)
}

func TestCheckout_DerivedKeyWithinWindow(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, UserID: "u1"}

	first, err := f.coord.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	second, err := f.coord.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	f.now = f.now.Add(20 * time.Minute)
	third, err := f.coord.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
	assert.Equal(t, 2, f.ledger.creates)
}

func TestCheckout_GuestsWithoutKeyAreNotMerged(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}}

	a, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)
	b, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.Order.ID, b.Order.ID)
	assert.False(t, b.Replayed)
	assert.Equal(t, 2, f.ledger.creates)
	assert.Len(t, f.gateway.calls, 2)
	assert.Empty(t, f.ledger.orders[a.Order.ID].IdempotencyKey)
}

func TestCheckout_GuestWithKeyIsDeduplicated(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, IdempotencyKey: "tab-1"}

	a, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)
	b, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.True(t, b.Replayed)
	assert.Equal(t, 1, f.ledger.creates)
}

func TestCheckout_ZeroTotalRejectedBeforeLedger(t *testing.T) {
	gift := product.Product{ID: 3, Name: "Sticker", Price: decimal.Zero}
	f := newFixture(gift)

	_, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 3, Quantity: 2}}, UserID: "u1"})
	require.ErrorIs(t, err, ErrInvalidCart)
	assert.Zero(t, f.ledger.creates)
	assert.Empty(t, f.gateway.calls)

	// The key was released, so a later valid cart from the same user goes through.
	f.catalog.items[3] = product.Product{ID: 3, Name: "Sticker", Price: decimal.RequireFromString("0.50")}
	res, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 3, Quantity: 2}}, UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCheckout_SameKeyDifferentUsers(t *testing.T) {
	f := newFixture(iphone)
	cart := []CartLine{{ProductID: 1, Quantity: 1}}

	a, err := f.coord.PlaceOrder(context.Background(), Request{Cart: cart, UserID: "a", IdempotencyKey: "k"})
	require.NoError(t, err)
	b, err := f.coord.PlaceOrder(context.Background(), Request{Cart: cart, UserID: "b", IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Order.ID, b.Order.ID)
}

func TestCheckout_ReplayRetriesFailedPaymentLink(t *testing.T) {
	f := newFixture(iphone)
	f.gateway.err = errors.New("boom")
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, IdempotencyKey: "retry"}

	first, err := f.coord.Checkout(context.Background(), req)
	require.Error(t, err)

	f.gateway.err = nil
	second, err := f.coord.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "https://t.me/$invoice", second.PaymentURL)
	assert.Len(t, f.gateway.calls, 2)
	assert.Equal(t, 1, f.ledger.creates)
}

func TestCheckout_ReplayOfCancelledOrderIsNotPayable(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, IdempotencyKey: "c"}

	placed, err := f.coord.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	f.ledger.orders[placed.Order.ID].Status = order.StatusCancelled

	_, err = f.coord.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Empty(t, f.gateway.calls)
}

func TestCheckout_InFlightKey(t *testing.T) {
	f := newFixture(iphone)
	req := Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, IdempotencyKey: "busy"}
	key := idempotencyKey("busy", order.GuestUserID, req.Cart, f.now, 10*time.Minute)
	_, _, err := f.coord.idem.Reserve(context.Background(), key, "ORD-in-flight", time.Minute)
	require.NoError(t, err)

	_, err = f.coord.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Zero(t, f.ledger.creates)
}

func TestPlaceOrder_NotifiesWithoutPayment(t *testing.T) {
	f := newFixture(iphone)

	res, err := f.coord.PlaceOrder(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 2}}, UserID: "42"})
	require.NoError(t, err)
	assert.Empty(t, res.PaymentURL)
	assert.Empty(t, f.gateway.calls)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, notify.EventOrderCreated, ev.Type)
	assert.Equal(t, res.Order.ID, ev.OrderID)
	assert.Equal(t, "42", ev.UserID)
	assert.Equal(t, "iPhone 15", ev.Items[0].Name)
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, string, time.Duration) (string, bool, error) {
	return "", false, errors.New("redis down")
}

func (failingStore) Release(context.Context, string, string) error { return errors.New("redis down") }

func TestCheckout_IdempotencyStoreDownStillTakesOrder(t *testing.T) {
	f := newFixture(iphone)
	f.coord.idem = failingStore{}

	res, err := f.coord.Checkout(context.Background(), Request{Cart: []CartLine{{ProductID: 1, Quantity: 1}}, UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PaymentURL)
}
