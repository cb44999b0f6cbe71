// Package checkout turns a submitted cart into a persisted order and, for a
// checkout, a payment link.
//
// The steps run strictly in order: validate the cart, price every line from
// the catalog, write the order as pending, then call the payment gateway.
// Nothing irreversible happens before the ledger write succeeds, and a
// gateway failure leaves the pending order in place as a retry target.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MikeMC777/istore/internal/notify"
	"github.com/MikeMC777/istore/internal/order"
	"github.com/MikeMC777/istore/internal/payment"
	"github.com/MikeMC777/istore/internal/product"
)

type Catalog interface {
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

type Ledger interface {
	Create(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id string) (*order.Order, error)
	SetPaymentURL(ctx context.Context, id, url string) error
}

type Gateway interface {
	CreateLink(ctx context.Context, req payment.LinkRequest) (string, error)
}

type Options struct {
	Currency string
	// Window bounds how long an idempotency key keeps pointing at its order.
	Window time.Duration
	Now    func() time.Time
}

type Coordinator struct {
	catalog Catalog
	ledger  Ledger
	gateway Gateway
	idem    IdempotencyStore
	events  order.EventSink

	currency string
	window   time.Duration
	now      func() time.Time
}

func NewCoordinator(catalog Catalog, ledger Ledger, gateway Gateway, idem IdempotencyStore, events order.EventSink, opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if idem == nil {
		idem = NewMemoryIdempotency()
	}
	return &Coordinator{
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		idem:     idem,
		events:   events,
		currency: strings.ToUpper(opts.Currency),
		window:   opts.Window,
		now:      opts.Now,
	}
}

type Result struct {
	Order      *order.Order
	PaymentURL string
	// Replayed is set when the idempotency key matched an earlier order.
	Replayed bool
}

// PlaceOrder validates and persists an order without asking for payment.
func (c *Coordinator) PlaceOrder(ctx context.Context, req Request) (*Result, error) {
	o, replayed, err := c.place(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Order: o, PaymentURL: o.PaymentURL, Replayed: replayed}, nil
}

// Checkout persists the order and requests a payment link for it. On a
// gateway failure the returned Result still carries the pending order.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (*Result, error) {
	o, replayed, err := c.place(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Order: o, Replayed: replayed}

	if replayed && o.PaymentURL != "" {
		res.PaymentURL = o.PaymentURL
		return res, nil
	}
	if o.Status != order.StatusPending {
		return res, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, o.ID, o.Status)
	}

	url, err := c.gateway.CreateLink(ctx, payment.LinkRequest{
		OrderID:     o.ID,
		Total:       o.Total,
		Currency:    o.Currency,
		Description: describe(o.Items),
	})
	if err != nil {
		log.Printf("[checkout] order=%s payment link failed, order stays pending: %v", o.ID, err)
		return res, fmt.Errorf("order %s: %w", o.ID, err)
	}

	res.PaymentURL = url
	o.PaymentURL = url
	if err := c.ledger.SetPaymentURL(ctx, o.ID, url); err != nil {
		log.Printf("[checkout] order=%s store payment url: %v", o.ID, err)
	}
	return res, nil
}

func (c *Coordinator) place(ctx context.Context, req Request) (*order.Order, bool, error) {
	lines, err := normalize(req.Cart)
	if err != nil {
		return nil, false, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = order.GuestUserID
	}

	now := c.now()
	key := idempotencyKey(req.IdempotencyKey, userID, lines, now, c.window)
	orderID := order.NewID(now)

	bound, reserved := orderID, true
	if key != "" {
		bound, reserved, err = c.idem.Reserve(ctx, key, orderID, c.window)
		if err != nil {
			// Without the store there is no dedup, but the order can still be taken.
			log.Printf("[checkout] idempotency store unavailable, continuing without dedup: %v", err)
			reserved = true
		}
	}
	if !reserved {
		existing, err := c.ledger.GetByID(ctx, bound)
		if errors.Is(err, order.ErrNotFound) {
			return nil, false, ErrCheckoutInProgress
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		log.Printf("[checkout] replay key=%s order=%s", key, existing.ID)
		return existing, true, nil
	}

	o, err := c.build(ctx, orderID, userID, key, lines)
	if err == nil {
		if werr := c.ledger.Create(ctx, o); werr != nil {
			err = fmt.Errorf("%w: %v", ErrPersistence, werr)
		}
	}
	if err != nil {
		if key != "" {
			if rerr := c.idem.Release(ctx, key, orderID); rerr != nil {
				log.Printf("[checkout] release key=%s: %v", key, rerr)
			}
		}
		return nil, false, err
	}

	log.Printf("[checkout] order=%s user=%s total=%s %s lines=%d", o.ID, o.UserID, o.Total.StringFixed(2), o.Currency, len(o.Items))
	if c.events != nil {
		c.events.Dispatch(order.EventFor(notify.EventOrderCreated, o))
	}
	return o, false, nil
}

// build prices every line from the catalog. Client-sent prices are ignored.
func (c *Coordinator) build(ctx context.Context, orderID, userID, key string, lines []CartLine) (*order.Order, error) {
	items := make([]order.Item, 0, len(lines))
	for _, line := range lines {
		p, err := c.catalog.GetByID(ctx, line.ProductID)
		if errors.Is(err, product.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, line.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if line.Price != nil && !line.Price.Equal(p.Price) {
			log.Printf("[checkout] price mismatch product=%d client=%s catalog=%s", p.ID, line.Price, p.Price)
		}
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
		})
	}
	total := order.SumItems(items)
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be positive", ErrInvalidCart)
	}
	return &order.Order{
		ID:             orderID,
		UserID:         userID,
		Items:          items,
		Total:          total,
		Currency:       c.currency,
		Status:         order.StatusPending,
		IdempotencyKey: key,
	}, nil
}

func describe(items []order.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	s := strings.Join(parts, ", ")
	if r := []rune(s); len(r) > 255 {
		s = string(r[:252]) + "..."
	}
	return s
}
