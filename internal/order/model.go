package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GuestUserID owns every order placed without a known user.
const GuestUserID = "guest"

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrTerminalStatus = errors.New("order is in a terminal status")
)

// ParseStatus accepts the closed set of statuses, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPaid, StatusShipped, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

type Order struct {
	ID             string          `json:"orderId"`
	UserID         string          `json:"userId"`
	Items          []Item          `json:"items"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"-"`
	PaymentURL     string          `json:"paymentUrl,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Item is a cart line with the catalog price resolved at order time.
type Item struct {
	ProductID int64           `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (it Item) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// SumItems is the only way an order total is computed.
func SumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// NewID returns an order id of the form ORD-<unix ms>-<8 hex chars>.
func NewID(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
