package notify

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated  EventType = "orders.created"
	EventStatusChanged EventType = "orders.status_changed"
)

type EventItem struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// Event describes something that happened to an order. It is the payload of
// every notification channel.
type Event struct {
	Type       EventType       `json:"type"`
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	PrevStatus string          `json:"prevStatus,omitempty"`
	Items      []EventItem     `json:"items,omitempty"`
	At         time.Time       `json:"at"`
}
