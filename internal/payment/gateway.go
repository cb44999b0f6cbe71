// Package payment issues payment links through the Telegram invoice API.
//
// Currency contract: every amount handled by the store is in major units of
// a single configured currency whose minor unit is 1/100. Amounts leave the
// store as integer minor units, rounded up on fractional cents.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/MikeMC777/istore/internal/telegram"
)

var (
	ErrGateway = errors.New("payment gateway error")
	ErrTimeout = errors.New("payment gateway timeout")
)

// GatewayError carries the gateway's own diagnostic when it gave one.
type GatewayError struct {
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return "payment gateway: " + e.Message
	}
	return fmt.Sprintf("payment gateway: %v", e.Err)
}

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func (e *GatewayError) Unwrap() error { return e.Err }

// ToMinorUnits converts a major-unit amount to minor units, rounding any
// fraction of a cent up: 19.99 -> 1999, 19.995 -> 2000.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Ceil().IntPart()
}

type LinkRequest struct {
	OrderID     string
	Total       decimal.Decimal
	Currency    string
	Description string
}

// InvoiceCreator is satisfied by *telegram.Client.
type InvoiceCreator interface {
	CreateInvoiceLink(ctx context.Context, p telegram.InvoiceLinkParams) (string, error)
}

type TelegramGateway struct {
	bot           InvoiceCreator
	providerToken string
	timeout       time.Duration
	breaker       *gobreaker.CircuitBreaker[string]
}

func NewTelegramGateway(bot InvoiceCreator, providerToken string, timeout time.Duration) *TelegramGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramGateway{
		bot:           bot,
		providerToken: providerToken,
		timeout:       timeout,
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "telegram-invoice",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: isHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("[payment] breaker %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// isHealthy reports whether an outcome leaves the breaker closed. A rejected
// invoice means the gateway is up, and a caller that went away says nothing
// about the gateway.
func isHealthy(err error) bool {
	var apiErr *telegram.APIError
	return err == nil || errors.As(err, &apiErr) || errors.Is(err, context.Canceled)
}

// CreateLink asks the gateway for a payment link for an already persisted
// order. Failures are *GatewayError; a deadline hit is ErrTimeout.
func (g *TelegramGateway) CreateLink(ctx context.Context, req LinkRequest) (string, error) {
	amount := ToMinorUnits(req.Total)
	if amount <= 0 {
		return "", &GatewayError{Message: "order total must be positive"}
	}
	params := telegram.InvoiceLinkParams{
		Title:         "Order " + req.OrderID,
		Description:   req.Description,
		Payload:       req.OrderID,
		ProviderToken: g.providerToken,
		Currency:      req.Currency,
		Prices:        []telegram.LabeledPrice{{Label: "Total", Amount: amount}},
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url, err := g.breaker.Execute(func() (string, error) {
		return g.bot.CreateInvoiceLink(ctx, params)
	})
	if err == nil {
		return url, nil
	}

	var (
		apiErr *telegram.APIError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
	case errors.As(err, &apiErr):
		return "", &GatewayError{Message: apiErr.Description, Err: err}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", &GatewayError{Message: "temporarily unavailable", Err: err}
	default:
		return "", &GatewayError{Err: err}
	}
}
