package checkout

import (
	"errors"

	"github.com/MikeMC777/istore/internal/payment"
)

var (
	ErrInvalidCart        = errors.New("invalid cart")
	ErrProductNotFound    = errors.New("product not found")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrPersistence        = errors.New("order could not be saved")
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")
	ErrOrderNotPayable    = errors.New("order is no longer payable")

	ErrPaymentGateway        = payment.ErrGateway
	ErrPaymentGatewayTimeout = payment.ErrTimeout
)
