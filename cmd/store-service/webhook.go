package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/istore/internal/httpx"
	ord "github.com/MikeMC777/istore/internal/order"
	"github.com/MikeMC777/istore/internal/payment"
	"github.com/MikeMC777/istore/internal/telegram"
)

// PreCheckoutAnswerer is satisfied by *telegram.Client.
type PreCheckoutAnswerer interface {
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// telegramWebhookHandler receives paymaster updates. Telegram retries any
// non-2xx answer, so everything except a bad secret or body is acknowledged
// with 200 and handled (or logged) here.
//
// @Summary  Telegram payments webhook
// @Tags     payments
// @Accept   json
// @Param    X-Telegram-Bot-Api-Secret-Token  header  string  false  "Webhook secret"
// @Success  200
// @Failure  401  {object}  httpx.HTTPError
// @Router   /telegram/webhook [post]
func telegramWebhookHandler(orders OrderService, bot PreCheckoutAnswerer, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			got := c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				httpx.Error(c, http.StatusUnauthorized, "bad webhook secret")
				return
			}
		}
		var upd telegram.Update
		if err := json.NewDecoder(c.Request.Body).Decode(&upd); err != nil {
			httpx.Error(c, http.StatusBadRequest, "invalid update")
			return
		}
		ctx := c.Request.Context()

		switch {
		case upd.PreCheckoutQuery != nil:
			q := upd.PreCheckoutQuery
			ok, reason := approvePreCheckout(ctx, orders, q)
			if err := bot.AnswerPreCheckoutQuery(ctx, q.ID, ok, reason); err != nil {
				log.Printf("[payment] answer pre-checkout %s order=%s: %v", q.ID, q.InvoicePayload, err)
			}
		case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
			sp := upd.Message.SuccessfulPayment
			_, err := orders.UpdateStatus(ctx, sp.InvoicePayload, string(ord.StatusPaid))
			if err != nil {
				log.Printf("[payment] mark paid order=%s charge=%s: %v", sp.InvoicePayload, sp.TelegramPaymentChargeID, err)
			} else {
				log.Printf("[payment] order=%s paid charge=%s", sp.InvoicePayload, sp.TelegramPaymentChargeID)
			}
		}
		c.Status(http.StatusOK)
	}
}

// approvePreCheckout accepts a payment only for a pending order whose total
// and currency still match the invoice.
func approvePreCheckout(ctx context.Context, orders OrderService, q *telegram.PreCheckoutQuery) (bool, string) {
	o, err := orders.Get(ctx, q.InvoicePayload)
	if errors.Is(err, ord.ErrNotFound) {
		return false, "Order not found."
	}
	if err != nil {
		log.Printf("[payment] pre-checkout lookup order=%s: %v", q.InvoicePayload, err)
		return false, "Temporary error, please try again."
	}
	if o.Status != ord.StatusPending {
		return false, "This order can no longer be paid."
	}
	if !strings.EqualFold(o.Currency, q.Currency) || payment.ToMinorUnits(o.Total) != q.TotalAmount {
		log.Printf("[payment] pre-checkout mismatch order=%s want=%d %s got=%d %s",
			o.ID, payment.ToMinorUnits(o.Total), o.Currency, q.TotalAmount, q.Currency)
		return false, "Order amount has changed."
	}
	return true, ""
}
