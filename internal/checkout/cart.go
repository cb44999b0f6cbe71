package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/istore/internal/order"
)

const maxQuantity = 1000

// CartLine is one line of a client-submitted cart. Name and Price are
// accepted from older storefront builds but never used for totals.
// swagger:model CartLine
type CartLine struct {
	ProductID int64            `json:"productId" example:"1"`
	Quantity  int              `json:"quantity"  example:"1"`
	Name      string           `json:"name,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty" swaggertype:"string"`
}

// Request is the input of both order placement and checkout.
// swagger:model CheckoutRequest
type Request struct {
	Cart           []CartLine `json:"cart"`
	UserID         string     `json:"userId,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
}

// normalize validates the cart and merges lines for the same product,
// keeping first-seen order.
func normalize(cart []CartLine) ([]CartLine, error) {
	if len(cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	out := make([]CartLine, 0, len(cart))
	index := make(map[int64]int, len(cart))
	for i, line := range cart {
		if line.ProductID <= 0 {
			return nil, fmt.Errorf("%w: line %d: productId is required", ErrInvalidCart, i+1)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d: quantity must be at least 1", ErrInvalidCart, i+1)
		}
		if j, ok := index[line.ProductID]; ok {
			out[j].Quantity += line.Quantity
		} else {
			index[line.ProductID] = len(out)
			out = append(out, line)
		}
	}
	for _, line := range out {
		if line.Quantity > maxQuantity {
			return nil, fmt.Errorf("%w: product %d: quantity exceeds %d", ErrInvalidCart, line.ProductID, maxQuantity)
		}
	}
	return out, nil
}

// idempotencyKey scopes a client key to its user. Without a client key the
// key is derived from the user, the cart contents and the current window,
// so an identical resubmission inside the window maps to the same order.
// Guests share one user id, so they get no derived key and dedup only on
// a key they send themselves. An empty result means no dedup.
func idempotencyKey(clientKey, userID string, cart []CartLine, now time.Time, window time.Duration) string {
	if k := strings.TrimSpace(clientKey); k != "" {
		return "client:" + userID + ":" + k
	}
	if userID == "" || userID == order.GuestUserID {
		return ""
	}
	parts := make([]string, 0, len(cart))
	for _, l := range cart {
		parts = append(parts, strconv.FormatInt(l.ProductID, 10)+"x"+strconv.Itoa(l.Quantity))
	}
	sort.Strings(parts)
	bucket := now.Truncate(window).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", userID, strings.Join(parts, ","), bucket)
	return "auto:" + hex.EncodeToString(h.Sum(nil))
}
