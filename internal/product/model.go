package product

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the price-of-record for everything sold by the store.
type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Specs    string `json:"specs"`
	// Price is NUMERIC in Postgres and is marshalled as a JSON string.
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

var (
	ErrNameRequired   = errors.New("name is required")
	ErrNegativePrice  = errors.New("price must be non-negative")
	ErrPricePrecision = errors.New("price must have at most 2 decimal places")
	ErrPriceTooLarge  = errors.New("price is too large")
)

// maxPrice bounds prices to what the NUMERIC(14,2) column holds.
var maxPrice = decimal.New(1, 12)

func validatePrice(p decimal.Decimal) error {
	if p.IsNegative() {
		return ErrNegativePrice
	}
	if !p.Equal(p.Truncate(2)) {
		return ErrPricePrecision
	}
	if p.GreaterThanOrEqual(maxPrice) {
		return ErrPriceTooLarge
	}
	return nil
}

// CreateProductRequest payload of creation.
// swagger:model CreateProductRequest
type CreateProductRequest struct {
	Name     string          `json:"name"     example:"iPhone 15 Pro"`
	Price    decimal.Decimal `json:"price"    example:"120000"`
	ImageURL string          `json:"imageUrl" example:"/img/iphone15.png"`
	Specs    string          `json:"specs"    example:"256GB, Titanium"`
}

func (r CreateProductRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrNameRequired
	}
	return validatePrice(r.Price)
}

// UpdateProductRequest payload of partial update. Empty strings and a
// missing price leave the stored value untouched.
// swagger:model UpdateProductRequest
type UpdateProductRequest struct {
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	ImageURL string           `json:"imageUrl"`
	Specs    string           `json:"specs"`
}

func (r UpdateProductRequest) Validate() error {
	if r.Price != nil {
		return validatePrice(*r.Price)
	}
	return nil
}
