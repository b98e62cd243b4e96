package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidDiscount   = errors.New("invalid discount")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

type Product struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	Name               string              `json:"name" db:"name"`
	Price              decimal.Decimal     `json:"price" db:"price"`
	StockQuantity      int                 `json:"stock_quantity" db:"stock_quantity"`
	Active             bool                `json:"active" db:"active"`
	DiscountPercentage decimal.NullDecimal `json:"discount_percentage" db:"discount_percentage"`
	DiscountStart      *time.Time          `json:"discount_start,omitempty" db:"discount_start"`
	DiscountEnd        *time.Time          `json:"discount_end,omitempty" db:"discount_end"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at"`
}

// HasDiscount reports whether a non-zero discount percentage is configured,
// regardless of its window.
func (p Product) HasDiscount() bool {
	return p.DiscountPercentage.Valid && !p.DiscountPercentage.Decimal.IsZero()
}

// ValidateDiscount rejects a negative price or one finer than the money
// scale, percentages outside [0, 100] and an inverted discount window.
func (p Product) ValidateDiscount() error {
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: product %s has negative price %s", ErrInvalidDiscount, p.ID, p.Price)
	}
	if !p.Price.Equal(money.Round(p.Price)) {
		return fmt.Errorf("%w: product %s price %s has more than %d decimals", ErrInvalidDiscount, p.ID, p.Price, money.Scale)
	}
	if !p.DiscountPercentage.Valid {
		return nil
	}

	pct := p.DiscountPercentage.Decimal
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: product %s has percentage %s outside 0..100", ErrInvalidDiscount, p.ID, pct)
	}
	if p.DiscountStart != nil && p.DiscountEnd != nil && p.DiscountStart.After(*p.DiscountEnd) {
		return fmt.Errorf("%w: product %s discount starts after it ends", ErrInvalidDiscount, p.ID)
	}

	return nil
}
