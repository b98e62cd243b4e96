package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/pricing"
)

type Line struct {
	PurchaserID uuid.UUID        `json:"purchaser_id" db:"purchaser_id"`
	ProductID   uuid.UUID        `json:"product_id" db:"product_id"`
	Quantity    int              `json:"quantity" db:"quantity"`
	Product     *catalog.Product `json:"product,omitempty" db:"-"` // joined on read
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

type Cart struct {
	PurchaserID uuid.UUID `json:"purchaser_id"`
	Lines       []Line    `json:"lines"`
}

// Count is the number of units across all lines.
func (c Cart) Count() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Total sums quantity * effective unit price at now. Lines whose product was
// not joined contribute nothing.
func (c Cart) Total(now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		if l.Product == nil {
			continue
		}
		total = total.Add(pricing.LineTotal(*l.Product, l.Quantity, now))
	}
	return money.Round(total)
}
