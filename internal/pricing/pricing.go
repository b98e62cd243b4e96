// Package pricing computes what a product costs at a given instant.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/money"
)

// DiscountActive reports whether now falls inside the product's discount
// window. Both bounds are inclusive and a missing bound is open.
func DiscountActive(p catalog.Product, now time.Time) bool {
	if !p.HasDiscount() {
		return false
	}
	if p.DiscountStart != nil && now.Before(*p.DiscountStart) {
		return false
	}
	if p.DiscountEnd != nil && now.After(*p.DiscountEnd) {
		return false
	}
	return true
}

// EffectivePrice is price * (100 - pct) / 100 while the discount is active and
// the listed price otherwise, both at money scale. The result never exceeds
// the listed price. Percentages must have passed
// catalog.Product.ValidateDiscount; they are not clamped here.
func EffectivePrice(p catalog.Product, now time.Time) decimal.Decimal {
	listed := money.Round(p.Price)
	if !DiscountActive(p, now) {
		return listed
	}

	factor := money.Hundred().Sub(p.DiscountPercentage.Decimal)
	return decimal.Min(money.Round(listed.Mul(factor).Div(money.Hundred())), listed)
}

func LineTotal(p catalog.Product, qty int, now time.Time) decimal.Decimal {
	return money.Mul(EffectivePrice(p, now), qty)
}
