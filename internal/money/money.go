// Package money holds the storefront's monetary arithmetic. Amounts are
// decimal values with two fractional digits in a single configured currency.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Hundred is the percentage base.
func Hundred() decimal.Decimal {
	return hundred
}

// Round rounds half away from zero to Scale digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Mul returns unit * qty without further rounding; unit is already a money amount.
func Mul(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Format renders an amount with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// ValidateCurrency accepts three upper-case ASCII letters (ISO 4217 shape).
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("money: invalid currency code %q", code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return fmt.Errorf("money: invalid currency code %q", code)
		}
	}
	return nil
}
