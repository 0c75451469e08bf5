// Package money provides fixed-point decimal helpers for ledger amounts.
//
// Three scales are used across the posting core: currency amounts carry 2
// fractional digits, inventory quantities 4, and inventory unit costs 6. The
// higher unit-cost precision avoids truncating very low per-unit costs that
// are later multiplied by large quantities; the product is rounded to the
// currency scale only at the GL boundary.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyScale is the scale for GL-line and document amounts.
	CurrencyScale int32 = 2
	// QuantityScale is the scale for inventory quantities.
	QuantityScale int32 = 4
	// UnitCostScale is the scale for inventory unit costs.
	UnitCostScale int32 = 6
)

// ErrDivisionByZero indicates the divisor rounds to zero at the active scale.
var ErrDivisionByZero = errors.New("money: division by zero")

// Round rounds half-up at the given scale, matching commercial invoicing
// conventions (never banker's rounding).
func Round(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// RoundCurrency rounds to the currency scale.
func RoundCurrency(d decimal.Decimal) decimal.Decimal { return d.Round(CurrencyScale) }

// RoundQuantity rounds to the quantity scale.
func RoundQuantity(d decimal.Decimal) decimal.Decimal { return d.Round(QuantityScale) }

// RoundUnitCost rounds to the unit-cost scale.
func RoundUnitCost(d decimal.Decimal) decimal.Decimal { return d.Round(UnitCostScale) }

// Div divides a by b and rounds the quotient to scale. It fails when the
// divisor rounds to zero at that scale.
func Div(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.Round(scale).IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Div(b).Round(scale), nil
}

// EqualAt reports whether a and b are equal once rounded to scale. Amount
// comparisons always happen on rounded values so full-precision intermediates
// never produce false inequality.
func EqualAt(a, b decimal.Decimal, scale int32) bool {
	return a.Round(scale).Equal(b.Round(scale))
}

// IsNegative reports whether d is strictly negative at the given scale.
func IsNegative(d decimal.Decimal, scale int32) bool {
	return d.Round(scale).IsNegative()
}

// MustParse converts a decimal literal into a Decimal and panics on bad
// input. Intended for constants and tests only.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("money: parse " + s + ": " + err.Error())
	}
	return d
}
