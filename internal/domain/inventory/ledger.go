package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/apperr"
)

var (
	hundred                = decimal.NewFromInt(100)
	percentTolerance       = decimal.RequireFromString("0.01")
	centPlaces       int32 = 2
)

// Quantities are stored as NUMERIC(14,3) and unit costs as NUMERIC(12,4).
const (
	quantityPrecision int32 = 14
	quantityScale     int32 = 3
	unitCostPrecision int32 = 12
	unitCostScale     int32 = 4
)

// FitsNumeric reports whether v is stored unchanged by a
// NUMERIC(precision, scale) column: no digits past scale and fewer than
// precision-scale integer digits.
func FitsNumeric(v decimal.Decimal, precision, scale int32) bool {
	if !v.Equal(v.Round(scale)) {
		return false
	}
	return v.Abs().LessThan(decimal.New(1, precision-scale))
}

// CheckQuantity rejects quantities the ledger columns would round or
// overflow.
func CheckQuantity(field string, q decimal.Decimal) error {
	if !FitsNumeric(q, quantityPrecision, quantityScale) {
		return apperr.Validation("%s %s must have at most %d decimal places and %d integer digits",
			field, q.String(), quantityScale, quantityPrecision-quantityScale)
	}
	return nil
}

// CheckUnitCost is CheckQuantity for unit costs.
func CheckUnitCost(c decimal.NullDecimal) error {
	if c.Valid && !FitsNumeric(c.Decimal, unitCostPrecision, unitCostScale) {
		return apperr.Validation("unit_cost %s must have at most %d decimal places and %d integer digits",
			c.Decimal.String(), unitCostScale, unitCostPrecision-unitCostScale)
	}
	return nil
}

// SplitCost divides total across percentages. Each share is rounded to
// cents and the rounding remainder goes to the last share, so the shares
// always sum to total. Percentages must be positive and sum to 100 within
// 0.01.
func SplitCost(total decimal.Decimal, percentages []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(percentages) == 0 {
		return nil, apperr.Validation("at least one allocation is required")
	}
	sum := decimal.Zero
	for _, p := range percentages {
		if !p.IsPositive() {
			return nil, apperr.Validation("allocation percentages must be positive")
		}
		sum = sum.Add(p)
	}
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return nil, apperr.Validation("allocation percentages sum to %s, expected 100", sum.String())
	}

	shares := make([]decimal.Decimal, len(percentages))
	allocated := decimal.Zero
	for i, p := range percentages {
		shares[i] = total.Mul(p).Div(hundred).Round(centPlaces)
		allocated = allocated.Add(shares[i])
	}
	last := len(shares) - 1
	shares[last] = shares[last].Add(total.Sub(allocated))
	return shares, nil
}

// ApplyDelta returns qty + delta. Under the reject policy a result below
// zero is a validation error.
func ApplyDelta(qty, delta decimal.Decimal, policy string) (decimal.Decimal, error) {
	next := qty.Add(delta)
	if policy == PolicyReject && next.IsNegative() {
		return qty, apperr.Validation("insufficient stock: %s on hand, %s requested", qty.String(), delta.Neg().String())
	}
	return next, nil
}
