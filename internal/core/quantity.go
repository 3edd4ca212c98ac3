package core

import "github.com/shopspring/decimal"

// maxQuantity is the largest value a NUMERIC(14,2) column holds.
var maxQuantity = decimal.New(1, 12)

// ValidateQuantity accepts positive amounts with at most two fractional digits.
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return newError(KindInvalidArgument, "quantity must be greater than zero, got %s", q)
	}
	if !q.Equal(q.Round(2)) {
		return newError(KindInvalidArgument, "quantity %s has more than two decimal places", q)
	}
	if q.GreaterThanOrEqual(maxQuantity) {
		return newError(KindInvalidArgument, "quantity %s is too large", q)
	}
	return nil
}

// validateAmount accepts zero or positive amounts with at most two fractional digits.
func validateAmount(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return newError(KindInvalidArgument, "%s must not be negative, got %s", field, v)
	}
	if !v.Equal(v.Round(2)) {
		return newError(KindInvalidArgument, "%s %s has more than two decimal places", field, v)
	}
	if v.GreaterThanOrEqual(maxQuantity) {
		return newError(KindInvalidArgument, "%s %s is too large", field, v)
	}
	return nil
}

// ComputeClosing is the balance formula:
//
//	closing = opening + net movement - assigned - expended
func ComputeClosing(opening, netMovement, assigned, expended decimal.Decimal) decimal.Decimal {
	return opening.Add(netMovement).Sub(assigned).Sub(expended)
}

var zero = decimal.Zero
