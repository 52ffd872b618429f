package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

// tolerance absorbs rounding in client-computed fields.
var tolerance = decimal.RequireFromString("0.01")

func withinTolerance(got, want decimal.Decimal) bool {
	return got.Sub(want).Abs().LessThanOrEqual(tolerance)
}

// Validate checks that the derived fields of e agree with its
// before-state. REPLACE events overwrite the position and are not checked.
func Validate(e *domain.PositionEvent) error {
	switch e.Type {
	case domain.EventReplace:
		return nil
	case domain.EventBuy, domain.EventSell:
	default:
		return newError(KindValidationFailed, "invalid event type: %q", e.Type)
	}

	expectedAfter := e.QuantityBefore.Add(e.QuantityDelta)
	if !withinTolerance(e.QuantityAfter, expectedAfter) {
		return newError(KindValidationFailed,
			"invalid quantity_after: expected %s (quantity_before %s + quantity_delta %s), got %s",
			expectedAfter, e.QuantityBefore, e.QuantityDelta, e.QuantityAfter)
	}

	if e.Type == domain.EventBuy {
		return validateBuy(e)
	}
	return validateSell(e)
}

func validateBuy(e *domain.PositionEvent) error {
	if !e.QuantityDelta.IsPositive() {
		return newError(KindValidationFailed, "BUY must have a positive quantity_delta, got %s", e.QuantityDelta)
	}
	expected := e.TotalCostBefore.Add(e.QuantityDelta.Mul(e.UnitPrice))
	if !withinTolerance(e.TotalCostAfter, expected) {
		return newError(KindValidationFailed,
			"invalid total_cost_after for BUY: expected %s, got %s",
			expected.StringFixed(2), e.TotalCostAfter.StringFixed(2))
	}
	return nil
}

func validateSell(e *domain.PositionEvent) error {
	if !e.QuantityDelta.IsNegative() {
		return newError(KindValidationFailed, "SELL must have a negative quantity_delta, got %s", e.QuantityDelta)
	}
	if e.QuantityAfter.IsNegative() {
		return newError(KindValidationFailed, "SELL cannot result in a negative quantity, got %s", e.QuantityAfter)
	}
	if !e.QuantityBefore.IsPositive() {
		return nil
	}
	avgCost := e.TotalCostBefore.Div(e.QuantityBefore)
	expected := e.TotalCostBefore.Sub(e.QuantityDelta.Abs().Mul(avgCost))
	if !withinTolerance(e.TotalCostAfter, expected) {
		return newError(KindValidationFailed,
			"invalid total_cost_after for SELL: expected %s (average cost %s), got %s",
			expected.StringFixed(2), avgCost.StringFixed(2), e.TotalCostAfter.StringFixed(2))
	}
	return nil
}
