package engine

import "github.com/ksred/exchange-api/internal/types"

// ApplyFill is the single lifecycle rule for absorbing a fill into an order:
// the new filled quantity is the old one plus the fill, and the order is
// FILLED once that reaches its quantity, PARTIALLY_FILLED otherwise. Both
// sides of every trade go through this one transition.
func ApplyFill(filled, quantity, fillQty float64) (status string, newFilled float64) {
	newFilled = filled + fillQty
	if newFilled >= quantity {
		return types.StatusFilled, newFilled
	}
	return types.StatusPartiallyFilled, newFilled
}
