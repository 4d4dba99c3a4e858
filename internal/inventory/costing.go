package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ApplyReceipt recomputes the weighted average cost for an inbound quantity.
// When nothing is on hand (including a negative balance left by consumption
// logged ahead of a count) the receipt cost becomes the new average.
func ApplyReceipt(b Balance, qty, unitCost decimal.Decimal) (Balance, error) {
	if !qty.IsPositive() {
		return Balance{}, fmt.Errorf("%w: receipt of %s", ErrInvalidQuantity, qty)
	}
	if unitCost.IsNegative() {
		return Balance{}, ErrInvalidUnitCost
	}
	next := b
	next.QuantityOnHand = b.QuantityOnHand.Add(qty)
	if !b.QuantityOnHand.IsPositive() {
		next.AvgCostPerUnit = unitCost.Round(CostPlaces)
		return next, nil
	}
	total := b.QuantityOnHand.Mul(b.AvgCostPerUnit).Add(qty.Mul(unitCost))
	next.AvgCostPerUnit = total.Div(next.QuantityOnHand).Round(CostPlaces)
	return next, nil
}

// ApplyConsumption removes qty at the current average cost. The resulting
// quantity may go negative; the average never changes.
func ApplyConsumption(b Balance, qty decimal.Decimal) (Balance, decimal.Decimal, error) {
	if !qty.IsPositive() {
		return Balance{}, decimal.Zero, fmt.Errorf("%w: consumption of %s", ErrInvalidQuantity, qty)
	}
	next := b
	next.QuantityOnHand = b.QuantityOnHand.Sub(qty)
	return next, b.AvgCostPerUnit, nil
}

// UnwindReceipt takes back a receipt of qty at unitCost, restoring the average
// that held before it where the remaining quantity allows.
func UnwindReceipt(b Balance, qty, unitCost decimal.Decimal) (Balance, error) {
	if !qty.IsPositive() {
		return Balance{}, fmt.Errorf("%w: unwind of %s", ErrInvalidQuantity, qty)
	}
	if unitCost.IsNegative() {
		return Balance{}, ErrInvalidUnitCost
	}
	next := b
	next.QuantityOnHand = b.QuantityOnHand.Sub(qty)
	if !next.QuantityOnHand.IsPositive() {
		return next, nil
	}
	remaining := b.QuantityOnHand.Mul(b.AvgCostPerUnit).Sub(qty.Mul(unitCost))
	if remaining.IsNegative() {
		return next, nil
	}
	next.AvgCostPerUnit = remaining.Div(next.QuantityOnHand).Round(CostPlaces)
	return next, nil
}
