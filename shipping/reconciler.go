/*
reconciler.go - Shipment cost / user balance reconciliation

PURPOSE:
  Every change to a shipment's product set re-prices the shipment from the
  total weight of ALL its current products, and moves the difference
  between the old and new price through the owner's balance.

ALGORITHM:
  1. newCost = totalWeight > 0 ? Cost(baseRate, totalWeight) : 0
  2. balance = amount + oldCost        (undo the previous charge)
  3. balance < newCost                 -> InsufficientCreditError
  4. balance = balance - newCost       (take the new charge)

  Reconcile is pure. Persisting shipment.cost and credits.amount, and
  undoing any provisional write when step 3 fails, is the caller's job and
  happens inside one atomic unit (see service.go).

WHOLE-SHIPMENT RECOMPUTE:
  The price is always derived from the authoritative product set, never from
  a single product's weight.

EXAMPLE:
  credits {amount: 5, cost: 5}, shipment cost 5, products total 4kg
  newCost = 5 * 2 = 10; balance = 5 + 5 = 10; 10 >= 10 -> balance 0
*/
package shipping

import "github.com/shopspring/decimal"

// Reconciliation is the outcome of re-pricing a shipment.
type Reconciliation struct {
	TotalWeight decimal.Decimal
	Multiplier  int
	OldCost     decimal.Decimal
	NewCost     decimal.Decimal
	Balance     decimal.Decimal // owner's balance after refund and charge
}

// Changed reports whether the shipment cost moved.
func (r Reconciliation) Changed() bool {
	return !r.OldCost.Equal(r.NewCost)
}

// Reconcile re-prices shipment for totalWeight against the owner's credits.
// Returns *InsufficientCreditError when the refunded balance can't cover the
// new cost. Neither argument is modified.
func Reconcile(shipment Shipment, credits Credits, totalWeight decimal.Decimal) (Reconciliation, error) {
	newCost := decimal.Zero
	if totalWeight.IsPositive() {
		newCost = Cost(credits.Cost, totalWeight)
	}

	balance := credits.Amount
	if shipment.Cost.IsPositive() {
		balance = balance.Add(shipment.Cost)
	}

	if balance.LessThan(newCost) {
		return Reconciliation{}, &InsufficientCreditError{
			Required:    newCost,
			Available:   balance,
			TotalWeight: totalWeight,
		}
	}

	return Reconciliation{
		TotalWeight: totalWeight,
		Multiplier:  Multiplier(totalWeight),
		OldCost:     shipment.Cost,
		NewCost:     newCost,
		Balance:     balance.Sub(newCost),
	}, nil
}
