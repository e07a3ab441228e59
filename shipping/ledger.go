/*
ledger.go - Append-only log of balance movements

PURPOSE:
  Every change to a user's credits.amount is also recorded as a Movement,
  in the same atomic unit as the balance write. The balance stays a stored
  field (workflows read it directly), and the log explains how it got there.

INVARIANTS:
  1. APPEND-ONLY: Movements are never updated or deleted, not even when the
     shipment they reference is.
  2. CONSERVATION: Replay(movements of u) == u.credits.amount. Audit checks it.
  3. PAIRED: A cost change and its balance movement commit together or not
     at all.

KINDS:
  plan_purchase    Credits replaced by a plan. Delta = plan amount - old balance
  shipment_charge  Base rate taken on CreateShipment (negative)
  reprice          Product change moved the cost. Delta = old cost - new cost
  shipment_refund  Last cost given back on DeleteShipment (positive)
  adjustment       Opening balance or manual correction

EXAMPLE:
  plan 2            +160  -> 160
  create shipment     -4  -> 156
  add 4kg product     -4  -> 152  (cost 4 -> 8)
  delete shipment     +8  -> 160
*/
package shipping

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MovementID string

func NewMovementID() MovementID { return MovementID(uuid.NewString()) }

type MovementKind string

const (
	MovementPlanPurchase   MovementKind = "plan_purchase"
	MovementShipmentCharge MovementKind = "shipment_charge"
	MovementReprice        MovementKind = "reprice"
	MovementShipmentRefund MovementKind = "shipment_refund"
	MovementAdjustment     MovementKind = "adjustment"
)

// Movement is one balance change. ShipmentID is empty for plan purchases and
// adjustments. Balance is the owner's amount right after the change.
type Movement struct {
	ID         MovementID
	UserID     UserID
	ShipmentID ShipmentID
	Kind       MovementKind
	Delta      decimal.Decimal
	Balance    decimal.Decimal
	Reason     string
	CreatedAt  time.Time
}

// Replay sums the deltas of movements.
func Replay(movements []Movement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.Delta)
	}
	return total
}
