package shipping

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Drift is a shipment whose stored cost disagrees with the price of its
// current product set under the owner's current rate.
type Drift struct {
	ShipmentID  ShipmentID
	UserID      UserID
	TotalWeight decimal.Decimal
	Stored      decimal.Decimal
	Expected    decimal.Decimal
}

// AuditReport is the result of one Audit pass.
type AuditReport struct {
	RanAt            time.Time
	UsersChecked     int
	ShipmentsChecked int
	Drifted          []Drift
	// NegativeBalances lists users whose amount went below zero.
	NegativeBalances []UserID
	// LedgerMismatches lists users whose movements don't sum to their amount.
	LedgerMismatches []LedgerMismatch
}

// LedgerMismatch is a user whose replayed movement log disagrees with the
// stored balance.
type LedgerMismatch struct {
	UserID   UserID
	Stored   decimal.Decimal
	Replayed decimal.Decimal
}

// Consistent reports whether the audit found nothing to flag.
func (r AuditReport) Consistent() bool {
	return len(r.Drifted) == 0 && len(r.NegativeBalances) == 0 && len(r.LedgerMismatches) == 0
}

// Audit walks users, shipments and products and reports drift. It also
// replays each user's movement log against the stored balance. It never
// writes.
//
// A shipment without products is consistent at 0 (all products removed) or
// at the owner's rate (freshly created, nothing added yet). Buying a new plan
// changes the rate without re-pricing existing shipments, so such shipments
// show up here until their product set next changes.
func Audit(ctx context.Context, store Store, now time.Time) (AuditReport, error) {
	report := AuditReport{RanAt: now}

	users, err := store.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		report.UsersChecked++
		if u.Credits.Amount.IsNegative() {
			report.NegativeBalances = append(report.NegativeBalances, u.ID)
		}

		movements, err := store.ListMovementsByUser(ctx, u.ID)
		if err != nil {
			return report, fmt.Errorf("list movements of %s: %w", u.ID, err)
		}
		if replayed := Replay(movements); !replayed.Equal(u.Credits.Amount) {
			report.LedgerMismatches = append(report.LedgerMismatches, LedgerMismatch{
				UserID: u.ID, Stored: u.Credits.Amount, Replayed: replayed,
			})
		}

		shipments, err := store.ListShipmentsByUser(ctx, u.ID)
		if err != nil {
			return report, fmt.Errorf("list shipments of %s: %w", u.ID, err)
		}
		for _, s := range shipments {
			report.ShipmentsChecked++

			products, err := store.ListProductsByShipment(ctx, s.ID)
			if err != nil {
				return report, fmt.Errorf("list products of %s: %w", s.ID, err)
			}
			total := TotalWeight(products)

			if len(products) == 0 {
				if s.Cost.IsZero() || s.Cost.Equal(u.Credits.Cost) {
					continue
				}
				report.Drifted = append(report.Drifted, Drift{
					ShipmentID: s.ID, UserID: u.ID, TotalWeight: total,
					Stored: s.Cost, Expected: decimal.Zero,
				})
				continue
			}

			expected := Cost(u.Credits.Cost, total)
			if !s.Cost.Equal(expected) {
				report.Drifted = append(report.Drifted, Drift{
					ShipmentID: s.ID, UserID: u.ID, TotalWeight: total,
					Stored: s.Cost, Expected: expected,
				})
			}
		}
	}
	return report, nil
}
