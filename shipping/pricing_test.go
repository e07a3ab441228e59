package shipping_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shipment-engine/shipping"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMultiplier_TierBoundaries(t *testing.T) {
	tests := []struct {
		weight string
		want   int
	}{
		{"0", 1},
		{"0.5", 1},
		{"3", 1},
		{"3.01", 2},
		{"6", 2},
		{"6.01", 3},
		{"100", 3},
	}
	for _, tt := range tests {
		t.Run(tt.weight, func(t *testing.T) {
			assert.Equal(t, tt.want, shipping.Multiplier(dec(tt.weight)))
		})
	}
}

func TestCost_AppliesMultiplierToBaseRate(t *testing.T) {
	assert.True(t, shipping.Cost(dec("5"), dec("2")).Equal(dec("5")))
	assert.True(t, shipping.Cost(dec("5"), dec("4")).Equal(dec("10")))
	assert.True(t, shipping.Cost(dec("4.5"), dec("9")).Equal(dec("13.5")))
}

func TestTotalWeight(t *testing.T) {
	products := []shipping.Product{
		{Weight: dec("1.25")},
		{Weight: dec("2.5")},
		{Weight: dec("0.25")},
	}
	assert.True(t, shipping.TotalWeight(products).Equal(dec("4")))
	assert.True(t, shipping.TotalWeight(nil).IsZero())
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_RefundsOldCostBeforeCharging(t *testing.T) {
	shipment := shipping.Shipment{Cost: dec("5")}
	credits := shipping.Credits{Amount: dec("5"), Shipments: 4, Cost: dec("5")}

	rec, err := shipping.Reconcile(shipment, credits, dec("4"))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Multiplier)
	assert.True(t, rec.OldCost.Equal(dec("5")))
	assert.True(t, rec.NewCost.Equal(dec("10")))
	assert.True(t, rec.Balance.IsZero(), "balance = 5 + 5 - 10")
	assert.True(t, rec.Changed())
}

func TestReconcile_InsufficientReportsRefundedBalance(t *testing.T) {
	shipment := shipping.Shipment{Cost: dec("10")}
	credits := shipping.Credits{Amount: dec("0"), Shipments: 4, Cost: dec("5")}

	_, err := shipping.Reconcile(shipment, credits, dec("9"))
	require.ErrorIs(t, err, shipping.ErrInsufficientCredit)

	var credErr *shipping.InsufficientCreditError
	require.ErrorAs(t, err, &credErr)
	assert.True(t, credErr.Required.Equal(dec("15")))
	assert.True(t, credErr.Available.Equal(dec("10")))
	assert.True(t, credErr.TotalWeight.Equal(dec("9")))
}

func TestReconcile_EmptyProductSetCostsNothing(t *testing.T) {
	shipment := shipping.Shipment{Cost: dec("10")}
	credits := shipping.Credits{Amount: dec("1"), Cost: dec("5")}

	rec, err := shipping.Reconcile(shipment, credits, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, rec.NewCost.IsZero())
	assert.True(t, rec.Balance.Equal(dec("11")))
}

func TestReconcile_SameTierIsNoChange(t *testing.T) {
	shipment := shipping.Shipment{Cost: dec("5")}
	credits := shipping.Credits{Amount: dec("0"), Cost: dec("5")}

	rec, err := shipping.Reconcile(shipment, credits, dec("2"))
	require.NoError(t, err)
	assert.False(t, rec.Changed())
	assert.True(t, rec.Balance.IsZero())
}

// =============================================================================
// PLANS
// =============================================================================

func TestLookupPlan(t *testing.T) {
	p, err := shipping.LookupPlan(2)
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(dec("160")))
	assert.Equal(t, 40, p.Shipments)
	assert.True(t, p.Cost.Equal(dec("4")))

	p, err = shipping.LookupPlan(1)
	require.NoError(t, err)
	assert.True(t, p.Cost.Equal(dec("4.5")))

	p, err = shipping.LookupPlan(3)
	require.NoError(t, err)
	assert.True(t, p.Cost.Equal(dec("3")))

	_, err = shipping.LookupPlan(4)
	assert.ErrorIs(t, err, shipping.ErrInvalidPlan)
	assert.True(t, shipping.IsClientError(err))
}

func TestPlans_OrderedByID(t *testing.T) {
	plans := shipping.Plans()
	require.Len(t, plans, 3)
	for i, p := range plans {
		assert.Equal(t, i+1, p.ID)
	}
}

func TestParseIDs(t *testing.T) {
	id := shipping.NewShipmentID()
	parsed, err := shipping.ParseShipmentID(" " + string(id) + " ")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = shipping.ParseUserID("abc")
	var vErr *shipping.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "user_id", vErr.Field)

	_, err = shipping.ParseProductID("")
	assert.ErrorIs(t, err, shipping.ErrValidation)
}
