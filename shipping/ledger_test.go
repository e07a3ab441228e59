package shipping_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shipment-engine/shipping"
)

func TestReplay(t *testing.T) {
	assert.True(t, shipping.Replay(nil).IsZero())

	movements := []shipping.Movement{
		{Delta: dec("135")},
		{Delta: dec("-4.5")},
		{Delta: dec("-4.5")},
		{Delta: dec("9")},
	}
	assert.True(t, shipping.Replay(movements).Equal(dec("135")))
}

func TestUserMovements_FollowWorkflows(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	userID := seedUser(t, mem, "10", 5, "5")

	receipt, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, receipt.Shipment.ID, testProduct("4"))
	require.NoError(t, err)

	// Rejected: leaves no trace in the log.
	_, err = svc.AddProduct(ctx, receipt.Shipment.ID, testProduct("5"))
	require.ErrorIs(t, err, shipping.ErrInsufficientCredit)

	_, err = svc.DeleteShipment(ctx, receipt.Shipment.ID)
	require.NoError(t, err)
	_, err = svc.BuyCredits(ctx, userID, 2)
	require.NoError(t, err)

	movements, err := svc.UserMovements(ctx, userID)
	require.NoError(t, err)
	require.Len(t, movements, 5)

	want := []struct {
		kind    shipping.MovementKind
		delta   string
		balance string
	}{
		{shipping.MovementAdjustment, "10", "10"},
		{shipping.MovementShipmentCharge, "-5", "5"},
		{shipping.MovementReprice, "-5", "0"},
		{shipping.MovementShipmentRefund, "10", "10"},
		{shipping.MovementPlanPurchase, "150", "160"},
	}
	for i, w := range want {
		m := movements[i]
		assert.Equal(t, w.kind, m.Kind, "movement %d", i)
		assert.True(t, m.Delta.Equal(dec(w.delta)), "movement %d delta %s", i, m.Delta)
		assert.True(t, m.Balance.Equal(dec(w.balance)), "movement %d balance %s", i, m.Balance)
		assert.NotEmpty(t, m.ID)
	}
	assert.Equal(t, receipt.Shipment.ID, movements[1].ShipmentID)
	assert.Equal(t, receipt.Shipment.ID, movements[3].ShipmentID)
	assert.Empty(t, movements[4].ShipmentID)
	assert.Equal(t, "plan 2", movements[4].Reason)

	assert.True(t, shipping.Replay(movements).Equal(dec("160")))
	requireCredits(t, mem, userID, "160", 40)
}

func TestUserMovements_UnchangedCostRecordsNothing(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	userID := seedUser(t, mem, "100", 5, "5")

	receipt, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)
	// Tier 1 keeps the base rate, so the cost does not move.
	_, err = svc.AddProduct(ctx, receipt.Shipment.ID, testProduct("2"))
	require.NoError(t, err)

	movements, err := svc.UserMovements(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, movements, 2)
}

func TestUserMovements_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UserMovements(context.Background(), shipping.NewUserID())
	require.ErrorIs(t, err, shipping.ErrNotFound)
}
