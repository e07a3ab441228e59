package shipping_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shipment-engine/shipping"
)

func TestAudit_ConsistentAfterWorkflows(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	userID := seedUser(t, mem, "100", 5, "5")

	// Fresh shipment, still at the base rate.
	_, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)

	priced, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, priced.Shipment.ID, testProduct("7"))
	require.NoError(t, err)

	emptied, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)
	p, err := svc.AddProduct(ctx, emptied.Shipment.ID, testProduct("1"))
	require.NoError(t, err)
	_, err = svc.DeleteProduct(ctx, p.Product.ID)
	require.NoError(t, err)

	report, err := shipping.Audit(ctx, mem, time.Now())
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "drift: %+v", report.Drifted)
	assert.Equal(t, 1, report.UsersChecked)
	assert.Equal(t, 3, report.ShipmentsChecked)
}

func TestAudit_ReportsStaleCost(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	userID := seedUser(t, mem, "100", 5, "5")

	receipt, err := svc.CreateShipment(ctx, userID, testShipment())
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, receipt.Shipment.ID, testProduct("4"))
	require.NoError(t, err)

	// New plan, new rate: the existing shipment is priced at the old one.
	_, err = svc.BuyCredits(ctx, userID, 3)
	require.NoError(t, err)

	report, err := shipping.Audit(ctx, mem, time.Now())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)
	d := report.Drifted[0]
	assert.Equal(t, receipt.Shipment.ID, d.ShipmentID)
	assert.True(t, d.Stored.Equal(dec("10")))
	assert.True(t, d.Expected.Equal(dec("6")))

	// Audit never writes.
	requireShipmentCost(t, mem, receipt.Shipment.ID, "10")
}

func TestAudit_ReportsLedgerMismatch(t *testing.T) {
	_, mem := newTestService(t)
	ctx := context.Background()
	userID := seedUser(t, mem, "100", 5, "5")

	// Balance written without a movement.
	u, err := mem.GetUser(ctx, userID)
	require.NoError(t, err)
	credits := u.Credits
	credits.Amount = dec("80")
	require.NoError(t, mem.UpdateCredits(ctx, userID, credits))

	report, err := shipping.Audit(ctx, mem, time.Now())
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	require.Len(t, report.LedgerMismatches, 1)
	m := report.LedgerMismatches[0]
	assert.Equal(t, userID, m.UserID)
	assert.True(t, m.Stored.Equal(dec("80")))
	assert.True(t, m.Replayed.Equal(dec("100")))
}
