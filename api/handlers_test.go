/*
handlers_test.go - End-to-end tests for the HTTP API

Tests drive the chi router with httptest against a SQLite :memory: store:
- The credit/shipment/product workflows and their balances
- Status mapping (400 / 404) and the structured rejection payload
- Seeding, audit, health and metrics endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shipment-engine/shipping"
	"github.com/warp/shipment-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	store  *sqlite.Store
	svc    *shipping.Service
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := shipping.NewService(store)
	metrics := NewMetrics()
	auditor := NewAuditor(store, zerolog.Nop(), metrics)
	auditor.Enabled = false
	h := NewHandler(svc, auditor, metrics)
	h.DB = store

	srv := httptest.NewServer(NewRouter(h, RouterOptions{Logger: zerolog.Nop()}))
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, store: store, svc: svc, client: srv.Client()}
}

func (ts *testServer) do(method, path string, body any) (int, []byte) {
	ts.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp.StatusCode, data
}

func (ts *testServer) decode(data []byte, dst any) {
	ts.t.Helper()
	require.NoError(ts.t, json.Unmarshal(data, dst), string(data))
}

// userWithPlan creates a user and buys a plan for them.
func (ts *testServer) userWithPlan(plan int) string {
	ts.t.Helper()
	status, data := ts.do(http.MethodPost, "/api/users", CreateUserRequest{Name: "Ana", Email: "ana@example.com"})
	require.Equal(ts.t, http.StatusCreated, status, string(data))
	var u UserDTO
	ts.decode(data, &u)

	status, data = ts.do(http.MethodPost, "/api/users/"+u.ID+"/credits", BuyCreditsRequest{Plan: plan})
	require.Equal(ts.t, http.StatusOK, status, string(data))
	return u.ID
}

func (ts *testServer) createShipment(userID string) ShipmentResponse {
	ts.t.Helper()
	status, data := ts.do(http.MethodPost, "/api/users/"+userID+"/shipments", CreateShipmentRequest{
		Name: "Order", Address: "1 Main St", Phone: "555-0100", Ref: "REF-1",
	})
	require.Equal(ts.t, http.StatusCreated, status, string(data))
	var resp ShipmentResponse
	ts.decode(data, &resp)
	return resp
}

func productBody(weight string) map[string]any {
	return map[string]any{
		"description":   "box",
		"weight":        json.Number(weight),
		"packages":      1,
		"delivery_date": "2026-03-01",
	}
}

func decimalFrom(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func assertNumber(t *testing.T, want string, got json.Number) {
	t.Helper()
	assert.Equal(t, want, got.String())
}

// =============================================================================
// WORKFLOWS
// =============================================================================

func TestAPI_CreditsAndPlans(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.userWithPlan(2)

	status, data := ts.do(http.MethodGet, "/api/users/"+userID+"/credits", nil)
	require.Equal(t, http.StatusOK, status)
	var credits CreditsResponse
	ts.decode(data, &credits)
	assertNumber(t, "160", credits.Credits.Amount)
	assert.Equal(t, 40, credits.Credits.Shipments)
	assertNumber(t, "4", credits.Credits.Cost)

	status, data = ts.do(http.MethodGet, "/api/plans", nil)
	require.Equal(t, http.StatusOK, status)
	var plans []PlanDTO
	ts.decode(data, &plans)
	require.Len(t, plans, 3)
	assertNumber(t, "4.5", plans[0].Cost)
}

func TestAPI_ShipmentLifecycle(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.userWithPlan(1) // 135 / 30 shipments / 4.5

	created := ts.createShipment(userID)
	assertNumber(t, "4.5", created.Shipment.Cost)
	assertNumber(t, "130.5", created.Credits.Amount)
	assert.Equal(t, 29, created.Credits.Shipments)
	assert.Equal(t, "pending", created.Shipment.Status)

	// 4kg: tier 2.
	status, data := ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", productBody("4"))
	require.Equal(t, http.StatusCreated, status, string(data))
	var added ProductResponse
	ts.decode(data, &added)
	assertNumber(t, "9", added.Shipment.Cost)
	assertNumber(t, "126", added.Credits.Amount)
	assert.Equal(t, 2, added.Reconciliation.Multiplier)
	assert.Equal(t, "2026-03-01", added.Product.DeliveryDate)

	// Partial update: weight to 7kg, tier 3.
	status, data = ts.do(http.MethodPut, "/api/products/"+added.Product.ID, map[string]any{"weight": 7})
	require.Equal(t, http.StatusOK, status, string(data))
	var updated ProductResponse
	ts.decode(data, &updated)
	assertNumber(t, "13.5", updated.Shipment.Cost)
	assertNumber(t, "121.5", updated.Credits.Amount)
	assert.Equal(t, "box", updated.Product.Description)

	status, data = ts.do(http.MethodGet, "/api/shipments/"+created.Shipment.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var details ShipmentDetailsResponse
	ts.decode(data, &details)
	require.Len(t, details.Products, 1)
	assertNumber(t, "7", details.Products[0].Weight)

	status, data = ts.do(http.MethodGet, "/api/shipments/"+created.Shipment.ID+"/products", nil)
	require.Equal(t, http.StatusOK, status)
	var products []ProductDTO
	ts.decode(data, &products)
	assert.Len(t, products, 1)

	status, data = ts.do(http.MethodGet, "/api/users/"+userID+"/shipments", nil)
	require.Equal(t, http.StatusOK, status)
	var shipments []ShipmentDTO
	ts.decode(data, &shipments)
	require.Len(t, shipments, 1)

	// Deleting the product drops the shipment to cost 0.
	status, data = ts.do(http.MethodDelete, "/api/products/"+added.Product.ID, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var removed ProductResponse
	ts.decode(data, &removed)
	assertNumber(t, "0", removed.Shipment.Cost)
	assertNumber(t, "135", removed.Credits.Amount)

	status, data = ts.do(http.MethodDelete, "/api/shipments/"+created.Shipment.ID, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var deleted DeleteShipmentResponse
	ts.decode(data, &deleted)
	assertNumber(t, "0", deleted.Refunded)
	assert.Equal(t, 30, deleted.Credits.Shipments)

	status, _ = ts.do(http.MethodGet, "/api/shipments/"+created.Shipment.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	// Zero-cost deletion refunds nothing, so no refund entry.
	status, data = ts.do(http.MethodGet, "/api/users/"+userID+"/movements", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var log MovementsResponse
	ts.decode(data, &log)
	require.Len(t, log.Movements, 5)
	assert.Equal(t, "plan_purchase", log.Movements[0].Kind)
	assert.Equal(t, "shipment_charge", log.Movements[1].Kind)
	assertNumber(t, "-4.5", log.Movements[1].Delta)
	assert.Equal(t, "reprice", log.Movements[4].Kind)
	assertNumber(t, "13.5", log.Movements[4].Delta)
	assertNumber(t, "135", log.Balance)

	status, _ = ts.do(http.MethodGet, "/api/users/"+uuid.NewString()+"/movements", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_InsufficientCreditPayload(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	u, err := ts.svc.CreateUser(ctx, shipping.NewUser{Name: "Low"})
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateCredits(ctx, u.ID, shipping.Credits{
		Amount: decimalFrom(t, "10"), Shipments: 5, Cost: decimalFrom(t, "5"),
	}))

	created := ts.createShipment(string(u.ID))
	status, data := ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", productBody("4"))
	require.Equal(t, http.StatusCreated, status, string(data))

	status, data = ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", productBody("5"))
	require.Equal(t, http.StatusBadRequest, status)
	var errResp ErrorResponse
	ts.decode(data, &errResp)
	assert.Equal(t, "insufficient_credit", errResp.Code)
	require.NotNil(t, errResp.Required)
	assertNumber(t, "15", *errResp.Required)
	assertNumber(t, "10", *errResp.Available)
	assertNumber(t, "9", *errResp.TotalWeight)

	// Rejected product is gone, balances unchanged.
	status, data = ts.do(http.MethodGet, "/api/shipments/"+created.Shipment.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var details ShipmentDetailsResponse
	ts.decode(data, &details)
	assert.Len(t, details.Products, 1)
	assertNumber(t, "10", details.Shipment.Cost)

	credits, err := ts.svc.CheckCredit(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, credits.Amount.IsZero())
}

func TestAPI_QuotaAndPlanRejections(t *testing.T) {
	ts := newTestServer(t)

	status, data := ts.do(http.MethodPost, "/api/users", CreateUserRequest{Name: "Broke"})
	require.Equal(t, http.StatusCreated, status)
	var u UserDTO
	ts.decode(data, &u)

	status, data = ts.do(http.MethodPost, "/api/users/"+u.ID+"/shipments", CreateShipmentRequest{
		Name: "Order", Address: "1 Main St", Phone: "555", Ref: "R",
	})
	require.Equal(t, http.StatusBadRequest, status)
	var errResp ErrorResponse
	ts.decode(data, &errResp)
	assert.Equal(t, "insufficient_quota", errResp.Code)

	status, data = ts.do(http.MethodPost, "/api/users/"+u.ID+"/credits", BuyCreditsRequest{Plan: 7})
	require.Equal(t, http.StatusBadRequest, status)
	ts.decode(data, &errResp)
	assert.Equal(t, "invalid_plan", errResp.Code)
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestAPI_MalformedIDsAre400(t *testing.T) {
	ts := newTestServer(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/users/not-a-uuid/credits"},
		{http.MethodGet, "/api/shipments/123"},
		{http.MethodDelete, "/api/products/xyz"},
	}
	for _, p := range paths {
		status, data := ts.do(p.method, p.path, nil)
		assert.Equal(t, http.StatusBadRequest, status, p.path)
		var errResp ErrorResponse
		ts.decode(data, &errResp)
		assert.Equal(t, "validation_error", errResp.Code)
	}
}

func TestAPI_MissingEntitiesAre404(t *testing.T) {
	ts := newTestServer(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/users/" + string(shipping.NewUserID()) + "/credits"},
		{http.MethodGet, "/api/users/" + string(shipping.NewUserID()) + "/shipments"},
		{http.MethodGet, "/api/shipments/" + string(shipping.NewShipmentID())},
		{http.MethodDelete, "/api/shipments/" + string(shipping.NewShipmentID())},
		{http.MethodDelete, "/api/products/" + string(shipping.NewProductID())},
	}
	for _, p := range paths {
		status, _ := ts.do(p.method, p.path, nil)
		assert.Equal(t, http.StatusNotFound, status, p.path)
	}
}

func TestAPI_BadBodies(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.userWithPlan(3)
	created := ts.createShipment(userID)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/users/"+userID+"/shipments", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing weight.
	body := productBody("1")
	delete(body, "weight")
	status, data := ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", body)
	require.Equal(t, http.StatusBadRequest, status)
	var errResp ErrorResponse
	ts.decode(data, &errResp)
	assert.Equal(t, "weight", errResp.Field)

	// Unparseable date.
	body = productBody("1")
	body["delivery_date"] = "next tuesday"
	status, data = ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", body)
	require.Equal(t, http.StatusBadRequest, status)
	ts.decode(data, &errResp)
	assert.Equal(t, "delivery_date", errResp.Field)

	// Missing shipment field.
	status, _ = ts.do(http.MethodPost, "/api/users/"+userID+"/shipments", CreateShipmentRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// ADMIN & AMBIENT
// =============================================================================

func TestAPI_AuditEndpoint(t *testing.T) {
	ts := newTestServer(t)
	userID := ts.userWithPlan(2)
	created := ts.createShipment(userID)
	status, _ := ts.do(http.MethodPost, "/api/shipments/"+created.Shipment.ID+"/products", productBody("2"))
	require.Equal(t, http.StatusCreated, status)

	status, data := ts.do(http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, status)
	var report AuditReportDTO
	ts.decode(data, &report)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, report.UsersChecked)
	assert.Equal(t, 1, report.ShipmentsChecked)
	assert.Empty(t, report.Drifted)
	assert.Empty(t, report.LedgerMismatches)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.userWithPlan(1)

	status, data := ts.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"ok"`)

	status, data = ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `shipment_workflow_total{outcome="ok",workflow="buy_credits"} 1`)
	assert.Contains(t, string(data), "shipment_http_request_duration_seconds")
}

func TestSeedDefaultUser(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	svc := shipping.NewService(store)
	ctx := context.Background()

	u, err := SeedDefaultUser(ctx, store, svc, shipping.NewUser{Name: "Default"}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Credits.Amount.IsZero())

	again, err := SeedDefaultUser(ctx, store, svc, shipping.NewUser{Name: "Default"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, again)

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
