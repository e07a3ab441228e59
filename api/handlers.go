/*
handlers.go - HTTP API handlers for the shipment credits engine

PURPOSE:
  Exposes the shipping workflows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to shipping.Service.

ENDPOINTS:
  Users & credits:
    GET    /api/users                          List users
    POST   /api/users                          Create user
    GET    /api/users/{userId}                 Get user
    GET    /api/users/{userId}/credits         Check credit
    POST   /api/users/{userId}/credits         Buy credits {"plan": 1|2|3}
    GET    /api/users/{userId}/movements       Balance log

  Shipments:
    POST   /api/users/{userId}/shipments       Create shipment
    GET    /api/users/{userId}/shipments       List user's shipments
    GET    /api/shipments/{shipmentId}         Shipment + products
    DELETE /api/shipments/{shipmentId}         Delete shipment, refund cost

  Products:
    POST   /api/shipments/{shipmentId}/products  Add product, re-price
    GET    /api/shipments/{shipmentId}/products  List products
    PUT    /api/products/{productId}             Partial update, re-price
    DELETE /api/products/{productId}             Delete product, re-price

  Catalog & admin:
    GET    /api/plans                          Credit plans
    GET    /api/admin/audit                    Run ledger audit now

REQUEST FLOW:
  1. Parse and validate path identifiers (malformed -> 400)
  2. Decode body
  3. Call the workflow
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with:
  - 400: Validation errors, insufficient quota/credit, invalid plan
  - 404: User, shipment or product not found
  - 500: Internal errors (details logged, not returned)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/shipment-engine/shipping"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *shipping.Service
	Auditor *Auditor
	Metrics *Metrics
	// DB is optional; when set, /healthz pings it.
	DB Pinger
}

func NewHandler(svc *shipping.Service, auditor *Auditor, metrics *Metrics) *Handler {
	return &Handler{Service: svc, Auditor: auditor, Metrics: metrics}
}

// =============================================================================
// USERS & CREDITS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a user with an empty credits block.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.Service.CreateUser(r.Context(), shipping.NewUser{Name: req.Name, Email: req.Email})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	u, err := h.Service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// GetCredits returns the user's credits block.
// GET /api/users/{userId}/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	credits, err := h.Service.CheckCredit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditsResponse{UserID: string(id), Credits: toCreditsDTO(credits)})
}

// BuyCredits replaces the user's credits with a catalog plan.
// POST /api/users/{userId}/credits
func (h *Handler) BuyCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req BuyCreditsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	credits, err := h.Service.BuyCredits(r.Context(), id, req.Plan)
	h.Metrics.ObserveWorkflow("buy_credits", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditsResponse{UserID: string(id), Credits: toCreditsDTO(credits)})
}

// ListMovements returns the user's balance log, oldest first.
// GET /api/users/{userId}/movements
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	movements, err := h.Service.UserMovements(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementsResponse(id, movements))
}

// ListPlans returns the credit plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := shipping.Plans()
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = PlanDTO{ID: p.ID, Amount: num(p.Amount), Shipments: p.Shipments, Cost: num(p.Cost)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHIPMENTS
// =============================================================================

// CreateShipment charges the base rate and consumes one shipment.
// POST /api/users/{userId}/shipments
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req CreateShipmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.Service.CreateShipment(r.Context(), id, req.toNewShipment())
	h.Metrics.ObserveWorkflow("create_shipment", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ShipmentResponse{
		Shipment: toShipmentDTO(receipt.Shipment),
		Credits:  toCreditsDTO(receipt.Credits),
	})
}

// ListUserShipments returns the user's shipments, oldest first.
// GET /api/users/{userId}/shipments
func (h *Handler) ListUserShipments(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	shipments, err := h.Service.UserShipments(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]ShipmentDTO, len(shipments))
	for i, s := range shipments {
		dtos[i] = toShipmentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetShipment returns a shipment with its products.
// GET /api/shipments/{shipmentId}
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentIDParam(w, r)
	if !ok {
		return
	}

	details, err := h.Service.ShipmentDetails(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ShipmentDetailsResponse{
		Shipment: toShipmentDTO(details.Shipment),
		Products: toProductDTOs(details.Products),
	})
}

// DeleteShipment removes a shipment and its products and refunds its cost.
// DELETE /api/shipments/{shipmentId}
func (h *Handler) DeleteShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.Service.DeleteShipment(r.Context(), id)
	h.Metrics.ObserveWorkflow("delete_shipment", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteShipmentResponse{
		ShipmentID:      string(result.ShipmentID),
		Refunded:        num(result.Refunded),
		ProductsRemoved: result.ProductsRemoved,
		Credits:         toCreditsDTO(result.Credits),
	})
}

// =============================================================================
// PRODUCTS
// =============================================================================

// AddProduct adds a product and re-prices the shipment.
// POST /api/shipments/{shipmentId}/products
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentIDParam(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toNewProduct()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	receipt, err := h.Service.AddProduct(r.Context(), id, in)
	h.Metrics.ObserveWorkflow("add_product", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(receipt))
}

// ListShipmentProducts returns the products of a shipment.
// GET /api/shipments/{shipmentId}/products
func (h *Handler) ListShipmentProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentIDParam(w, r)
	if !ok {
		return
	}

	products, err := h.Service.ShipmentProducts(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// UpdateProduct applies a partial update and re-prices on weight change.
// PUT /api/products/{productId}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	receipt, err := h.Service.UpdateProduct(r.Context(), id, patch)
	h.Metrics.ObserveWorkflow("update_product", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(receipt))
}

// DeleteProduct removes a product and re-prices the shipment.
// DELETE /api/products/{productId}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}

	receipt, err := h.Service.DeleteProduct(r.Context(), id)
	h.Metrics.ObserveWorkflow("delete_product", err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(receipt))
}

// =============================================================================
// ADMIN
// =============================================================================

// RunAudit runs the ledger audit immediately and returns its report.
// GET /api/admin/audit
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeError(w, http.StatusNotFound, "auditor not configured", "not_found", nil)
		return
	}

	report, err := h.Auditor.RunNow(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dto := toAuditReportDTO(report)
	if h.Auditor.Enabled {
		dto.NextRun = h.Auditor.NextRunTime().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// Health reports liveness, and store reachability when DB is set.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func userIDParam(w http.ResponseWriter, r *http.Request) (shipping.UserID, bool) {
	id, err := shipping.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		writeValidationError(w, err)
		return "", false
	}
	return id, true
}

func shipmentIDParam(w http.ResponseWriter, r *http.Request) (shipping.ShipmentID, bool) {
	id, err := shipping.ParseShipmentID(chi.URLParam(r, "shipmentId"))
	if err != nil {
		writeValidationError(w, err)
		return "", false
	}
	return id, true
}

func productIDParam(w http.ResponseWriter, r *http.Request) (shipping.ProductID, bool) {
	id, err := shipping.ParseProductID(chi.URLParam(r, "productId"))
	if err != nil {
		writeValidationError(w, err)
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: "validation_error"}
	var vErr *shipping.ValidationError
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// errorCode is the machine-readable code for err, also used as the metrics
// outcome label.
func errorCode(err error) string {
	switch {
	case errors.Is(err, shipping.ErrValidation):
		return "validation_error"
	case errors.Is(err, shipping.ErrNotFound):
		return "not_found"
	case errors.Is(err, shipping.ErrInsufficientQuota):
		return "insufficient_quota"
	case errors.Is(err, shipping.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, shipping.ErrInvalidPlan):
		return "invalid_plan"
	default:
		return "internal_error"
	}
}

// writeServiceError maps a workflow error to its HTTP response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var (
		vErr     *shipping.ValidationError
		quotaErr *shipping.InsufficientQuotaError
		credErr  *shipping.InsufficientCreditError
	)
	switch {
	case errors.As(err, &vErr):
		resp.Field = vErr.Field
	case errors.As(err, &quotaErr):
		available := json.Number(strconv.Itoa(quotaErr.Available))
		required := json.Number("1")
		resp.Available = &available
		resp.Required = &required
	case errors.As(err, &credErr):
		required, available, total := num(credErr.Required), num(credErr.Available), num(credErr.TotalWeight)
		resp.Required = &required
		resp.Available = &available
		resp.TotalWeight = &total
	}

	status := http.StatusBadRequest
	switch code {
	case "not_found":
		status = http.StatusNotFound
	case "internal_error":
		status = http.StatusInternalServerError
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
