/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the shipping domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

NUMBERS:
  Money and weight leave the server as JSON numbers rendered from the
  decimal value (json.Number), never through float64. Requests accept
  numbers or numeric strings.

DATES:
  delivery_date accepts RFC3339 or YYYY-MM-DD and is returned as YYYY-MM-DD.

VALIDATION:
  Field presence checks live in the shipping package. Handlers only decode
  and convert.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/shipment-engine/shipping"
)

const dateLayout = "2006-01-02"

func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// =============================================================================
// USERS & CREDITS
// =============================================================================

type CreditsDTO struct {
	Amount    json.Number `json:"amount"`
	Shipments int         `json:"shipments"`
	Cost      json.Number `json:"cost"`
}

func toCreditsDTO(c shipping.Credits) CreditsDTO {
	return CreditsDTO{Amount: num(c.Amount), Shipments: c.Shipments, Cost: num(c.Cost)}
}

type UserDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Credits   CreditsDTO `json:"credits"`
	CreatedAt string     `json:"created_at"`
}

func toUserDTO(u shipping.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Credits:   toCreditsDTO(u.Credits),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// BuyCreditsRequest selects a plan from the catalog.
type BuyCreditsRequest struct {
	Plan int `json:"plan"`
}

type PlanDTO struct {
	ID        int         `json:"id"`
	Amount    json.Number `json:"amount"`
	Shipments int         `json:"shipments"`
	Cost      json.Number `json:"cost"`
}

type CreditsResponse struct {
	UserID  string     `json:"user_id"`
	Credits CreditsDTO `json:"credits"`
}

// =============================================================================
// SHIPMENTS
// =============================================================================

type MovementDTO struct {
	ID         string      `json:"id"`
	ShipmentID string      `json:"shipment_id,omitempty"`
	Kind       string      `json:"kind"`
	Delta      json.Number `json:"delta"`
	Balance    json.Number `json:"balance"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  string      `json:"created_at"`
}

// MovementsResponse is the balance log of one user. Sum of deltas equals
// the current amount.
type MovementsResponse struct {
	UserID    string        `json:"user_id"`
	Balance   json.Number   `json:"balance"`
	Movements []MovementDTO `json:"movements"`
}

func toMovementsResponse(id shipping.UserID, movements []shipping.Movement) MovementsResponse {
	resp := MovementsResponse{
		UserID:    string(id),
		Balance:   num(shipping.Replay(movements)),
		Movements: make([]MovementDTO, len(movements)),
	}
	for i, m := range movements {
		resp.Movements[i] = MovementDTO{
			ID:         string(m.ID),
			ShipmentID: string(m.ShipmentID),
			Kind:       string(m.Kind),
			Delta:      num(m.Delta),
			Balance:    num(m.Balance),
			Reason:     m.Reason,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return resp
}

type ShipmentDTO struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	Address     string      `json:"address"`
	Phone       string      `json:"phone"`
	Ref         string      `json:"ref"`
	Observation string      `json:"observation,omitempty"`
	Cost        json.Number `json:"cost"`
	Status      string      `json:"status"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

func toShipmentDTO(s shipping.Shipment) ShipmentDTO {
	return ShipmentDTO{
		ID:          string(s.ID),
		UserID:      string(s.UserID),
		Name:        s.Name,
		Address:     s.Address,
		Phone:       s.Phone,
		Ref:         s.Ref,
		Observation: s.Observation,
		Cost:        num(s.Cost),
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

type CreateShipmentRequest struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	Ref         string `json:"ref"`
	Observation string `json:"observation"`
}

func (r CreateShipmentRequest) toNewShipment() shipping.NewShipment {
	return shipping.NewShipment{
		Name:        r.Name,
		Address:     r.Address,
		Phone:       r.Phone,
		Ref:         r.Ref,
		Observation: r.Observation,
	}
}

// ShipmentResponse is returned by create shipment.
type ShipmentResponse struct {
	Shipment ShipmentDTO `json:"shipment"`
	Credits  CreditsDTO  `json:"credits"`
}

// ShipmentDetailsResponse is a shipment with its products.
type ShipmentDetailsResponse struct {
	Shipment ShipmentDTO  `json:"shipment"`
	Products []ProductDTO `json:"products"`
}

type DeleteShipmentResponse struct {
	ShipmentID      string      `json:"shipment_id"`
	Refunded        json.Number `json:"refunded"`
	ProductsRemoved int         `json:"products_removed"`
	Credits         CreditsDTO  `json:"credits"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductDTO struct {
	ID           string      `json:"id"`
	ShipmentID   string      `json:"shipment_id"`
	Description  string      `json:"description"`
	Weight       json.Number `json:"weight"`
	Packages     int         `json:"packages"`
	DeliveryDate string      `json:"delivery_date"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
}

func toProductDTO(p shipping.Product) ProductDTO {
	return ProductDTO{
		ID:           string(p.ID),
		ShipmentID:   string(p.ShipmentID),
		Description:  p.Description,
		Weight:       num(p.Weight),
		Packages:     p.Packages,
		DeliveryDate: p.DeliveryDate.Format(dateLayout),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.Format(time.RFC3339),
	}
}

func toProductDTOs(products []shipping.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

// ProductRequest is the body of add product. For update product every field
// is optional.
type ProductRequest struct {
	Description  *string          `json:"description"`
	Weight       *decimal.Decimal `json:"weight"`
	Packages     *int             `json:"packages"`
	DeliveryDate *string          `json:"delivery_date"`
}

func (r ProductRequest) toNewProduct() (shipping.NewProduct, error) {
	var in shipping.NewProduct
	if r.Description != nil {
		in.Description = *r.Description
	}
	if r.Weight != nil {
		in.Weight = *r.Weight
	}
	if r.Packages != nil {
		in.Packages = *r.Packages
	}
	if r.DeliveryDate != nil {
		d, err := parseDate(*r.DeliveryDate)
		if err != nil {
			return in, err
		}
		in.DeliveryDate = d
	}
	return in, nil
}

func (r ProductRequest) toPatch() (shipping.ProductPatch, error) {
	patch := shipping.ProductPatch{
		Description: r.Description,
		Weight:      r.Weight,
		Packages:    r.Packages,
	}
	if r.DeliveryDate != nil {
		d, err := parseDate(*r.DeliveryDate)
		if err != nil {
			return patch, err
		}
		patch.DeliveryDate = &d
	}
	return patch, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &shipping.ValidationError{
			Field:   "delivery_date",
			Message: "use YYYY-MM-DD or RFC3339",
		}
	}
	return t, nil
}

// ProductResponse is returned by the product mutations with the re-priced
// shipment and the owner's balances after the change.
type ProductResponse struct {
	Product        ProductDTO        `json:"product"`
	Shipment       ShipmentDTO       `json:"shipment"`
	Reconciliation ReconciliationDTO `json:"reconciliation"`
	Credits        CreditsDTO        `json:"credits"`
}

type ReconciliationDTO struct {
	TotalWeight json.Number `json:"total_weight"`
	Multiplier  int         `json:"multiplier"`
	OldCost     json.Number `json:"old_cost"`
	NewCost     json.Number `json:"new_cost"`
}

func toProductResponse(r shipping.ProductReceipt) ProductResponse {
	return ProductResponse{
		Product:  toProductDTO(r.Product),
		Shipment: toShipmentDTO(r.Shipment),
		Reconciliation: ReconciliationDTO{
			TotalWeight: num(r.Reconciliation.TotalWeight),
			Multiplier:  r.Reconciliation.Multiplier,
			OldCost:     num(r.Reconciliation.OldCost),
			NewCost:     num(r.Reconciliation.NewCost),
		},
		Credits: toCreditsDTO(r.Credits),
	}
}

// =============================================================================
// ERRORS & ADMIN
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Required, Available
// and TotalWeight are set for insufficient-credit rejections.
type ErrorResponse struct {
	Error       string       `json:"error"`
	Code        string       `json:"code"`
	Details     string       `json:"details,omitempty"`
	Field       string       `json:"field,omitempty"`
	Required    *json.Number `json:"required,omitempty"`
	Available   *json.Number `json:"available,omitempty"`
	TotalWeight *json.Number `json:"total_weight,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type DriftDTO struct {
	ShipmentID   string      `json:"shipment_id"`
	UserID       string      `json:"user_id"`
	TotalWeight  json.Number `json:"total_weight"`
	StoredCost   json.Number `json:"stored_cost"`
	ExpectedCost json.Number `json:"expected_cost"`
}

type AuditReportDTO struct {
	RanAt            string              `json:"ran_at"`
	UsersChecked     int                 `json:"users_checked"`
	ShipmentsChecked int                 `json:"shipments_checked"`
	Consistent       bool                `json:"consistent"`
	Drifted          []DriftDTO          `json:"drifted"`
	NegativeBalances []string            `json:"negative_balances"`
	LedgerMismatches []LedgerMismatchDTO `json:"ledger_mismatches"`
	NextRun          string              `json:"next_run,omitempty"`
}

type LedgerMismatchDTO struct {
	UserID   string      `json:"user_id"`
	Stored   json.Number `json:"stored_balance"`
	Replayed json.Number `json:"replayed_balance"`
}

func toAuditReportDTO(r shipping.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		RanAt:            r.RanAt.Format(time.RFC3339),
		UsersChecked:     r.UsersChecked,
		ShipmentsChecked: r.ShipmentsChecked,
		Consistent:       r.Consistent(),
		Drifted:          make([]DriftDTO, len(r.Drifted)),
		NegativeBalances: make([]string, len(r.NegativeBalances)),
		LedgerMismatches: make([]LedgerMismatchDTO, len(r.LedgerMismatches)),
	}
	for i, d := range r.Drifted {
		dto.Drifted[i] = DriftDTO{
			ShipmentID:   string(d.ShipmentID),
			UserID:       string(d.UserID),
			TotalWeight:  num(d.TotalWeight),
			StoredCost:   num(d.Stored),
			ExpectedCost: num(d.Expected),
		}
	}
	for i, id := range r.NegativeBalances {
		dto.NegativeBalances[i] = string(id)
	}
	for i, m := range r.LedgerMismatches {
		dto.LedgerMismatches[i] = LedgerMismatchDTO{
			UserID:   string(m.UserID),
			Stored:   num(m.Stored),
			Replayed: num(m.Replayed),
		}
	}
	return dto
}
