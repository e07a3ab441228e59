/*
Package shipping provides the shipment credits engine.

PURPOSE:
  Users hold a prepaid credits block (balance, shipment quota, per-shipment
  base rate). Shipments are charged against that balance, and the charge is
  recomputed from the total weight of the shipment's products every time the
  product set changes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credits:  A user's {amount, shipments, cost} block
  - User:     Owner of credits and shipments
  - Shipment: Charged unit, cost is the last price taken from the owner
  - Product:  Weighted item on a shipment, drives the shipment cost
  - IDs:      Type-safe UUID identifiers

DESIGN PRINCIPLES:
  1. Precision: Money and weight use decimal.Decimal, never float64
  2. Type Safety: Distinct ID types prevent mixing user/shipment/product IDs
  3. Plain Data: Records are plain structs; behaviour lives in free functions
     (pricing.go, reconciler.go) and the Service (service.go)

SEE ALSO:
  - pricing.go: Weight tiers and cost formula
  - reconciler.go: Cost/balance recomputation
  - service.go: Atomic mutation workflows
  - store.go: Persistence contract
*/
package shipping

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ShipmentID string
type ProductID string

// NewUserID returns a fresh random identifier.
func NewUserID() UserID         { return UserID(uuid.NewString()) }
func NewShipmentID() ShipmentID { return ShipmentID(uuid.NewString()) }
func NewProductID() ProductID   { return ProductID(uuid.NewString()) }

// ParseUserID validates raw as a well-formed identifier.
// Malformed input yields a *ValidationError.
func ParseUserID(raw string) (UserID, error) {
	id, err := parseID("user_id", raw)
	return UserID(id), err
}

func ParseShipmentID(raw string) (ShipmentID, error) {
	id, err := parseID("shipment_id", raw)
	return ShipmentID(id), err
}

func ParseProductID(raw string) (ProductID, error) {
	id, err := parseID("product_id", raw)
	return ProductID(id), err
}

func parseID(field, raw string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Field: field, Message: "malformed identifier"}
	}
	return u.String(), nil
}

// =============================================================================
// CREDITS
// =============================================================================

// Credits is a user's prepaid block.
//   - Amount:    monetary balance
//   - Shipments: remaining shipment quota
//   - Cost:      base rate charged per shipment (weight multiplier applies)
type Credits struct {
	Amount    decimal.Decimal
	Shipments int
	Cost      decimal.Decimal
}

// =============================================================================
// RECORDS
// =============================================================================

type User struct {
	ID        UserID
	Name      string
	Email     string
	Credits   Credits
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ShipmentStatus string

const (
	StatusPending   ShipmentStatus = "pending"
	StatusDelivered ShipmentStatus = "delivered"
	StatusCancelled ShipmentStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s ShipmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Shipment belongs to exactly one user. Cost is the amount currently charged
// against the owner's balance for this shipment.
type Shipment struct {
	ID          ShipmentID
	UserID      UserID
	Name        string
	Address     string
	Phone       string
	Ref         string
	Observation string
	Cost        decimal.Decimal
	Status      ShipmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Product struct {
	ID           ProductID
	ShipmentID   ShipmentID
	Description  string
	Weight       decimal.Decimal
	Packages     int
	DeliveryDate time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// WORKFLOW INPUTS
// =============================================================================

// NewUser is the input for creating a user.
type NewUser struct {
	Name  string
	Email string
}

// NewShipment is the input for CreateShipment. Observation is optional.
type NewShipment struct {
	Name        string
	Address     string
	Phone       string
	Ref         string
	Observation string
}

func (n NewShipment) validate() error {
	switch {
	case strings.TrimSpace(n.Name) == "":
		return &ValidationError{Field: "name", Message: "is required"}
	case strings.TrimSpace(n.Address) == "":
		return &ValidationError{Field: "address", Message: "is required"}
	case strings.TrimSpace(n.Phone) == "":
		return &ValidationError{Field: "phone", Message: "is required"}
	case strings.TrimSpace(n.Ref) == "":
		return &ValidationError{Field: "ref", Message: "is required"}
	}
	return nil
}

// NewProduct is the input for AddProduct. Every field is required.
type NewProduct struct {
	Description  string
	Weight       decimal.Decimal
	Packages     int
	DeliveryDate time.Time
}

func (n NewProduct) validate() error {
	switch {
	case strings.TrimSpace(n.Description) == "":
		return &ValidationError{Field: "description", Message: "is required"}
	case !n.Weight.IsPositive():
		return &ValidationError{Field: "weight", Message: "must be greater than zero"}
	case n.Packages <= 0:
		return &ValidationError{Field: "packages", Message: "must be greater than zero"}
	case n.DeliveryDate.IsZero():
		return &ValidationError{Field: "delivery_date", Message: "is required"}
	}
	return nil
}

// ProductPatch is a partial product update. Nil fields keep their value.
type ProductPatch struct {
	Description  *string
	Weight       *decimal.Decimal
	Packages     *int
	DeliveryDate *time.Time
}

func (p ProductPatch) validate() error {
	switch {
	case p.Description != nil && strings.TrimSpace(*p.Description) == "":
		return &ValidationError{Field: "description", Message: "must not be empty"}
	case p.Weight != nil && !p.Weight.IsPositive():
		return &ValidationError{Field: "weight", Message: "must be greater than zero"}
	case p.Packages != nil && *p.Packages <= 0:
		return &ValidationError{Field: "packages", Message: "must be greater than zero"}
	case p.DeliveryDate != nil && p.DeliveryDate.IsZero():
		return &ValidationError{Field: "delivery_date", Message: "must not be empty"}
	}
	return nil
}

// apply copies the supplied fields onto prod and reports whether the weight changed.
func (p ProductPatch) apply(prod *Product) (weightChanged bool) {
	if p.Description != nil {
		prod.Description = *p.Description
	}
	if p.Weight != nil && !p.Weight.Equal(prod.Weight) {
		prod.Weight = *p.Weight
		weightChanged = true
	}
	if p.Packages != nil {
		prod.Packages = *p.Packages
	}
	if p.DeliveryDate != nil {
		prod.DeliveryDate = *p.DeliveryDate
	}
	return weightChanged
}
