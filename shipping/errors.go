/*
errors.go - Centralized error types for the shipment credits engine

ERROR CATEGORIES:
  1. Validation errors - Malformed identifier or missing field (no state change)
  2. Not found        - Referenced user/shipment/product absent (no state change)
  3. Business rules   - Quota/credit insufficiency, unknown plan
                        (atomic unit aborted, provisional writes compensated)
  4. Anything else    - Store/connectivity failure, surfaced as unexpected

USAGE:
  Match categories with errors.Is against the sentinels, or pull details
  with errors.As:

    var credErr *shipping.InsufficientCreditError
    if errors.As(err, &credErr) {
        // credErr.Required, credErr.Available, credErr.TotalWeight
    }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package shipping

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed identifiers and missing fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientQuota is returned when the user has no shipments left.
	ErrInsufficientQuota = errors.New("insufficient shipment quota")

	// ErrInsufficientCredit is returned when the balance can't cover a charge.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidPlan is returned for an unknown credit plan id.
	ErrInvalidPlan = errors.New("invalid plan")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing record kind ("user", "shipment", "product").
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InsufficientQuotaError struct {
	UserID    UserID
	Available int
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("insufficient shipment quota: %d available", e.Available)
}

func (e *InsufficientQuotaError) Unwrap() error { return ErrInsufficientQuota }

// InsufficientCreditError reports a charge the balance can't cover.
// Available is the balance after refunding the shipment's previous charge.
// TotalWeight is zero for charges that don't depend on weight (shipment creation).
type InsufficientCreditError struct {
	Required    decimal.Decimal
	Available   decimal.Decimal
	TotalWeight decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: required %s, available %s, total weight %s",
		e.Required, e.Available, e.TotalWeight)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

type InvalidPlanError struct {
	PlanID int
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan %d: choose one of 1, 2 or 3", e.PlanID)
}

func (e *InvalidPlanError) Unwrap() error { return ErrInvalidPlan }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's fault or a
// business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientQuota) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvalidPlan)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func userNotFound(id UserID) error {
	return &NotFoundError{Kind: "user", ID: string(id)}
}

func shipmentNotFound(id ShipmentID) error {
	return &NotFoundError{Kind: "shipment", ID: string(id)}
}

func productNotFound(id ProductID) error {
	return &NotFoundError{Kind: "product", ID: string(id)}
}
