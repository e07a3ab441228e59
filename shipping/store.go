/*
store.go - Persistence interface for users, shipments and products

PURPOSE:
  Defines the interface between the workflows and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Point lookups, query-by-foreign-key, and writes for the three
           record kinds, plus the append-only movement log
  TxStore: Store plus WithTx, the atomic unit every workflow runs in

LOOKUP CONTRACT:
  Get* methods return (nil, nil) when the record does not exist. Callers turn
  that into a *NotFoundError; the store never guesses which kind of error the
  caller wants.

ATOMIC UNITS:
  WithTx runs fn against a transactional view of the store. If fn returns an
  error (or panics) every write made through the view is discarded; otherwise
  all of them are committed together. Reads through the view see the view's
  own writes.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - shipping/store/memory.go: In-memory for testing
*/
package shipping

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
	InsertUser(ctx context.Context, u User) error
	// UpdateCredits replaces the user's whole credits block.
	UpdateCredits(ctx context.Context, id UserID, c Credits) error

	// Shipments
	GetShipment(ctx context.Context, id ShipmentID) (*Shipment, error)
	ListShipmentsByUser(ctx context.Context, userID UserID) ([]Shipment, error)
	InsertShipment(ctx context.Context, s Shipment) error
	UpdateShipmentCost(ctx context.Context, id ShipmentID, cost decimal.Decimal) error
	DeleteShipment(ctx context.Context, id ShipmentID) error

	// Products
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProductsByShipment(ctx context.Context, shipmentID ShipmentID) ([]Product, error)
	InsertProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id ProductID) error
	DeleteProductsByShipment(ctx context.Context, shipmentID ShipmentID) error

	// Movements (append-only)
	AppendMovement(ctx context.Context, m Movement) error
	ListMovementsByUser(ctx context.Context, userID UserID) ([]Movement, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
