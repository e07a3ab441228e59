/*
Package sqlite provides a SQLite-backed implementation of shipping.TxStore.

KEY TABLES:
  users:     Identity + credits block (amount, shipments, cost)
  shipments: Owned by a user, carries the last charged cost
  products:  Owned by a shipment, carries the weight that drives cost
  movements: Append-only balance log. shipment_id has no foreign key so
             entries outlive the shipment they reference.

STORAGE FORMATS:
  Decimals are stored as TEXT (decimal.Decimal.String) so balances never go
  through float64. Timestamps are fixed-width RFC3339 TEXT in UTC.

FOREIGN KEYS:
  shipments.user_id -> users.id and products.shipment_id -> shipments.id are
  enforced (_foreign_keys=on) but NOT cascading: deleting a shipment requires
  deleting its products first, which the workflow does explicitly.

CONCURRENCY:
  WithTx holds the store mutex for the whole unit and opens the SQL
  transaction with BEGIN IMMEDIATE (_txlock=immediate), so two units can
  never interleave their reads and writes. Reads inside the unit go through
  the same *sql.Tx and see its own writes. Plain reads outside a unit go
  straight to the pool; SQLite (WAL) gives them a consistent snapshot.

USAGE:
  store, err := sqlite.New("./data/shipments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := shipping.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - shipping/store.go: Interface definitions
  - shipping/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/shipment-engine/shipping"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements shipping.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var _ shipping.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		credits_amount TEXT NOT NULL DEFAULT '0',
		credits_shipments INTEGER NOT NULL DEFAULT 0,
		credits_cost TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		phone TEXT NOT NULL,
		ref TEXT NOT NULL,
		observation TEXT,
		cost TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'delivered', 'cancelled')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_user
		ON shipments(user_id, created_at);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		shipment_id TEXT NOT NULL REFERENCES shipments(id),
		description TEXT NOT NULL,
		weight TEXT NOT NULL,
		packages INTEGER NOT NULL,
		delivery_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_shipment
		ON products(shipment_id, created_at);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		shipment_id TEXT,
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_user
		ON movements(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Dev/test only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"movements", "products", "shipments", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (shipping.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// The transaction is rolled back if fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(store shipping.Store) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// =============================================================================
// CONN - shipping.Store over a *sql.DB or *sql.Tx
// =============================================================================

type conn struct {
	q querier
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

const userColumns = `id, name, email, credits_amount, credits_shipments, credits_cost, created_at, updated_at`

func (c *conn) GetUser(ctx context.Context, id shipping.UserID) (*shipping.User, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}

func (c *conn) ListUsers(ctx context.Context) ([]shipping.User, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	var users []shipping.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (c *conn) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}

func (c *conn) InsertUser(ctx context.Context, u shipping.User) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, nullString(u.Email),
		u.Credits.Amount.String(), u.Credits.Shipments, u.Credits.Cost.String(),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	return errors.Wrap(err, "insert user")
}

func (c *conn) UpdateCredits(ctx context.Context, id shipping.UserID, cr shipping.Credits) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE users
		SET credits_amount = ?, credits_shipments = ?, credits_cost = ?, updated_at = ?
		WHERE id = ?`,
		cr.Amount.String(), cr.Shipments, cr.Cost.String(), formatTime(time.Now()), id,
	)
	return errors.Wrap(err, "update credits")
}

// -----------------------------------------------------------------------------
// Shipments
// -----------------------------------------------------------------------------

const shipmentColumns = `id, user_id, name, address, phone, ref, observation, cost, status, created_at, updated_at`

func (c *conn) GetShipment(ctx context.Context, id shipping.ShipmentID) (*shipping.Shipment, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+shipmentColumns+" FROM shipments WHERE id = ?", id)
	s, err := scanShipment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get shipment")
	}
	return &s, nil
}

func (c *conn) ListShipmentsByUser(ctx context.Context, userID shipping.UserID) ([]shipping.Shipment, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+shipmentColumns+" FROM shipments WHERE user_id = ? ORDER BY created_at, rowid",
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list shipments")
	}
	defer rows.Close()

	var shipments []shipping.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		shipments = append(shipments, s)
	}
	return shipments, rows.Err()
}

func (c *conn) InsertShipment(ctx context.Context, s shipping.Shipment) error {
	status := s.Status
	if status == "" {
		status = shipping.StatusPending
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Name, s.Address, s.Phone, s.Ref, nullString(s.Observation),
		s.Cost.String(), status, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return errors.Wrap(err, "insert shipment")
}

func (c *conn) UpdateShipmentCost(ctx context.Context, id shipping.ShipmentID, cost decimal.Decimal) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE shipments SET cost = ?, updated_at = ? WHERE id = ?",
		cost.String(), formatTime(time.Now()), id,
	)
	return errors.Wrap(err, "update shipment cost")
}

func (c *conn) DeleteShipment(ctx context.Context, id shipping.ShipmentID) error {
	_, err := c.q.ExecContext(ctx, "DELETE FROM shipments WHERE id = ?", id)
	return errors.Wrap(err, "delete shipment")
}

// -----------------------------------------------------------------------------
// Products
// -----------------------------------------------------------------------------

const productColumns = `id, shipment_id, description, weight, packages, delivery_date, created_at, updated_at`

func (c *conn) GetProduct(ctx context.Context, id shipping.ProductID) (*shipping.Product, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return &p, nil
}

func (c *conn) ListProductsByShipment(ctx context.Context, shipmentID shipping.ShipmentID) ([]shipping.Product, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE shipment_id = ? ORDER BY created_at, rowid",
		shipmentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var products []shipping.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (c *conn) InsertProduct(ctx context.Context, p shipping.Product) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ShipmentID, p.Description, p.Weight.String(), p.Packages,
		formatTime(p.DeliveryDate), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return errors.Wrap(err, "insert product")
}

func (c *conn) UpdateProduct(ctx context.Context, p shipping.Product) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE products
		SET description = ?, weight = ?, packages = ?, delivery_date = ?, updated_at = ?
		WHERE id = ?`,
		p.Description, p.Weight.String(), p.Packages, formatTime(p.DeliveryDate), formatTime(p.UpdatedAt), p.ID,
	)
	return errors.Wrap(err, "update product")
}

func (c *conn) DeleteProduct(ctx context.Context, id shipping.ProductID) error {
	_, err := c.q.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	return errors.Wrap(err, "delete product")
}

func (c *conn) DeleteProductsByShipment(ctx context.Context, shipmentID shipping.ShipmentID) error {
	_, err := c.q.ExecContext(ctx, "DELETE FROM products WHERE shipment_id = ?", shipmentID)
	return errors.Wrap(err, "delete products")
}

// -----------------------------------------------------------------------------
// Movements
// -----------------------------------------------------------------------------

const movementColumns = `id, user_id, shipment_id, kind, delta, balance, reason, created_at`

func (c *conn) AppendMovement(ctx context.Context, m shipping.Movement) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, nullString(string(m.ShipmentID)), m.Kind,
		m.Delta.String(), m.Balance.String(), nullString(m.Reason), formatTime(m.CreatedAt),
	)
	return errors.Wrap(err, "append movement")
}

func (c *conn) ListMovementsByUser(ctx context.Context, userID shipping.UserID) ([]shipping.Movement, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM movements WHERE user_id = ? ORDER BY created_at, rowid",
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list movements")
	}
	defer rows.Close()

	var movements []shipping.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan movement")
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (shipping.User, error) {
	var (
		u                    shipping.User
		email                sql.NullString
		amount, cost         string
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Name, &email, &amount, &u.Credits.Shipments, &cost, &createdAt, &updatedAt)
	if err != nil {
		return u, err
	}
	u.Email = email.String
	if u.Credits.Amount, err = decimal.NewFromString(amount); err != nil {
		return u, errors.Wrapf(err, "user %s credits_amount", u.ID)
	}
	if u.Credits.Cost, err = decimal.NewFromString(cost); err != nil {
		return u, errors.Wrapf(err, "user %s credits_cost", u.ID)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

func scanShipment(row scanner) (shipping.Shipment, error) {
	var (
		s                    shipping.Shipment
		observation          sql.NullString
		cost                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Address, &s.Phone, &s.Ref,
		&observation, &cost, &s.Status, &createdAt, &updatedAt)
	if err != nil {
		return s, err
	}
	s.Observation = observation.String
	if s.Cost, err = decimal.NewFromString(cost); err != nil {
		return s, errors.Wrapf(err, "shipment %s cost", s.ID)
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func scanProduct(row scanner) (shipping.Product, error) {
	var (
		p                                  shipping.Product
		weight                             string
		deliveryDate, createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.ShipmentID, &p.Description, &weight, &p.Packages,
		&deliveryDate, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if p.Weight, err = decimal.NewFromString(weight); err != nil {
		return p, errors.Wrapf(err, "product %s weight", p.ID)
	}
	p.DeliveryDate = parseTime(deliveryDate)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func scanMovement(row scanner) (shipping.Movement, error) {
	var (
		m                  shipping.Movement
		shipmentID, reason sql.NullString
		delta, balance     string
		createdAt          string
	)
	err := row.Scan(&m.ID, &m.UserID, &shipmentID, &m.Kind, &delta, &balance, &reason, &createdAt)
	if err != nil {
		return m, err
	}
	m.ShipmentID = shipping.ShipmentID(shipmentID.String)
	m.Reason = reason.String
	if m.Delta, err = decimal.NewFromString(delta); err != nil {
		return m, errors.Wrapf(err, "movement %s delta", m.ID)
	}
	if m.Balance, err = decimal.NewFromString(balance); err != nil {
		return m, errors.Wrapf(err, "movement %s balance", m.ID)
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
