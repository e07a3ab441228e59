// Package store provides in-memory shipping.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/shipment-engine/shipping"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	users     map[shipping.UserID]shipping.User
	shipments map[shipping.ShipmentID]shipping.Shipment
	products  map[shipping.ProductID]shipping.Product
	movements []shipping.Movement
	// seq orders records by insertion, like created_at in SQL.
	seq   map[string]int64
	clock int64
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[shipping.UserID]shipping.User),
		shipments: make(map[shipping.ShipmentID]shipping.Shipment),
		products:  make(map[shipping.ProductID]shipping.Product),
		seq:       make(map[string]int64),
	}
}

var _ shipping.TxStore = (*Memory)(nil)

// =============================================================================
// LOCKED ACCESSORS (shipping.Store)
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id shipping.UserID) (*shipping.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getUser(id), nil
}

func (m *Memory) ListUsers(_ context.Context) ([]shipping.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listUsers(), nil
}

func (m *Memory) CountUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) InsertUser(_ context.Context, u shipping.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().insertUser(u)
	return nil
}

func (m *Memory) UpdateCredits(_ context.Context, id shipping.UserID, c shipping.Credits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().updateCredits(id, c)
	return nil
}

func (m *Memory) GetShipment(_ context.Context, id shipping.ShipmentID) (*shipping.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getShipment(id), nil
}

func (m *Memory) ListShipmentsByUser(_ context.Context, userID shipping.UserID) ([]shipping.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listShipments(userID), nil
}

func (m *Memory) InsertShipment(_ context.Context, s shipping.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().insertShipment(s)
	return nil
}

func (m *Memory) UpdateShipmentCost(_ context.Context, id shipping.ShipmentID, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().updateShipmentCost(id, cost)
	return nil
}

func (m *Memory) DeleteShipment(_ context.Context, id shipping.ShipmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().deleteShipment(id)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id shipping.ProductID) (*shipping.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().getProduct(id), nil
}

func (m *Memory) ListProductsByShipment(_ context.Context, shipmentID shipping.ShipmentID) ([]shipping.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listProducts(shipmentID), nil
}

func (m *Memory) InsertProduct(_ context.Context, p shipping.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().insertProduct(p)
	return nil
}

func (m *Memory) UpdateProduct(_ context.Context, p shipping.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().updateProduct(p)
	return nil
}

func (m *Memory) DeleteProduct(_ context.Context, id shipping.ProductID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().deleteProduct(id)
	return nil
}

func (m *Memory) DeleteProductsByShipment(_ context.Context, shipmentID shipping.ShipmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().deleteProductsByShipment(shipmentID)
	return nil
}

func (m *Memory) AppendMovement(_ context.Context, mv shipping.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view().appendMovement(mv)
	return nil
}

func (m *Memory) ListMovementsByUser(_ context.Context, userID shipping.UserID) ([]shipping.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().listMovements(userID), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error or panic. The store lock is
// held for the whole unit, so concurrent units on the same store serialize.
func (m *Memory) WithTx(ctx context.Context, fn func(shipping.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.restore(snapshot)
			panic(p)
		}
		if err != nil {
			m.restore(snapshot)
		}
	}()

	return fn(m.view())
}

type memorySnapshot struct {
	users     map[shipping.UserID]shipping.User
	shipments map[shipping.ShipmentID]shipping.Shipment
	products  map[shipping.ProductID]shipping.Product
	movements int
	seq       map[string]int64
	clock     int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:     make(map[shipping.UserID]shipping.User, len(m.users)),
		shipments: make(map[shipping.ShipmentID]shipping.Shipment, len(m.shipments)),
		products:  make(map[shipping.ProductID]shipping.Product, len(m.products)),
		movements: len(m.movements),
		seq:       make(map[string]int64, len(m.seq)),
		clock:     m.clock,
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.shipments {
		s.shipments[k] = v
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.shipments = s.shipments
	m.products = s.products
	// Append-only, so truncating drops exactly the unit's appends.
	m.movements = m.movements[:s.movements]
	m.seq = s.seq
	m.clock = s.clock
}

// =============================================================================
// UNLOCKED VIEW - caller holds m.mu
// =============================================================================

type memoryView struct {
	m *Memory
}

func (m *Memory) view() *memoryView { return &memoryView{m: m} }

func (v *memoryView) stamp(key string) {
	v.m.clock++
	v.m.seq[key] = v.m.clock
}

func (v *memoryView) getUser(id shipping.UserID) *shipping.User {
	u, ok := v.m.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (v *memoryView) listUsers() []shipping.User {
	out := make([]shipping.User, 0, len(v.m.users))
	for _, u := range v.m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return v.m.seq["u:"+string(out[i].ID)] < v.m.seq["u:"+string(out[j].ID)]
	})
	return out
}

func (v *memoryView) insertUser(u shipping.User) {
	v.m.users[u.ID] = u
	v.stamp("u:" + string(u.ID))
}

func (v *memoryView) updateCredits(id shipping.UserID, c shipping.Credits) {
	u, ok := v.m.users[id]
	if !ok {
		return
	}
	u.Credits = c
	v.m.users[id] = u
}

func (v *memoryView) getShipment(id shipping.ShipmentID) *shipping.Shipment {
	s, ok := v.m.shipments[id]
	if !ok {
		return nil
	}
	return &s
}

func (v *memoryView) listShipments(userID shipping.UserID) []shipping.Shipment {
	var out []shipping.Shipment
	for _, s := range v.m.shipments {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return v.m.seq["s:"+string(out[i].ID)] < v.m.seq["s:"+string(out[j].ID)]
	})
	return out
}

func (v *memoryView) insertShipment(s shipping.Shipment) {
	v.m.shipments[s.ID] = s
	v.stamp("s:" + string(s.ID))
}

func (v *memoryView) updateShipmentCost(id shipping.ShipmentID, cost decimal.Decimal) {
	s, ok := v.m.shipments[id]
	if !ok {
		return
	}
	s.Cost = cost
	v.m.shipments[id] = s
}

func (v *memoryView) deleteShipment(id shipping.ShipmentID) {
	delete(v.m.shipments, id)
	delete(v.m.seq, "s:"+string(id))
}

func (v *memoryView) getProduct(id shipping.ProductID) *shipping.Product {
	p, ok := v.m.products[id]
	if !ok {
		return nil
	}
	return &p
}

func (v *memoryView) listProducts(shipmentID shipping.ShipmentID) []shipping.Product {
	var out []shipping.Product
	for _, p := range v.m.products {
		if p.ShipmentID == shipmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return v.m.seq["p:"+string(out[i].ID)] < v.m.seq["p:"+string(out[j].ID)]
	})
	return out
}

func (v *memoryView) insertProduct(p shipping.Product) {
	v.m.products[p.ID] = p
	v.stamp("p:" + string(p.ID))
}

func (v *memoryView) updateProduct(p shipping.Product) {
	if _, ok := v.m.products[p.ID]; !ok {
		return
	}
	v.m.products[p.ID] = p
}

func (v *memoryView) deleteProduct(id shipping.ProductID) {
	delete(v.m.products, id)
	delete(v.m.seq, "p:"+string(id))
}

func (v *memoryView) deleteProductsByShipment(shipmentID shipping.ShipmentID) {
	for id, p := range v.m.products {
		if p.ShipmentID == shipmentID {
			v.deleteProduct(id)
		}
	}
}

func (v *memoryView) appendMovement(mv shipping.Movement) {
	v.m.movements = append(v.m.movements, mv)
}

func (v *memoryView) listMovements(userID shipping.UserID) []shipping.Movement {
	var out []shipping.Movement
	for _, mv := range v.m.movements {
		if mv.UserID == userID {
			out = append(out, mv)
		}
	}
	return out
}

// The view satisfies shipping.Store for use inside WithTx.

func (v *memoryView) GetUser(_ context.Context, id shipping.UserID) (*shipping.User, error) {
	return v.getUser(id), nil
}

func (v *memoryView) ListUsers(_ context.Context) ([]shipping.User, error) {
	return v.listUsers(), nil
}

func (v *memoryView) CountUsers(_ context.Context) (int, error) {
	return len(v.m.users), nil
}

func (v *memoryView) InsertUser(_ context.Context, u shipping.User) error {
	v.insertUser(u)
	return nil
}

func (v *memoryView) UpdateCredits(_ context.Context, id shipping.UserID, c shipping.Credits) error {
	v.updateCredits(id, c)
	return nil
}

func (v *memoryView) GetShipment(_ context.Context, id shipping.ShipmentID) (*shipping.Shipment, error) {
	return v.getShipment(id), nil
}

func (v *memoryView) ListShipmentsByUser(_ context.Context, userID shipping.UserID) ([]shipping.Shipment, error) {
	return v.listShipments(userID), nil
}

func (v *memoryView) InsertShipment(_ context.Context, s shipping.Shipment) error {
	v.insertShipment(s)
	return nil
}

func (v *memoryView) UpdateShipmentCost(_ context.Context, id shipping.ShipmentID, cost decimal.Decimal) error {
	v.updateShipmentCost(id, cost)
	return nil
}

func (v *memoryView) DeleteShipment(_ context.Context, id shipping.ShipmentID) error {
	v.deleteShipment(id)
	return nil
}

func (v *memoryView) GetProduct(_ context.Context, id shipping.ProductID) (*shipping.Product, error) {
	return v.getProduct(id), nil
}

func (v *memoryView) ListProductsByShipment(_ context.Context, shipmentID shipping.ShipmentID) ([]shipping.Product, error) {
	return v.listProducts(shipmentID), nil
}

func (v *memoryView) InsertProduct(_ context.Context, p shipping.Product) error {
	v.insertProduct(p)
	return nil
}

func (v *memoryView) UpdateProduct(_ context.Context, p shipping.Product) error {
	v.updateProduct(p)
	return nil
}

func (v *memoryView) DeleteProduct(_ context.Context, id shipping.ProductID) error {
	v.deleteProduct(id)
	return nil
}

func (v *memoryView) DeleteProductsByShipment(_ context.Context, shipmentID shipping.ShipmentID) error {
	v.deleteProductsByShipment(shipmentID)
	return nil
}

func (v *memoryView) AppendMovement(_ context.Context, mv shipping.Movement) error {
	v.appendMovement(mv)
	return nil
}

func (v *memoryView) ListMovementsByUser(_ context.Context, userID shipping.UserID) ([]shipping.Movement, error) {
	return v.listMovements(userID), nil
}
