package inventory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryPlacement is an in-process PlacementClient. It backs deployments
// that run without an external placement service and the test suite.
type MemoryPlacement struct {
	mu          sync.Mutex
	providers   map[uuid.UUID]string
	inventories map[uuid.UUID]Record
	aggregates  map[uuid.UUID]string
	hosts       map[uuid.UUID][]string

	// failNext, when non-nil, is returned by the next mutating call.
	failNext error
	// failNextUpdate, when non-nil, is returned by the next
	// UpdateInventory call only.
	failNextUpdate error
}

// NewMemoryPlacement creates an empty in-process placement store.
func NewMemoryPlacement() *MemoryPlacement {
	return &MemoryPlacement{
		providers:   make(map[uuid.UUID]string),
		inventories: make(map[uuid.UUID]Record),
		aggregates:  make(map[uuid.UUID]string),
		hosts:       make(map[uuid.UUID][]string),
	}
}

// FailNext makes the next mutating call return err. Test hook.
func (m *MemoryPlacement) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// FailNextUpdate makes the next UpdateInventory call return err. Test hook.
func (m *MemoryPlacement) FailNextUpdate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextUpdate = err
}

func (m *MemoryPlacement) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// EnsureResourceProvider creates the provider if missing.
func (m *MemoryPlacement) EnsureResourceProvider(_ context.Context, segmentID uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.providers[segmentID] = name
	return nil
}

// GetInventory returns the stored inventory record, if any.
func (m *MemoryPlacement) GetInventory(_ context.Context, segmentID uuid.UUID) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.inventories[segmentID]
	return rec, ok, nil
}

// UpdateInventory upserts the inventory record with generation checking.
func (m *MemoryPlacement) UpdateInventory(_ context.Context, segmentID uuid.UUID, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := m.failNextUpdate; err != nil {
		m.failNextUpdate = nil
		return err
	}
	if _, ok := m.providers[segmentID]; !ok {
		return ErrProviderNotFound
	}
	if current, ok := m.inventories[segmentID]; ok && current.Generation != rec.Generation {
		return ErrGenerationConflict
	}
	rec.Generation++
	m.inventories[segmentID] = rec
	return nil
}

// DeleteInventory removes the inventory record. No-op when absent.
func (m *MemoryPlacement) DeleteInventory(_ context.Context, segmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	delete(m.inventories, segmentID)
	return nil
}

// EnsureAggregate creates the aggregate if missing.
func (m *MemoryPlacement) EnsureAggregate(_ context.Context, segmentID uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.aggregates[segmentID] = name
	return nil
}

// SetAggregateHosts replaces the aggregate's host set.
func (m *MemoryPlacement) SetAggregateHosts(_ context.Context, segmentID uuid.UUID, hosts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.hosts[segmentID] = append([]string(nil), hosts...)
	return nil
}

// Inventory returns a copy of the stored record for assertions.
func (m *MemoryPlacement) Inventory(segmentID uuid.UUID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.inventories[segmentID]
	return rec, ok
}

// AggregateHosts returns a copy of the aggregate's host set.
func (m *MemoryPlacement) AggregateHosts(segmentID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hosts[segmentID]...)
}

// AggregateName returns the aggregate's name, if created.
func (m *MemoryPlacement) AggregateName(segmentID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.aggregates[segmentID]
	return name, ok
}
