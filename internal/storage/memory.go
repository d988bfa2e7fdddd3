package storage

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// MemoryStore is an in-memory implementation for quick start and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	networks map[uuid.UUID]domain.Network
	segments map[uuid.UUID]domain.Segment
	subnets  map[uuid.UUID]domain.Subnet
	ports    map[uuid.UUID]domain.Port
	// allocations keyed by subnet, then address
	allocations map[uuid.UUID]map[netip.Addr]domain.Allocation
	// hostSegments keyed by host name
	hostSegments map[string]map[uuid.UUID]bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		networks:     make(map[uuid.UUID]domain.Network),
		segments:     make(map[uuid.UUID]domain.Segment),
		subnets:      make(map[uuid.UUID]domain.Subnet),
		ports:        make(map[uuid.UUID]domain.Port),
		allocations:  make(map[uuid.UUID]map[netip.Addr]domain.Allocation),
		hostSegments: make(map[string]map[uuid.UUID]bool),
	}
}

func (m *MemoryStore) CreateNetwork(ctx context.Context, n domain.Network) error {
	if n.ID == uuid.Nil {
		return fmt.Errorf("network id required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[n.ID]; ok {
		return fmt.Errorf("network %s exists: %w", n.ID, ErrConflict)
	}
	m.networks[n.ID] = n
	return nil
}

func (m *MemoryStore) GetNetwork(ctx context.Context, id uuid.UUID) (domain.Network, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[id]
	return n, ok, nil
}

func (m *MemoryStore) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Network, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n)
	}
	sortByCreation(out, func(n domain.Network) (int64, string) { return n.CreatedAt.UnixNano(), n.ID.String() })
	return out, nil
}

func (m *MemoryStore) UpdateNetworkRouted(ctx context.Context, id uuid.UUID, routed bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[id]
	if !ok {
		return false, nil
	}
	n.Routed = routed
	m.networks[id] = n
	return true, nil
}

func (m *MemoryStore) DeleteNetwork(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[id]; !ok {
		return false, nil
	}
	for _, s := range m.segments {
		if s.NetworkID == id {
			return false, fmt.Errorf("network %s has segments: %w", id, ErrConflict)
		}
	}
	for _, s := range m.subnets {
		if s.NetworkID == id {
			return false, fmt.Errorf("network %s has subnets: %w", id, ErrConflict)
		}
	}
	delete(m.networks, id)
	return true, nil
}

func (m *MemoryStore) CreateSegment(ctx context.Context, s domain.Segment) error {
	if s.ID == uuid.Nil || s.NetworkID == uuid.Nil {
		return fmt.Errorf("segment and network ids required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[s.NetworkID]; !ok {
		return fmt.Errorf("network %s: %w", s.NetworkID, ErrNotFound)
	}
	if _, ok := m.segments[s.ID]; ok {
		return fmt.Errorf("segment %s exists: %w", s.ID, ErrConflict)
	}
	for _, existing := range m.segments {
		if existing.NetworkID == s.NetworkID && existing.PhysicalNetwork == s.PhysicalNetwork {
			return fmt.Errorf("physical network %q in use on network %s: %w",
				s.PhysicalNetwork, s.NetworkID, ErrConflict)
		}
	}
	m.segments[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSegment(ctx context.Context, id uuid.UUID) (domain.Segment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[id]
	return s, ok, nil
}

func (m *MemoryStore) ListSegments(ctx context.Context, networkID uuid.UUID) ([]domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Segment
	for _, s := range m.segments {
		if s.NetworkID == networkID {
			out = append(out, s)
		}
	}
	sortByCreation(out, func(s domain.Segment) (int64, string) { return s.CreatedAt.UnixNano(), s.ID.String() })
	return out, nil
}

func (m *MemoryStore) DeleteSegment(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return false, nil
	}
	for _, s := range m.subnets {
		if s.SegmentID != nil && *s.SegmentID == id {
			return false, fmt.Errorf("segment %s has subnets: %w", id, ErrConflict)
		}
	}
	delete(m.segments, id)
	for host, segs := range m.hostSegments {
		delete(segs, id)
		if len(segs) == 0 {
			delete(m.hostSegments, host)
		}
	}
	return true, nil
}

func (m *MemoryStore) CreateSubnet(ctx context.Context, s domain.Subnet) error {
	if s.ID == uuid.Nil || s.NetworkID == uuid.Nil {
		return fmt.Errorf("subnet and network ids required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[s.NetworkID]; !ok {
		return fmt.Errorf("network %s: %w", s.NetworkID, ErrNotFound)
	}
	if _, ok := m.subnets[s.ID]; ok {
		return fmt.Errorf("subnet %s exists: %w", s.ID, ErrConflict)
	}
	m.subnets[s.ID] = cloneSubnet(s)
	return nil
}

func (m *MemoryStore) GetSubnet(ctx context.Context, id uuid.UUID) (domain.Subnet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subnets[id]
	if !ok {
		return domain.Subnet{}, false, nil
	}
	return cloneSubnet(s), true, nil
}

func (m *MemoryStore) ListSubnets(ctx context.Context, networkID uuid.UUID) ([]domain.Subnet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Subnet
	for _, s := range m.subnets {
		if s.NetworkID == networkID {
			out = append(out, cloneSubnet(s))
		}
	}
	sortByCreation(out, func(s domain.Subnet) (int64, string) { return s.CreatedAt.UnixNano(), s.ID.String() })
	return out, nil
}

func (m *MemoryStore) ListSubnetsBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.Subnet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Subnet
	for _, s := range m.subnets {
		if s.SegmentID != nil && *s.SegmentID == segmentID {
			out = append(out, cloneSubnet(s))
		}
	}
	sortByCreation(out, func(s domain.Subnet) (int64, string) { return s.CreatedAt.UnixNano(), s.ID.String() })
	return out, nil
}

func (m *MemoryStore) UpdateSubnetPools(ctx context.Context, id uuid.UUID, pools []domain.AllocationPool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subnets[id]
	if !ok {
		return false, nil
	}
	s.Pools = append([]domain.AllocationPool(nil), pools...)
	m.subnets[id] = s
	return true, nil
}

func (m *MemoryStore) DeleteSubnet(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subnets[id]; !ok {
		return false, nil
	}
	if len(m.allocations[id]) > 0 {
		return false, fmt.Errorf("subnet %s has allocations: %w", id, ErrConflict)
	}
	delete(m.subnets, id)
	delete(m.allocations, id)
	return true, nil
}

func (m *MemoryStore) CreatePort(ctx context.Context, p domain.Port) error {
	if p.ID == uuid.Nil || p.NetworkID == uuid.Nil {
		return fmt.Errorf("port and network ids required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[p.NetworkID]; !ok {
		return fmt.Errorf("network %s: %w", p.NetworkID, ErrNotFound)
	}
	if _, ok := m.ports[p.ID]; ok {
		return fmt.Errorf("port %s exists: %w", p.ID, ErrConflict)
	}
	m.ports[p.ID] = clonePort(p)
	return nil
}

func (m *MemoryStore) GetPort(ctx context.Context, id uuid.UUID) (domain.Port, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.ports[id]
	if !ok {
		return domain.Port{}, false, nil
	}
	return clonePort(p), true, nil
}

func (m *MemoryStore) ListPorts(ctx context.Context, networkID uuid.UUID) ([]domain.Port, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Port
	for _, p := range m.ports {
		if p.NetworkID == networkID {
			out = append(out, clonePort(p))
		}
	}
	sortByCreation(out, func(p domain.Port) (int64, string) { return p.CreatedAt.UnixNano(), p.ID.String() })
	return out, nil
}

func (m *MemoryStore) UpdatePort(ctx context.Context, p domain.Port) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ports[p.ID]; !ok {
		return false, nil
	}
	m.ports[p.ID] = clonePort(p)
	return true, nil
}

func (m *MemoryStore) DeletePort(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ports[id]; !ok {
		return false, nil
	}
	delete(m.ports, id)
	return true, nil
}

func (m *MemoryStore) CreateAllocation(ctx context.Context, a domain.Allocation) error {
	if a.SubnetID == uuid.Nil || !a.Address.IsValid() {
		return fmt.Errorf("subnet id and address required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subnets[a.SubnetID]; !ok {
		return fmt.Errorf("subnet %s: %w", a.SubnetID, ErrNotFound)
	}
	allocs := m.allocations[a.SubnetID]
	if allocs == nil {
		allocs = make(map[netip.Addr]domain.Allocation)
		m.allocations[a.SubnetID] = allocs
	}
	if _, ok := allocs[a.Address]; ok {
		return fmt.Errorf("address %s allocated in subnet %s: %w", a.Address, a.SubnetID, ErrConflict)
	}
	allocs[a.Address] = a
	return nil
}

func (m *MemoryStore) DeleteAllocation(ctx context.Context, subnetID uuid.UUID, addr netip.Addr) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allocs := m.allocations[subnetID]
	if _, ok := allocs[addr]; !ok {
		return false, nil
	}
	delete(allocs, addr)
	return true, nil
}

func (m *MemoryStore) ListAllocations(ctx context.Context, subnetID uuid.UUID) ([]domain.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allocs := m.allocations[subnetID]
	out := make([]domain.Allocation, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Compare(out[j].Address) < 0 })
	return out, nil
}

func (m *MemoryStore) MapHostToSegment(ctx context.Context, host string, segmentID uuid.UUID) error {
	if host == "" || segmentID == uuid.Nil {
		return fmt.Errorf("host and segment id required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[segmentID]; !ok {
		return fmt.Errorf("segment %s: %w", segmentID, ErrNotFound)
	}
	segs := m.hostSegments[host]
	if segs == nil {
		segs = make(map[uuid.UUID]bool)
		m.hostSegments[host] = segs
	}
	segs[segmentID] = true
	return nil
}

func (m *MemoryStore) UnmapHostFromSegment(ctx context.Context, host string, segmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs := m.hostSegments[host]
	if !segs[segmentID] {
		return false, nil
	}
	delete(segs, segmentID)
	if len(segs) == 0 {
		delete(m.hostSegments, host)
	}
	return true, nil
}

func (m *MemoryStore) SegmentsForHost(ctx context.Context, host string) ([]domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Segment
	for id := range m.hostSegments[host] {
		if s, ok := m.segments[id]; ok {
			out = append(out, s)
		}
	}
	sortByCreation(out, func(s domain.Segment) (int64, string) { return s.CreatedAt.UnixNano(), s.ID.String() })
	return out, nil
}

func (m *MemoryStore) HostsForSegment(ctx context.Context, segmentID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for host, segs := range m.hostSegments {
		if segs[segmentID] {
			out = append(out, host)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// sortByCreation orders entities by creation time with ID as tiebreak so
// list results are stable for pagination.
func sortByCreation[T any](items []T, key func(T) (int64, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti != tj {
			return ti < tj
		}
		return strings.Compare(idi, idj) < 0
	})
}

func cloneSubnet(s domain.Subnet) domain.Subnet {
	s.Pools = append([]domain.AllocationPool(nil), s.Pools...)
	return s
}

func clonePort(p domain.Port) domain.Port {
	p.FixedIPs = append([]domain.FixedIP(nil), p.FixedIPs...)
	return p
}
