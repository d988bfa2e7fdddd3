// Package ipam owns allocation pools: associating subnets to segments at
// creation time and allocating/releasing addresses within a subnet's
// pools. Allocation is scoped per segment rather than per network so
// placement constraints stay physical.
package ipam

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/locking"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

var (
	// ErrAddressNotAvailable is returned when a requested address lies
	// outside the subnet's pools or is already allocated.
	ErrAddressNotAvailable = errors.New("address not available")

	// ErrPoolExhausted is returned when no free address remains in any
	// of the subnet's pools.
	ErrPoolExhausted = errors.New("allocation pools exhausted")
)

// Notifier receives the segment whose address inventory changed.
// Publication happens out-of-band; the allocator never waits on it.
type Notifier interface {
	Notify(segmentID uuid.UUID)
}

// AllocationRequest describes one address request. A zero Address asks
// for the lowest free address; PortID ties the allocation to a port.
type AllocationRequest struct {
	Address netip.Addr
	PortID  *uuid.UUID
}

// Allocator hands out addresses from subnet allocation pools. Mutations
// on one subnet serialize through a per-subnet exclusive section;
// operations on distinct subnets proceed in parallel.
type Allocator struct {
	store       storage.Store
	logger      observability.Logger
	metrics     *observability.Metrics
	notifier    Notifier
	subnetLocks *locking.Keyed[uuid.UUID]
}

// NewAllocator creates an Allocator. metrics and notifier may be nil.
func NewAllocator(store storage.Store, logger observability.Logger, metrics *observability.Metrics, notifier Notifier) *Allocator {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Allocator{
		store:       store,
		logger:      logger.WithComponent("ipam"),
		metrics:     metrics,
		notifier:    notifier,
		subnetLocks: locking.NewKeyed[uuid.UUID](),
	}
}

// Allocate assigns an address from the subnet's pools. With a concrete
// request, the address must lie within a pool and be free. Without one,
// the lowest free address wins (first-fit ascending, deterministic).
func (a *Allocator) Allocate(ctx context.Context, subnetID uuid.UUID, req AllocationRequest) (netip.Addr, error) {
	a.subnetLocks.Lock(subnetID)
	defer a.subnetLocks.Unlock(subnetID)

	subnet, ok, err := a.store.GetSubnet(ctx, subnetID)
	if err != nil {
		return netip.Addr{}, err
	}
	if !ok {
		return netip.Addr{}, fmt.Errorf("subnet %s: %w", subnetID, storage.ErrNotFound)
	}

	allocated, err := a.allocatedSet(ctx, subnetID)
	if err != nil {
		return netip.Addr{}, err
	}

	var addr netip.Addr
	if req.Address.IsValid() {
		if !inPools(subnet.Pools, req.Address) {
			return netip.Addr{}, fmt.Errorf("%s outside pools of subnet %s: %w",
				req.Address, subnetID, ErrAddressNotAvailable)
		}
		if allocated[req.Address] {
			return netip.Addr{}, fmt.Errorf("%s already allocated in subnet %s: %w",
				req.Address, subnetID, ErrAddressNotAvailable)
		}
		addr = req.Address
	} else {
		addr, ok = firstFree(subnet.Pools, allocated)
		if !ok {
			return netip.Addr{}, fmt.Errorf("subnet %s: %w", subnetID, ErrPoolExhausted)
		}
	}

	if err := a.store.CreateAllocation(ctx, domain.Allocation{
		SubnetID: subnetID,
		Address:  addr,
		PortID:   req.PortID,
	}); err != nil {
		// A racing writer would surface as a conflict even though the
		// subnet lock makes that unreachable through this allocator.
		if errors.Is(err, storage.ErrConflict) {
			return netip.Addr{}, fmt.Errorf("%s in subnet %s: %w", addr, subnetID, ErrAddressNotAvailable)
		}
		return netip.Addr{}, err
	}

	a.logger.DebugContext(ctx, "address allocated", "subnet_id", subnetID, "address", addr)
	if a.metrics != nil {
		a.metrics.RecordAllocation()
	}
	a.notifySubnet(subnet)
	return addr, nil
}

// Release returns an address to the pool. Releasing an already-free
// address is an idempotent no-op.
func (a *Allocator) Release(ctx context.Context, subnetID uuid.UUID, addr netip.Addr) error {
	a.subnetLocks.Lock(subnetID)
	defer a.subnetLocks.Unlock(subnetID)

	removed, err := a.store.DeleteAllocation(ctx, subnetID, addr)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	a.logger.DebugContext(ctx, "address released", "subnet_id", subnetID, "address", addr)
	if a.metrics != nil {
		a.metrics.RecordRelease()
	}
	if subnet, ok, err := a.store.GetSubnet(ctx, subnetID); err == nil && ok {
		a.notifySubnet(subnet)
	}
	return nil
}

// FreeCount returns the number of unallocated addresses across the
// subnet's pools.
func (a *Allocator) FreeCount(ctx context.Context, subnetID uuid.UUID) (int64, error) {
	subnet, ok, err := a.store.GetSubnet(ctx, subnetID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("subnet %s: %w", subnetID, storage.ErrNotFound)
	}
	allocated, err := a.allocatedSet(ctx, subnetID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range subnet.Pools {
		total += p.Size()
	}
	var used int64
	for addr := range allocated {
		if inPools(subnet.Pools, addr) {
			used++
		}
	}
	return total - used, nil
}

func (a *Allocator) allocatedSet(ctx context.Context, subnetID uuid.UUID) (map[netip.Addr]bool, error) {
	allocs, err := a.store.ListAllocations(ctx, subnetID)
	if err != nil {
		return nil, err
	}
	set := make(map[netip.Addr]bool, len(allocs))
	for _, alloc := range allocs {
		set[alloc.Address] = true
	}
	return set, nil
}

func (a *Allocator) notifySubnet(subnet domain.Subnet) {
	if a.notifier != nil && subnet.SegmentID != nil {
		a.notifier.Notify(*subnet.SegmentID)
	}
}

func inPools(pools []domain.AllocationPool, addr netip.Addr) bool {
	for _, p := range pools {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// firstFree walks pools in declaration order and each pool ascending,
// skipping allocated addresses.
func firstFree(pools []domain.AllocationPool, allocated map[netip.Addr]bool) (netip.Addr, bool) {
	for _, p := range pools {
		for addr := p.Start; addr.IsValid() && addr.Compare(p.End) <= 0; addr = addr.Next() {
			if !allocated[addr] {
				return addr, true
			}
		}
	}
	return netip.Addr{}, false
}
