// Package ports implements the port lifecycle and the deferred IP
// allocation state machine. On a routed network a port without a concrete
// address request parks as UNBOUND until a host binding picks the segment
// to allocate from.
package ports

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/ipam"
	"segmentpam/internal/locking"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

var (
	// ErrNoReachableSegment is returned when the binding host maps to no
	// segment of the port's network.
	ErrNoReachableSegment = errors.New("ports: host reaches no segment of this network")
	// ErrAllocationFailed is returned when every reachable segment's
	// subnets are exhausted. The port is left in the allocation_failed
	// state for the caller to inspect or retry.
	ErrAllocationFailed = errors.New("ports: address allocation failed on all reachable segments")
)

// SegmentStrategy orders a host's reachable segments before allocation is
// attempted. The slice it returns is tried front to back.
type SegmentStrategy func(segments []domain.Segment) []domain.Segment

// DeclarationOrder is the default strategy: segments are tried in the
// order they were declared on the network.
func DeclarationOrder(segments []domain.Segment) []domain.Segment {
	return segments
}

// Resolver manages ports and resolves deferred allocations once a host
// binding arrives.
type Resolver struct {
	store     storage.Store
	allocator *ipam.Allocator
	logger    observability.Logger
	metrics   *observability.Metrics
	strategy  SegmentStrategy
	portLocks *locking.Keyed[uuid.UUID]
}

// NewResolver creates a Resolver. A nil strategy defaults to
// DeclarationOrder.
func NewResolver(store storage.Store, allocator *ipam.Allocator, logger observability.Logger, metrics *observability.Metrics, strategy SegmentStrategy) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if strategy == nil {
		strategy = DeclarationOrder
	}
	return &Resolver{
		store:     store,
		allocator: allocator,
		logger:    logger.WithComponent("ports"),
		metrics:   metrics,
		strategy:  strategy,
		portLocks: locking.NewKeyed[uuid.UUID](),
	}
}

// CreatePort creates a port on a network. Allocation is immediate when the
// network is non-routed, when the request names a concrete subnet or
// address, or when the binding host is already known. A routed network
// with none of those defers allocation until BindHost.
func (r *Resolver) CreatePort(ctx context.Context, in domain.CreatePort) (domain.Port, error) {
	network, found, err := r.store.GetNetwork(ctx, in.NetworkID)
	if err != nil {
		return domain.Port{}, fmt.Errorf("get network: %w", err)
	}
	if !found {
		return domain.Port{}, fmt.Errorf("network %s: %w", in.NetworkID, storage.ErrNotFound)
	}

	now := time.Now().UTC()
	port := domain.Port{
		ID:           uuid.New(),
		NetworkID:    in.NetworkID,
		Name:         in.Name,
		IPAllocation: domain.IPAllocationImmediate,
		State:        domain.BindingUnbound,
		Host:         in.Host,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switch {
	case in.FixedIP != nil:
		fixed, err := r.allocateExplicit(ctx, port, *in.FixedIP)
		if err != nil {
			return domain.Port{}, err
		}
		port.FixedIPs = []domain.FixedIP{fixed}
		port.State = domain.BindingAllocated

	case network.L2Adjacency():
		fixed, ok, err := r.allocateFromNetwork(ctx, port)
		if err != nil {
			return domain.Port{}, err
		}
		if ok {
			port.FixedIPs = []domain.FixedIP{fixed}
			port.State = domain.BindingAllocated
		}

	case in.Host != "":
		fixed, err := r.allocateForHost(ctx, port, in.Host)
		if err != nil {
			return domain.Port{}, err
		}
		port.FixedIPs = []domain.FixedIP{fixed}
		port.State = domain.BindingAllocated

	default:
		// Routed network, no address request, no host: park the port
		// until a binding host is known.
		port.IPAllocation = domain.IPAllocationDeferred
	}

	if err := r.store.CreatePort(ctx, port); err != nil {
		r.rollbackFixedIPs(ctx, port.FixedIPs)
		return domain.Port{}, fmt.Errorf("create port: %w", err)
	}

	if port.IPAllocation == domain.IPAllocationDeferred && r.metrics != nil {
		r.metrics.IncrementDeferredPorts()
	}
	r.logger.InfoContext(ctx, "port created",
		"port_id", port.ID, "network_id", port.NetworkID,
		"ip_allocation", port.IPAllocation, "state", port.State)
	return port, nil
}

// GetPort returns a port by ID.
func (r *Resolver) GetPort(ctx context.Context, id uuid.UUID) (domain.Port, error) {
	port, found, err := r.store.GetPort(ctx, id)
	if err != nil {
		return domain.Port{}, fmt.Errorf("get port: %w", err)
	}
	if !found {
		return domain.Port{}, fmt.Errorf("port %s: %w", id, storage.ErrNotFound)
	}
	return port, nil
}

// ListPorts returns the network's ports in creation order.
func (r *Resolver) ListPorts(ctx context.Context, networkID uuid.UUID) ([]domain.Port, error) {
	return r.store.ListPorts(ctx, networkID)
}

// BindHost records the port's binding host and resolves a deferred
// allocation from the host's reachable segments. Retrying with the same
// host is idempotent; a failed attempt leaves no partial allocations.
func (r *Resolver) BindHost(ctx context.Context, portID uuid.UUID, host string) (domain.Port, error) {
	r.portLocks.Lock(portID)
	defer r.portLocks.Unlock(portID)

	port, err := r.GetPort(ctx, portID)
	if err != nil {
		return domain.Port{}, err
	}

	if port.State == domain.BindingAllocated && port.Host == host {
		return port, nil
	}

	// Rebinding to a different host releases the previous binding's
	// addresses first.
	if port.State == domain.BindingAllocated && port.Host != host && port.IPAllocation == domain.IPAllocationDeferred {
		r.rollbackFixedIPs(ctx, port.FixedIPs)
		port.FixedIPs = nil
		port.State = domain.BindingUnbound
	}

	if len(port.FixedIPs) > 0 {
		// Immediate-allocation port: the host changes, the address does not.
		port.Host = host
		port.State = domain.BindingAllocated
		return r.savePort(ctx, port)
	}

	wasDeferred := port.State == domain.BindingUnbound || port.State == domain.BindingAllocationFailed

	fixed, err := r.allocateForHost(ctx, port, host)
	if err != nil {
		if errors.Is(err, ErrAllocationFailed) {
			port.Host = host
			port.State = domain.BindingAllocationFailed
			if _, saveErr := r.savePort(ctx, port); saveErr != nil {
				return domain.Port{}, saveErr
			}
		}
		return domain.Port{}, err
	}

	port.Host = host
	port.FixedIPs = []domain.FixedIP{fixed}
	port.State = domain.BindingAllocated
	saved, err := r.savePort(ctx, port)
	if err != nil {
		r.rollbackFixedIPs(ctx, port.FixedIPs)
		return domain.Port{}, err
	}
	if wasDeferred && r.metrics != nil {
		r.metrics.DecrementDeferredPorts()
	}
	r.logger.InfoContext(ctx, "port bound",
		"port_id", port.ID, "host", host, "address", fixed.Address)
	return saved, nil
}

// UnbindHost clears the binding host and releases addresses that were
// derived from it. The port returns to the unbound state and will
// allocate again on the next binding.
func (r *Resolver) UnbindHost(ctx context.Context, portID uuid.UUID) (domain.Port, error) {
	r.portLocks.Lock(portID)
	defer r.portLocks.Unlock(portID)

	port, err := r.GetPort(ctx, portID)
	if err != nil {
		return domain.Port{}, err
	}
	if port.Host == "" {
		return port, nil
	}

	if port.IPAllocation == domain.IPAllocationDeferred {
		r.rollbackFixedIPs(ctx, port.FixedIPs)
		port.FixedIPs = nil
		if r.metrics != nil {
			r.metrics.IncrementDeferredPorts()
		}
	}
	port.Host = ""
	port.State = domain.BindingUnbound
	return r.savePort(ctx, port)
}

// DeletePort releases the port's addresses and removes it.
func (r *Resolver) DeletePort(ctx context.Context, portID uuid.UUID) error {
	r.portLocks.Lock(portID)
	defer r.portLocks.Unlock(portID)

	port, err := r.GetPort(ctx, portID)
	if err != nil {
		return err
	}
	r.rollbackFixedIPs(ctx, port.FixedIPs)

	deleted, err := r.store.DeletePort(ctx, portID)
	if err != nil {
		return fmt.Errorf("delete port: %w", err)
	}
	if !deleted {
		return fmt.Errorf("port %s: %w", portID, storage.ErrNotFound)
	}
	if port.IPAllocation == domain.IPAllocationDeferred && port.State != domain.BindingAllocated && r.metrics != nil {
		r.metrics.DecrementDeferredPorts()
	}
	return nil
}

// allocateExplicit serves a concrete fixed-IP request at creation time.
func (r *Resolver) allocateExplicit(ctx context.Context, port domain.Port, spec domain.FixedIPSpec) (domain.FixedIP, error) {
	var requested netip.Addr
	if spec.Address != nil {
		var err error
		requested, err = netip.ParseAddr(*spec.Address)
		if err != nil {
			return domain.FixedIP{}, fmt.Errorf("parse requested address: %w: %v", storage.ErrValidation, err)
		}
	}

	var subnetID uuid.UUID
	switch {
	case spec.SubnetID != nil:
		subnet, found, err := r.store.GetSubnet(ctx, *spec.SubnetID)
		if err != nil {
			return domain.FixedIP{}, fmt.Errorf("get subnet: %w", err)
		}
		if !found || subnet.NetworkID != port.NetworkID {
			return domain.FixedIP{}, fmt.Errorf("subnet %s: %w", *spec.SubnetID, storage.ErrNotFound)
		}
		subnetID = subnet.ID
	case requested.IsValid():
		subnet, err := r.subnetContaining(ctx, port.NetworkID, requested)
		if err != nil {
			return domain.FixedIP{}, err
		}
		subnetID = subnet.ID
	default:
		return domain.FixedIP{}, fmt.Errorf("fixed ip spec names neither subnet nor address: %w", storage.ErrValidation)
	}

	addr, err := r.allocator.Allocate(ctx, subnetID, ipam.AllocationRequest{Address: requested, PortID: &port.ID})
	if err != nil {
		return domain.FixedIP{}, err
	}
	return domain.FixedIP{SubnetID: subnetID, Address: addr}, nil
}

// allocateFromNetwork tries every subnet of a non-routed network in
// declaration order. A network without subnets yields no address.
func (r *Resolver) allocateFromNetwork(ctx context.Context, port domain.Port) (domain.FixedIP, bool, error) {
	subnets, err := r.store.ListSubnets(ctx, port.NetworkID)
	if err != nil {
		return domain.FixedIP{}, false, fmt.Errorf("list subnets: %w", err)
	}
	fixed, err := r.tryAllocate(ctx, port, subnets)
	if err != nil {
		if errors.Is(err, ErrAllocationFailed) && len(subnets) == 0 {
			return domain.FixedIP{}, false, nil
		}
		return domain.FixedIP{}, false, err
	}
	return fixed, true, nil
}

// allocateForHost walks the host's reachable segments on the port's
// network and tries each segment's subnets until one allocation succeeds.
func (r *Resolver) allocateForHost(ctx context.Context, port domain.Port, host string) (domain.FixedIP, error) {
	reachable, err := r.store.SegmentsForHost(ctx, host)
	if err != nil {
		return domain.FixedIP{}, fmt.Errorf("segments for host: %w", err)
	}
	var onNetwork []domain.Segment
	for _, seg := range reachable {
		if seg.NetworkID == port.NetworkID {
			onNetwork = append(onNetwork, seg)
		}
	}
	if len(onNetwork) == 0 {
		return domain.FixedIP{}, fmt.Errorf("host %q, network %s: %w", host, port.NetworkID, ErrNoReachableSegment)
	}

	for _, seg := range r.strategy(onNetwork) {
		subnets, err := r.store.ListSubnetsBySegment(ctx, seg.ID)
		if err != nil {
			return domain.FixedIP{}, fmt.Errorf("list subnets: %w", err)
		}
		fixed, err := r.tryAllocate(ctx, port, subnets)
		if err == nil {
			return fixed, nil
		}
		if !errors.Is(err, ErrAllocationFailed) {
			return domain.FixedIP{}, err
		}
		r.logger.DebugContext(ctx, "segment exhausted, trying next",
			"port_id", port.ID, "segment_id", seg.ID)
	}
	return domain.FixedIP{}, fmt.Errorf("host %q: %w", host, ErrAllocationFailed)
}

// tryAllocate attempts each subnet in order and returns the first
// successful allocation. Exhausted subnets are skipped.
func (r *Resolver) tryAllocate(ctx context.Context, port domain.Port, subnets []domain.Subnet) (domain.FixedIP, error) {
	for _, subnet := range subnets {
		addr, err := r.allocator.Allocate(ctx, subnet.ID, ipam.AllocationRequest{PortID: &port.ID})
		if err == nil {
			return domain.FixedIP{SubnetID: subnet.ID, Address: addr}, nil
		}
		if !errors.Is(err, ipam.ErrPoolExhausted) {
			return domain.FixedIP{}, err
		}
	}
	return domain.FixedIP{}, ErrAllocationFailed
}

// subnetContaining finds the network subnet whose CIDR covers addr.
func (r *Resolver) subnetContaining(ctx context.Context, networkID uuid.UUID, addr netip.Addr) (domain.Subnet, error) {
	subnets, err := r.store.ListSubnets(ctx, networkID)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("list subnets: %w", err)
	}
	for _, subnet := range subnets {
		if subnet.CIDR.Contains(addr) {
			return subnet, nil
		}
	}
	return domain.Subnet{}, fmt.Errorf("no subnet contains %s: %w", addr, storage.ErrNotFound)
}

// rollbackFixedIPs releases addresses after a failed persist. Release is
// idempotent so double rollback is harmless.
func (r *Resolver) rollbackFixedIPs(ctx context.Context, fixedIPs []domain.FixedIP) {
	for _, fixed := range fixedIPs {
		if err := r.allocator.Release(ctx, fixed.SubnetID, fixed.Address); err != nil {
			r.logger.ErrorContext(ctx, "rollback release failed",
				"subnet_id", fixed.SubnetID, "address", fixed.Address, "error", err)
		}
	}
}

func (r *Resolver) savePort(ctx context.Context, port domain.Port) (domain.Port, error) {
	port.UpdatedAt = time.Now().UTC()
	updated, err := r.store.UpdatePort(ctx, port)
	if err != nil {
		return domain.Port{}, fmt.Errorf("update port: %w", err)
	}
	if !updated {
		return domain.Port{}, fmt.Errorf("port %s: %w", port.ID, storage.ErrNotFound)
	}
	return port, nil
}
