package ports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/ipam"
	"segmentpam/internal/observability"
	"segmentpam/internal/segments"
	"segmentpam/internal/storage"
)

func testLogger() observability.Logger {
	return observability.NewLoggerFromSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type env struct {
	store    *storage.MemoryStore
	registry *segments.Registry
	binder   *ipam.Binder
	resolver *Resolver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := testLogger()
	registry := segments.NewRegistry(store, logger, nil)
	allocator := ipam.NewAllocator(store, logger, nil, nil)
	return &env{
		store:    store,
		registry: registry,
		binder:   ipam.NewBinder(store, logger, registry, nil),
		resolver: NewResolver(store, allocator, logger, nil, nil),
	}
}

func (e *env) network(t *testing.T) domain.Network {
	t.Helper()
	n, err := e.registry.CreateNetwork(context.Background(), domain.CreateNetwork{Name: "net"})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	return n
}

func (e *env) segment(t *testing.T, networkID uuid.UUID, physnet string, vlan int) domain.Segment {
	t.Helper()
	seg, err := e.registry.CreateSegment(context.Background(), domain.CreateSegment{
		NetworkID:       networkID,
		PhysicalNetwork: physnet,
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  vlan,
	})
	if err != nil {
		t.Fatalf("CreateSegment(%s): %v", physnet, err)
	}
	return seg
}

func (e *env) subnet(t *testing.T, networkID uuid.UUID, segmentID *uuid.UUID, cidr string, pools ...domain.AllocationPoolInput) domain.Subnet {
	t.Helper()
	sub, err := e.binder.CreateSubnet(context.Background(), domain.CreateSubnet{
		NetworkID: networkID,
		SegmentID: segmentID,
		CIDR:      cidr,
		Pools:     pools,
	})
	if err != nil {
		t.Fatalf("CreateSubnet(%s): %v", cidr, err)
	}
	return sub
}

// routedEnv builds a routed network with two segments, each with one
// subnet, and maps host-a to segment 1 and host-b to segment 2.
func routedEnv(t *testing.T) (*env, domain.Network, [2]domain.Segment, [2]domain.Subnet) {
	e := newEnv(t)
	ctx := context.Background()

	n := e.network(t)
	seg1 := e.segment(t, n.ID, "provider1", 100)
	seg2 := e.segment(t, n.ID, "provider2", 100)
	sub1 := e.subnet(t, n.ID, &seg1.ID, "203.0.113.0/24")
	sub2 := e.subnet(t, n.ID, &seg2.ID, "198.51.100.0/24")

	if err := e.registry.MapHost(ctx, "host-a", seg1.ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}
	if err := e.registry.MapHost(ctx, "host-b", seg2.ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}
	return e, n, [2]domain.Segment{seg1, seg2}, [2]domain.Subnet{sub1, sub2}
}

func TestCreatePortDeferredOnRoutedNetwork(t *testing.T) {
	e, n, _, _ := routedEnv(t)

	port, err := e.resolver.CreatePort(context.Background(), domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if port.IPAllocation != domain.IPAllocationDeferred {
		t.Errorf("IPAllocation = %s, want deferred", port.IPAllocation)
	}
	if port.State != domain.BindingUnbound {
		t.Errorf("State = %s, want unbound", port.State)
	}
	if len(port.FixedIPs) != 0 {
		t.Errorf("FixedIPs = %v, want none before binding", port.FixedIPs)
	}
}

func TestCreatePortImmediateOnFlatNetwork(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n := e.network(t)
	e.subnet(t, n.ID, nil, "10.0.0.0/24")

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if port.IPAllocation != domain.IPAllocationImmediate {
		t.Errorf("IPAllocation = %s, want immediate", port.IPAllocation)
	}
	if port.State != domain.BindingAllocated {
		t.Errorf("State = %s, want allocated", port.State)
	}
	if len(port.FixedIPs) != 1 {
		t.Fatalf("FixedIPs = %v, want one address", port.FixedIPs)
	}
}

func TestCreatePortExplicitAddressOnRoutedNetwork(t *testing.T) {
	e, n, _, subs := routedEnv(t)

	addr := "198.51.100.7"
	port, err := e.resolver.CreatePort(context.Background(), domain.CreatePort{
		NetworkID: n.ID,
		FixedIP:   &domain.FixedIPSpec{Address: &addr},
	})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if port.IPAllocation != domain.IPAllocationImmediate {
		t.Errorf("IPAllocation = %s, want immediate (explicit address disables deferral)", port.IPAllocation)
	}
	if len(port.FixedIPs) != 1 || port.FixedIPs[0].Address.String() != addr {
		t.Fatalf("FixedIPs = %v, want [%s]", port.FixedIPs, addr)
	}
	if port.FixedIPs[0].SubnetID != subs[1].ID {
		t.Errorf("allocated from subnet %s, want %s", port.FixedIPs[0].SubnetID, subs[1].ID)
	}
}

func TestCreatePortWithKnownHostAllocatesImmediately(t *testing.T) {
	e, n, _, subs := routedEnv(t)

	port, err := e.resolver.CreatePort(context.Background(), domain.CreatePort{
		NetworkID: n.ID,
		Host:      "host-b",
	})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if port.State != domain.BindingAllocated {
		t.Errorf("State = %s, want allocated", port.State)
	}
	if len(port.FixedIPs) != 1 || port.FixedIPs[0].SubnetID != subs[1].ID {
		t.Fatalf("FixedIPs = %v, want one address from %s", port.FixedIPs, subs[1].ID)
	}
}

func TestBindHostAllocatesFromReachableSegmentOnly(t *testing.T) {
	e, n, _, subs := routedEnv(t)
	ctx := context.Background()

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	bound, err := e.resolver.BindHost(ctx, port.ID, "host-b")
	if err != nil {
		t.Fatalf("BindHost: %v", err)
	}
	if bound.State != domain.BindingAllocated {
		t.Errorf("State = %s, want allocated", bound.State)
	}
	if len(bound.FixedIPs) != 1 {
		t.Fatalf("FixedIPs = %v, want one address", bound.FixedIPs)
	}
	// host-b reaches only segment 2; the address must come from
	// 198.51.100.0/24, never from segment 1's 203.0.113.0/24.
	if got := bound.FixedIPs[0]; got.SubnetID != subs[1].ID || !subs[1].CIDR.Contains(got.Address) {
		t.Errorf("allocated %s from subnet %s, want an address in %s", got.Address, got.SubnetID, subs[1].CIDR)
	}
}

func TestBindHostNoReachableSegment(t *testing.T) {
	e, n, _, _ := routedEnv(t)
	ctx := context.Background()

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	if _, err := e.resolver.BindHost(ctx, port.ID, "host-unknown"); !errors.Is(err, ErrNoReachableSegment) {
		t.Fatalf("BindHost error = %v, want ErrNoReachableSegment", err)
	}

	// The port must be left untouched.
	got, err := e.resolver.GetPort(ctx, port.ID)
	if err != nil {
		t.Fatalf("GetPort: %v", err)
	}
	if got.State != domain.BindingUnbound || got.Host != "" {
		t.Errorf("port = state %s host %q, want unbound with no host", got.State, got.Host)
	}
}

func TestBindHostIdempotentRetry(t *testing.T) {
	e, n, _, _ := routedEnv(t)
	ctx := context.Background()

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	first, err := e.resolver.BindHost(ctx, port.ID, "host-a")
	if err != nil {
		t.Fatalf("BindHost: %v", err)
	}
	second, err := e.resolver.BindHost(ctx, port.ID, "host-a")
	if err != nil {
		t.Fatalf("BindHost retry: %v", err)
	}
	if first.FixedIPs[0].Address != second.FixedIPs[0].Address {
		t.Errorf("retry changed address: %s then %s", first.FixedIPs[0].Address, second.FixedIPs[0].Address)
	}

	// The retry must not have consumed a second allocation.
	allocs, err := e.store.ListAllocations(ctx, first.FixedIPs[0].SubnetID)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if len(allocs) != 1 {
		t.Errorf("allocations = %d, want 1", len(allocs))
	}
}

func TestBindHostExhaustedSegments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n := e.network(t)
	seg := e.segment(t, n.ID, "provider1", 100)
	// A two-address pool that two earlier ports drain completely.
	e.subnet(t, n.ID, &seg.ID, "192.0.2.0/29",
		domain.AllocationPoolInput{Start: "192.0.2.2", End: "192.0.2.3"})
	if err := e.registry.MapHost(ctx, "host-a", seg.ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID, Host: "host-a"}); err != nil {
			t.Fatalf("CreatePort %d: %v", i, err)
		}
	}

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if _, err := e.resolver.BindHost(ctx, port.ID, "host-a"); !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("BindHost error = %v, want ErrAllocationFailed", err)
	}

	got, err := e.resolver.GetPort(ctx, port.ID)
	if err != nil {
		t.Fatalf("GetPort: %v", err)
	}
	if got.State != domain.BindingAllocationFailed {
		t.Errorf("State = %s, want allocation_failed", got.State)
	}

	// Freeing capacity makes a retry with the same inputs succeed.
	victims, err := e.resolver.ListPorts(ctx, n.ID)
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	for _, v := range victims {
		if v.State == domain.BindingAllocated {
			if err := e.resolver.DeletePort(ctx, v.ID); err != nil {
				t.Fatalf("DeletePort: %v", err)
			}
			break
		}
	}
	bound, err := e.resolver.BindHost(ctx, port.ID, "host-a")
	if err != nil {
		t.Fatalf("BindHost retry: %v", err)
	}
	if bound.State != domain.BindingAllocated {
		t.Errorf("State = %s, want allocated after retry", bound.State)
	}
}

func TestBindHostTriesSegmentsInDeclarationOrder(t *testing.T) {
	e, n, segs, subs := routedEnv(t)
	ctx := context.Background()

	// host-c reaches both segments; declaration order prefers segment 1.
	if err := e.registry.MapHost(ctx, "host-c", segs[0].ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}
	if err := e.registry.MapHost(ctx, "host-c", segs[1].ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	bound, err := e.resolver.BindHost(ctx, port.ID, "host-c")
	if err != nil {
		t.Fatalf("BindHost: %v", err)
	}
	if bound.FixedIPs[0].SubnetID != subs[0].ID {
		t.Errorf("allocated from %s, want first-declared segment's subnet %s",
			bound.FixedIPs[0].SubnetID, subs[0].ID)
	}
}

func TestBindHostCustomStrategy(t *testing.T) {
	e, n, segs, subs := routedEnv(t)
	ctx := context.Background()

	if err := e.registry.MapHost(ctx, "host-c", segs[0].ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}
	if err := e.registry.MapHost(ctx, "host-c", segs[1].ID); err != nil {
		t.Fatalf("MapHost: %v", err)
	}

	// Reverse the declaration order.
	reversed := func(in []domain.Segment) []domain.Segment {
		out := make([]domain.Segment, len(in))
		for i, s := range in {
			out[len(in)-1-i] = s
		}
		return out
	}
	allocator := ipam.NewAllocator(e.store, testLogger(), nil, nil)
	resolver := NewResolver(e.store, allocator, testLogger(), nil, reversed)

	port, err := resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	bound, err := resolver.BindHost(ctx, port.ID, "host-c")
	if err != nil {
		t.Fatalf("BindHost: %v", err)
	}
	if bound.FixedIPs[0].SubnetID != subs[1].ID {
		t.Errorf("allocated from %s, want last-declared segment's subnet %s",
			bound.FixedIPs[0].SubnetID, subs[1].ID)
	}
}

func TestUnbindHostReleasesDeferredAddress(t *testing.T) {
	e, n, _, subs := routedEnv(t)
	ctx := context.Background()

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	bound, err := e.resolver.BindHost(ctx, port.ID, "host-b")
	if err != nil {
		t.Fatalf("BindHost: %v", err)
	}
	addr := bound.FixedIPs[0].Address

	unbound, err := e.resolver.UnbindHost(ctx, port.ID)
	if err != nil {
		t.Fatalf("UnbindHost: %v", err)
	}
	if unbound.State != domain.BindingUnbound || unbound.Host != "" || len(unbound.FixedIPs) != 0 {
		t.Errorf("port after unbind = %+v, want unbound with no host and no addresses", unbound)
	}

	allocs, err := e.store.ListAllocations(ctx, subs[1].ID)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	for _, a := range allocs {
		if a.Address == addr {
			t.Errorf("address %s still allocated after unbind", addr)
		}
	}

	// The freed address is available to the next binding.
	rebound, err := e.resolver.BindHost(ctx, port.ID, "host-b")
	if err != nil {
		t.Fatalf("BindHost after unbind: %v", err)
	}
	if rebound.FixedIPs[0].Address != addr {
		t.Errorf("rebind allocated %s, want the freed %s", rebound.FixedIPs[0].Address, addr)
	}
}

func TestDeletePortReleasesAddresses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n := e.network(t)
	sub := e.subnet(t, n.ID, nil, "10.0.0.0/24")

	port, err := e.resolver.CreatePort(ctx, domain.CreatePort{NetworkID: n.ID})
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	if err := e.resolver.DeletePort(ctx, port.ID); err != nil {
		t.Fatalf("DeletePort: %v", err)
	}

	allocs, err := e.store.ListAllocations(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if len(allocs) != 0 {
		t.Errorf("allocations after delete = %v, want none", allocs)
	}
}

func TestCreatePortUnknownNetwork(t *testing.T) {
	e := newEnv(t)

	_, err := e.resolver.CreatePort(context.Background(), domain.CreatePort{NetworkID: uuid.New()})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("CreatePort error = %v, want ErrNotFound", err)
	}
}
