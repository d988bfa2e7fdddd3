package ipam

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"segmentpam/internal/domain"
	"segmentpam/internal/locking"
	"segmentpam/internal/segments"
	"segmentpam/internal/storage"
)

type testLocker struct{ locks *locking.Keyed[uuid.UUID] }

func newTestLocker() *testLocker                { return &testLocker{locks: locking.NewKeyed[uuid.UUID]()} }
func (l *testLocker) LockNetwork(id uuid.UUID)   { l.locks.Lock(id) }
func (l *testLocker) UnlockNetwork(id uuid.UUID) { l.locks.Unlock(id) }

// bindEnv wires a registry and binder over one memory store.
type bindEnv struct {
	store    *storage.MemoryStore
	registry *segments.Registry
	binder   *Binder
}

func newBindEnv(t *testing.T) *bindEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	reg := segments.NewRegistry(store, testLogger(), nil)
	return &bindEnv{
		store:    store,
		registry: reg,
		binder:   NewBinder(store, testLogger(), reg, nil),
	}
}

func (e *bindEnv) network(t *testing.T) domain.Network {
	t.Helper()
	n, err := e.registry.CreateNetwork(context.Background(), domain.CreateNetwork{Name: "net"})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	return n
}

func (e *bindEnv) segment(t *testing.T, networkID uuid.UUID, physnet string) domain.Segment {
	t.Helper()
	seg, err := e.registry.CreateSegment(context.Background(), domain.CreateSegment{
		NetworkID:       networkID,
		PhysicalNetwork: physnet,
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
	})
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	return seg
}

func TestCreateSubnetEstablishesRoutedMode(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	seg := e.segment(t, n.ID, "provider1")

	sub, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      "203.0.113.0/24",
	})
	if err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	if sub.SegmentID == nil || *sub.SegmentID != seg.ID {
		t.Errorf("subnet segment = %v, want %s", sub.SegmentID, seg.ID)
	}

	got, err := e.registry.GetNetwork(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNetwork: %v", err)
	}
	if !got.Routed {
		t.Error("network should be routed after first segment-bound subnet")
	}
	if got.L2Adjacency() {
		t.Error("routed network should not report l2 adjacency")
	}
}

func TestCreateSubnetSegmentBindingMismatch(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	seg := e.segment(t, n.ID, "provider1")

	if _, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      "203.0.113.0/24",
	}); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}

	// Unbound subnet on a routed network must be rejected.
	_, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		CIDR:      "198.51.100.0/24",
	})
	if !errors.Is(err, ErrSegmentBindingMismatch) {
		t.Fatalf("got %v, want ErrSegmentBindingMismatch", err)
	}
}

func TestCreateSubnetSegmentBindingMismatchReverse(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	seg := e.segment(t, n.ID, "provider1")

	if _, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		CIDR:      "203.0.113.0/24",
	}); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}

	// Bound subnet on a non-routed network must be rejected.
	_, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      "198.51.100.0/24",
	})
	if !errors.Is(err, ErrSegmentBindingMismatch) {
		t.Fatalf("got %v, want ErrSegmentBindingMismatch", err)
	}
}

func TestCreateSubnetForeignSegment(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n1 := e.network(t)
	n2 := e.network(t)
	foreign := e.segment(t, n2.ID, "provider1")

	_, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n1.ID,
		SegmentID: &foreign.ID,
		CIDR:      "203.0.113.0/24",
	})
	if !errors.Is(err, ErrInvalidSegmentReference) {
		t.Fatalf("got %v, want ErrInvalidSegmentReference", err)
	}
}

func TestCreateSubnetDefaultPools(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	gw := "203.0.113.1"

	sub, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		CIDR:      "203.0.113.0/24",
		GatewayIP: &gw,
	})
	if err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	if len(sub.Pools) != 1 {
		t.Fatalf("got %d pools, want 1: %v", len(sub.Pools), sub.Pools)
	}
	if sub.Pools[0].Start.String() != "203.0.113.2" || sub.Pools[0].End.String() != "203.0.113.254" {
		t.Errorf("default pool = %s-%s", sub.Pools[0].Start, sub.Pools[0].End)
	}
}

func TestCreateSubnetExplicitPoolValidation(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	gw := "203.0.113.50"

	tests := []struct {
		name    string
		pools   []domain.AllocationPoolInput
		wantErr error
	}{
		{
			"gateway inside pool",
			[]domain.AllocationPoolInput{{Start: "203.0.113.40", End: "203.0.113.60"}},
			ErrGatewayInPool,
		},
		{
			"pool outside cidr",
			[]domain.AllocationPoolInput{{Start: "198.51.100.10", End: "198.51.100.20"}},
			storage.ErrValidation,
		},
		{
			"unparseable range",
			[]domain.AllocationPoolInput{{Start: "not-an-ip", End: "203.0.113.20"}},
			storage.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
				NetworkID: n.ID,
				CIDR:      "203.0.113.0/24",
				GatewayIP: &gw,
				Pools:     tt.pools,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateSubnetOverlap(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)

	if _, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID, CIDR: "10.0.0.0/16",
	}); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	_, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID, CIDR: "10.0.1.0/24",
	})
	if !errors.Is(err, ErrSubnetOverlap) {
		t.Fatalf("got %v, want ErrSubnetOverlap", err)
	}
}

// TestBindingInvariantProperty drives random create/delete sequences and
// checks that a network's subnets are always either all segment-bound or
// all unbound.
func TestBindingInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := storage.NewMemoryStore()
		reg := segments.NewRegistry(store, testLogger(), nil)
		binder := NewBinder(store, testLogger(), reg, nil)

		n, err := reg.CreateNetwork(ctx, domain.CreateNetwork{Name: "net"})
		if err != nil {
			rt.Fatalf("CreateNetwork: %v", err)
		}
		seg, err := reg.CreateSegment(ctx, domain.CreateSegment{
			NetworkID:       n.ID,
			PhysicalNetwork: "provider1",
			NetworkType:     domain.NetworkTypeVLAN,
			SegmentationID:  100,
		})
		if err != nil {
			rt.Fatalf("CreateSegment: %v", err)
		}

		var created []uuid.UUID
		nextBlock := 0
		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(rt, "create") || len(created) == 0 {
				in := domain.CreateSubnet{
					NetworkID: n.ID,
					CIDR:      fmt.Sprintf("10.%d.0.0/24", nextBlock),
				}
				nextBlock++
				if rapid.Bool().Draw(rt, "bound") {
					in.SegmentID = &seg.ID
				}
				sub, err := binder.CreateSubnet(ctx, in)
				if err != nil {
					if !errors.Is(err, ErrSegmentBindingMismatch) {
						rt.Fatalf("CreateSubnet: %v", err)
					}
				} else {
					created = append(created, sub.ID)
				}
			} else {
				idx := rapid.IntRange(0, len(created)-1).Draw(rt, "victim")
				if err := binder.DeleteSubnet(ctx, created[idx]); err != nil {
					rt.Fatalf("DeleteSubnet: %v", err)
				}
				created = append(created[:idx], created[idx+1:]...)
			}

			subnets, err := store.ListSubnets(ctx, n.ID)
			if err != nil {
				rt.Fatalf("ListSubnets: %v", err)
			}
			bound, unbound := 0, 0
			for _, s := range subnets {
				if s.SegmentID != nil {
					bound++
				} else {
					unbound++
				}
			}
			if bound > 0 && unbound > 0 {
				rt.Fatalf("mixed binding mode: %d bound, %d unbound", bound, unbound)
			}
			network, _ := reg.GetNetwork(ctx, n.ID)
			if network.Routed != (bound > 0) {
				rt.Fatalf("routed = %v with %d bound subnets", network.Routed, bound)
			}
		}
	})
}

func TestDeleteSubnetRecomputesRouted(t *testing.T) {
	ctx := context.Background()
	e := newBindEnv(t)
	n := e.network(t)
	seg := e.segment(t, n.ID, "provider1")

	sub, err := e.binder.CreateSubnet(ctx, domain.CreateSubnet{
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      "203.0.113.0/24",
	})
	if err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	if err := e.binder.DeleteSubnet(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubnet: %v", err)
	}
	got, _ := e.registry.GetNetwork(ctx, n.ID)
	if got.Routed {
		t.Error("network should not stay routed after last bound subnet removed")
	}
}
