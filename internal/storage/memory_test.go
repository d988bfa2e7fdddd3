package storage

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

func testNetwork() domain.Network {
	return domain.Network{ID: uuid.New(), Name: "net1", CreatedAt: time.Now().UTC()}
}

func testSegment(networkID uuid.UUID, physnet string) domain.Segment {
	return domain.Segment{
		ID:              uuid.New(),
		NetworkID:       networkID,
		PhysicalNetwork: physnet,
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestMemoryStore_SegmentPhysnetUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	n := testNetwork()
	if err := m.CreateNetwork(ctx, n); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if err := m.CreateSegment(ctx, testSegment(n.ID, "provider1")); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	err := m.CreateSegment(ctx, testSegment(n.ID, "provider1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate physnet: got %v, want ErrConflict", err)
	}

	// Same physnet on a different network is fine.
	n2 := testNetwork()
	if err := m.CreateNetwork(ctx, n2); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if err := m.CreateSegment(ctx, testSegment(n2.ID, "provider1")); err != nil {
		t.Fatalf("same physnet on other network: %v", err)
	}
}

func TestMemoryStore_ListSegmentsOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	n := testNetwork()
	if err := m.CreateNetwork(ctx, n); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	base := time.Now().UTC()
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		s := testSegment(n.ID, "provider"+string(rune('a'+i)))
		s.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := m.CreateSegment(ctx, s); err != nil {
			t.Fatalf("CreateSegment: %v", err)
		}
		want = append(want, s.ID)
	}
	got, err := m.ListSegments(ctx, n.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d segments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("segment %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestMemoryStore_DeleteSegmentWithSubnets(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	n := testNetwork()
	_ = m.CreateNetwork(ctx, n)
	seg := testSegment(n.ID, "provider1")
	_ = m.CreateSegment(ctx, seg)
	sub := domain.Subnet{
		ID:        uuid.New(),
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      netip.MustParsePrefix("203.0.113.0/24"),
		IPVersion: 4,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.CreateSubnet(ctx, sub); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	if _, err := m.DeleteSegment(ctx, seg.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("DeleteSegment with subnet: got %v, want ErrConflict", err)
	}
	if ok, err := m.DeleteSubnet(ctx, sub.ID); err != nil || !ok {
		t.Fatalf("DeleteSubnet: ok=%v err=%v", ok, err)
	}
	if ok, err := m.DeleteSegment(ctx, seg.ID); err != nil || !ok {
		t.Fatalf("DeleteSegment after subnet removed: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_AllocationConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	n := testNetwork()
	_ = m.CreateNetwork(ctx, n)
	sub := domain.Subnet{
		ID:        uuid.New(),
		NetworkID: n.ID,
		CIDR:      netip.MustParsePrefix("203.0.113.0/24"),
		IPVersion: 4,
		CreatedAt: time.Now().UTC(),
	}
	_ = m.CreateSubnet(ctx, sub)

	addr := netip.MustParseAddr("203.0.113.5")
	if err := m.CreateAllocation(ctx, domain.Allocation{SubnetID: sub.ID, Address: addr}); err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	err := m.CreateAllocation(ctx, domain.Allocation{SubnetID: sub.ID, Address: addr})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("double allocation: got %v, want ErrConflict", err)
	}

	// Delete is a report-style bool, second delete is a no-op.
	if ok, err := m.DeleteAllocation(ctx, sub.ID, addr); err != nil || !ok {
		t.Fatalf("DeleteAllocation: ok=%v err=%v", ok, err)
	}
	if ok, err := m.DeleteAllocation(ctx, sub.ID, addr); err != nil || ok {
		t.Fatalf("second DeleteAllocation: ok=%v err=%v", ok, err)
	}

	// Subnet with allocations cannot be deleted.
	_ = m.CreateAllocation(ctx, domain.Allocation{SubnetID: sub.ID, Address: addr})
	if _, err := m.DeleteSubnet(ctx, sub.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("DeleteSubnet with allocations: got %v, want ErrConflict", err)
	}
}

func TestMemoryStore_HostSegmentMapping(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	n := testNetwork()
	_ = m.CreateNetwork(ctx, n)
	seg1 := testSegment(n.ID, "provider1")
	seg2 := testSegment(n.ID, "provider2")
	seg2.CreatedAt = seg1.CreatedAt.Add(time.Second)
	_ = m.CreateSegment(ctx, seg1)
	_ = m.CreateSegment(ctx, seg2)

	if err := m.MapHostToSegment(ctx, "compute1", seg1.ID); err != nil {
		t.Fatalf("MapHostToSegment: %v", err)
	}
	// Idempotent.
	if err := m.MapHostToSegment(ctx, "compute1", seg1.ID); err != nil {
		t.Fatalf("repeat MapHostToSegment: %v", err)
	}
	if err := m.MapHostToSegment(ctx, "compute1", seg2.ID); err != nil {
		t.Fatalf("MapHostToSegment: %v", err)
	}

	segs, err := m.SegmentsForHost(ctx, "compute1")
	if err != nil {
		t.Fatalf("SegmentsForHost: %v", err)
	}
	if len(segs) != 2 || segs[0].ID != seg1.ID || segs[1].ID != seg2.ID {
		t.Fatalf("SegmentsForHost order wrong: %v", segs)
	}

	hosts, err := m.HostsForSegment(ctx, seg1.ID)
	if err != nil || len(hosts) != 1 || hosts[0] != "compute1" {
		t.Fatalf("HostsForSegment = %v, %v", hosts, err)
	}

	if ok, _ := m.UnmapHostFromSegment(ctx, "compute1", seg1.ID); !ok {
		t.Fatal("UnmapHostFromSegment should report removal")
	}
	segs, _ = m.SegmentsForHost(ctx, "compute1")
	if len(segs) != 1 || segs[0].ID != seg2.ID {
		t.Fatalf("after unmap: %v", segs)
	}
}
