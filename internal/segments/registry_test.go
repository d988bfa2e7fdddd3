package segments

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

func testLogger() observability.Logger {
	return observability.NewLogger(observability.Config{Level: "error", Format: "json", Output: io.Discard})
}

func newTestRegistry(t *testing.T) (*Registry, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewRegistry(store, testLogger(), nil), store
}

func TestValidateSegmentationID(t *testing.T) {
	tests := []struct {
		name    string
		netType domain.NetworkType
		id      int
		wantErr bool
	}{
		{"vlan min", domain.NetworkTypeVLAN, 1, false},
		{"vlan max", domain.NetworkTypeVLAN, 4094, false},
		{"vlan zero", domain.NetworkTypeVLAN, 0, true},
		{"vlan too large", domain.NetworkTypeVLAN, 4095, true},
		{"vxlan vni", domain.NetworkTypeVXLAN, 5000, false},
		{"vxlan max", domain.NetworkTypeVXLAN, 1<<24 - 1, false},
		{"vxlan overflow", domain.NetworkTypeVXLAN, 1 << 24, true},
		{"gre key", domain.NetworkTypeGRE, 1000, false},
		{"flat no id", domain.NetworkTypeFlat, 0, false},
		{"flat with id", domain.NetworkTypeFlat, 5, true},
		{"unknown type", domain.NetworkType("geneve"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegmentationID(tt.netType, tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSegmentationID(%s, %d) error = %v, wantErr %v",
					tt.netType, tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSegmentationID) {
				t.Errorf("error should wrap ErrInvalidSegmentationID, got %v", err)
			}
		})
	}
}

func TestCreateNetworkWithProviderSegment(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)

	n, err := r.CreateNetwork(ctx, domain.CreateNetwork{
		Name:            "multisegment",
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
	})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}

	segs, err := store.ListSegments(ctx, n.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("implicit segment missing, got %d segments", len(segs))
	}
	if segs[0].PhysicalNetwork != "provider1" || segs[0].SegmentationID != 2016 {
		t.Errorf("implicit segment = %+v", segs[0])
	}
}

func TestCreateNetworkInvalidProvider(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, err := r.CreateNetwork(ctx, domain.CreateNetwork{
		Name:            "bad",
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  9999,
	})
	if !errors.Is(err, ErrInvalidSegmentationID) {
		t.Fatalf("got %v, want ErrInvalidSegmentationID", err)
	}
}

func TestCreateSegmentDuplicatePhysnet(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	n, err := r.CreateNetwork(ctx, domain.CreateNetwork{Name: "net"})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}

	_, err = r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID:       n.ID,
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
	})
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	// Same VLAN ID on a different physnet is fine; same physnet is not.
	_, err = r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID:       n.ID,
		PhysicalNetwork: "provider2",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
	})
	if err != nil {
		t.Fatalf("second physnet: %v", err)
	}
	_, err = r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID:       n.ID,
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2017,
	})
	if !errors.Is(err, ErrDuplicatePhysicalNetwork) {
		t.Fatalf("got %v, want ErrDuplicatePhysicalNetwork", err)
	}
}

func TestDeleteSegmentInUse(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry(t)

	n, _ := r.CreateNetwork(ctx, domain.CreateNetwork{Name: "net"})
	seg, err := r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID:       n.ID,
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  2016,
	})
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	sub := domain.Subnet{
		ID:        uuid.New(),
		NetworkID: n.ID,
		SegmentID: &seg.ID,
		CIDR:      netip.MustParsePrefix("203.0.113.0/24"),
		IPVersion: 4,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateSubnet(ctx, sub); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}

	if err := r.DeleteSegment(ctx, seg.ID); !errors.Is(err, ErrSegmentInUse) {
		t.Fatalf("got %v, want ErrSegmentInUse", err)
	}

	if _, err := store.DeleteSubnet(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubnet: %v", err)
	}
	if err := r.DeleteSegment(ctx, seg.ID); err != nil {
		t.Fatalf("DeleteSegment after subnet removal: %v", err)
	}
	if err := r.DeleteSegment(ctx, seg.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestReportHostPhysnets(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	n, _ := r.CreateNetwork(ctx, domain.CreateNetwork{Name: "net"})
	seg1, _ := r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID: n.ID, PhysicalNetwork: "provider1",
		NetworkType: domain.NetworkTypeVLAN, SegmentationID: 2016,
	})
	seg2, _ := r.CreateSegment(ctx, domain.CreateSegment{
		NetworkID: n.ID, PhysicalNetwork: "provider2",
		NetworkType: domain.NetworkTypeVLAN, SegmentationID: 2016,
	})

	if err := r.ReportHostPhysnets(ctx, "compute1", []string{"provider1"}); err != nil {
		t.Fatalf("ReportHostPhysnets: %v", err)
	}
	segs, _ := r.SegmentsForHost(ctx, "compute1")
	if len(segs) != 1 || segs[0].ID != seg1.ID {
		t.Fatalf("SegmentsForHost = %v", segs)
	}

	// Re-report with the other physnet: old mapping replaced.
	if err := r.ReportHostPhysnets(ctx, "compute1", []string{"provider2"}); err != nil {
		t.Fatalf("ReportHostPhysnets: %v", err)
	}
	segs, _ = r.SegmentsForHost(ctx, "compute1")
	if len(segs) != 1 || segs[0].ID != seg2.ID {
		t.Fatalf("SegmentsForHost after re-report = %v", segs)
	}
}
