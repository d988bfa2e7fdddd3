package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

func testLogger() observability.Logger {
	return observability.NewLoggerFromSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type pubEnv struct {
	store     *storage.MemoryStore
	placement *MemoryPlacement
	publisher *Publisher
}

func newPubEnv(t *testing.T) *pubEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	placement := NewMemoryPlacement()
	cfg := PublisherConfig{MaxRetries: 0, Backoff: time.Millisecond}
	return &pubEnv{
		store:     store,
		placement: placement,
		publisher: NewPublisher(store, placement, testLogger(), nil, cfg),
	}
}

// seedSegment creates a network, one segment, and one bound IPv4 subnet
// with a gateway at .1 and a pool of .2-.254.
func (e *pubEnv) seedSegment(t *testing.T) (domain.Segment, domain.Subnet) {
	t.Helper()
	ctx := context.Background()

	network := domain.Network{ID: uuid.New(), Name: "net", Routed: true, CreatedAt: time.Now()}
	if err := e.store.CreateNetwork(ctx, network); err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	segment := domain.Segment{
		ID:              uuid.New(),
		NetworkID:       network.ID,
		PhysicalNetwork: "provider1",
		NetworkType:     domain.NetworkTypeVLAN,
		SegmentationID:  100,
		CreatedAt:       time.Now(),
	}
	if err := e.store.CreateSegment(ctx, segment); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	subnet := ipv4Subnet("10.0.0.0/24", "10.0.0.1", false, pool("10.0.0.2", "10.0.0.254"))
	subnet.NetworkID = network.ID
	subnet.SegmentID = &segment.ID
	if err := e.store.CreateSubnet(ctx, subnet); err != nil {
		t.Fatalf("CreateSubnet: %v", err)
	}
	return segment, subnet
}

func TestSyncInventoryPublishesRecord(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)

	if err := env.publisher.SyncInventory(context.Background(), segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}

	rec, ok := env.placement.Inventory(segment.ID)
	if !ok {
		t.Fatal("expected inventory record in placement")
	}
	if rec.Total != 254 {
		t.Errorf("Total = %d, want 254", rec.Total)
	}
	if rec.Reserved != 1 {
		t.Errorf("Reserved = %d, want 1", rec.Reserved)
	}
	if rec.Generation != 1 {
		t.Errorf("Generation = %d, want 1", rec.Generation)
	}

	name, ok := env.placement.AggregateName(segment.ID)
	if !ok {
		t.Fatal("expected aggregate for segment")
	}
	if !strings.Contains(name, segment.ID.String()) {
		t.Errorf("aggregate name %q does not reference segment", name)
	}
}

func TestSyncInventoryCountsAllocations(t *testing.T) {
	env := newPubEnv(t)
	segment, subnet := env.seedSegment(t)
	ctx := context.Background()

	for _, a := range []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		alloc := domain.Allocation{SubnetID: subnet.ID, Address: addr(a), CreatedAt: time.Now()}
		if err := env.store.CreateAllocation(ctx, alloc); err != nil {
			t.Fatalf("CreateAllocation(%s): %v", a, err)
		}
	}

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
	rec, _ := env.placement.Inventory(segment.ID)
	// gateway + three allocations
	if rec.Reserved != 4 {
		t.Errorf("Reserved = %d, want 4", rec.Reserved)
	}

	// Releasing one address must shrink reserved on the next sync.
	if _, err := env.store.DeleteAllocation(ctx, subnet.ID, addr("10.0.0.3")); err != nil {
		t.Fatalf("DeleteAllocation: %v", err)
	}
	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
	rec, _ = env.placement.Inventory(segment.ID)
	if rec.Reserved != 3 {
		t.Errorf("Reserved after release = %d, want 3", rec.Reserved)
	}
	if rec.Generation != 2 {
		t.Errorf("Generation = %d, want 2", rec.Generation)
	}
}

func TestSyncInventoryRemovesEmptySegment(t *testing.T) {
	env := newPubEnv(t)
	segment, subnet := env.seedSegment(t)
	ctx := context.Background()

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
	if _, ok := env.placement.Inventory(segment.ID); !ok {
		t.Fatal("expected inventory record")
	}

	if _, err := env.store.DeleteSubnet(ctx, subnet.ID); err != nil {
		t.Fatalf("DeleteSubnet: %v", err)
	}
	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
	if _, ok := env.placement.Inventory(segment.ID); ok {
		t.Error("inventory record should be removed for a segment with no IPv4 capacity")
	}
}

func TestSyncInventoryDeletedSegment(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)
	ctx := context.Background()

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}

	// Drop the segment's subnet first, then the segment itself.
	subnets, _ := env.store.ListSubnetsBySegment(ctx, segment.ID)
	for _, s := range subnets {
		if _, err := env.store.DeleteSubnet(ctx, s.ID); err != nil {
			t.Fatalf("DeleteSubnet: %v", err)
		}
	}
	if _, err := env.store.DeleteSegment(ctx, segment.ID); err != nil {
		t.Fatalf("DeleteSegment: %v", err)
	}

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
	if _, ok := env.placement.Inventory(segment.ID); ok {
		t.Error("inventory record should be removed for a deleted segment")
	}
}

func TestSyncInventoryGenerationConflictRetries(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)
	ctx := context.Background()

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}

	// Force one lost compare-and-swap; the publisher must refetch and win.
	env.placement.FailNextUpdate(ErrGenerationConflict)
	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory after conflict: %v", err)
	}
	rec, _ := env.placement.Inventory(segment.ID)
	if rec.Total != 254 {
		t.Errorf("Total = %d, want 254", rec.Total)
	}
}

func TestSyncInventoryAggregateHosts(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)
	ctx := context.Background()

	for _, host := range []string{"compute-1", "compute-2"} {
		if err := env.store.MapHostToSegment(ctx, host, segment.ID); err != nil {
			t.Fatalf("MapHostToSegment(%s): %v", host, err)
		}
	}

	if err := env.publisher.SyncInventory(ctx, segment.ID); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}

	hosts := env.placement.AggregateHosts(segment.ID)
	if len(hosts) != 2 {
		t.Fatalf("aggregate hosts = %v, want 2 entries", hosts)
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublisherAsyncNotify(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)

	env.publisher.Start()
	defer env.publisher.Close()

	env.publisher.Notify(segment.ID)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := env.placement.Inventory(segment.ID)
		return ok
	})
}

func TestPublisherDegradedRecovers(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)

	env.publisher.Start()
	defer env.publisher.Close()

	env.placement.FailNext(errors.New("placement unreachable"))
	env.publisher.Notify(segment.ID)

	waitFor(t, 2*time.Second, func() bool {
		return env.publisher.Degraded()
	})

	// A later notification succeeds and clears the degraded flag.
	env.publisher.Notify(segment.ID)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := env.placement.Inventory(segment.ID)
		return ok && !env.publisher.Degraded()
	})
}

func TestReconcileAll(t *testing.T) {
	env := newPubEnv(t)
	segment, _ := env.seedSegment(t)

	if err := env.publisher.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if _, ok := env.placement.Inventory(segment.ID); !ok {
		t.Error("expected inventory record after full reconcile")
	}
}
