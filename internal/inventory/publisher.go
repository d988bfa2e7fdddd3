package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

// AggregateName returns the deterministic placement aggregate (and resource
// provider) name for a segment.
func AggregateName(segmentID uuid.UUID) string {
	return fmt.Sprintf("segmentpam segment %s", segmentID)
}

// PublisherConfig configures the Publisher's retry behavior.
type PublisherConfig struct {
	// MaxRetries is how many times a failed sync is retried before the
	// segment is parked until the next notification or reconcile sweep.
	MaxRetries int
	// Backoff is the base delay between retries, doubled per attempt.
	Backoff time.Duration
}

// DefaultPublisherConfig returns the default publisher configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Publisher keeps the placement service's per-segment IPv4 inventory in
// sync with the local store. Notifications are coalesced per segment and
// processed asynchronously off a committed snapshot, so callers on the
// allocation path never block on placement I/O.
type Publisher struct {
	store   storage.Store
	client  PlacementClient
	logger  observability.Logger
	metrics *observability.Metrics
	cfg     PublisherConfig

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	wake    chan struct{}

	degraded atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPublisher creates a Publisher. Call Start to begin processing
// notifications and Close to drain and stop.
func NewPublisher(store storage.Store, client PlacementClient, logger observability.Logger, metrics *observability.Metrics, cfg PublisherConfig) *Publisher {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = DefaultPublisherConfig().Backoff
	}
	return &Publisher{
		store:   store,
		client:  client,
		logger:  logger.WithComponent("inventory"),
		metrics: metrics,
		cfg:     cfg,
		pending: make(map[uuid.UUID]struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Notify marks a segment's inventory as stale. Safe for concurrent use;
// duplicate notifications for a segment coalesce into one sync.
func (p *Publisher) Notify(segmentID uuid.UUID) {
	p.mu.Lock()
	p.pending[segmentID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Degraded reports whether the last processing pass left unsynced segments.
func (p *Publisher) Degraded() bool {
	return p.degraded.Load()
}

// Start launches the background worker.
func (p *Publisher) Start() {
	go p.run()
}

// Close stops the background worker and waits for it to finish.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
			p.processPending()
		}
	}
}

// processPending drains the pending set and syncs each segment. Segments
// that fail after retries are re-queued and the publisher reports a
// degraded state until a later pass succeeds.
func (p *Publisher) processPending() {
	for {
		p.mu.Lock()
		batch := make([]uuid.UUID, 0, len(p.pending))
		for id := range p.pending {
			batch = append(batch, id)
		}
		p.pending = make(map[uuid.UUID]struct{})
		p.mu.Unlock()

		if len(batch) == 0 {
			if !p.anyPending() {
				p.setDegraded(false)
			}
			return
		}

		var failed bool
		for _, segmentID := range batch {
			if err := p.syncWithRetry(context.Background(), segmentID); err != nil {
				failed = true
				if p.metrics != nil {
					p.metrics.RecordInventoryPublishFailed()
				}
				p.logger.Error("inventory sync failed, parking segment",
					"segment_id", segmentID, "error", err)
				sentry.CaptureException(fmt.Errorf("inventory sync for segment %s: %w", segmentID, err))
				p.mu.Lock()
				p.pending[segmentID] = struct{}{}
				p.mu.Unlock()
			}
		}
		if failed {
			p.setDegraded(true)
			return
		}
	}
}

func (p *Publisher) anyPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

func (p *Publisher) setDegraded(degraded bool) {
	if p.degraded.Swap(degraded) != degraded && p.metrics != nil {
		p.metrics.SetInventoryDegraded(degraded)
	}
}

// syncWithRetry runs SyncInventory with bounded exponential backoff.
func (p *Publisher) syncWithRetry(ctx context.Context, segmentID uuid.UUID) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.Backoff * time.Duration(1<<uint(attempt-1))
			p.logger.Info("retrying inventory sync", "segment_id", segmentID, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-p.stop:
				return lastErr
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := p.SyncInventory(ctx, segmentID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// SyncInventory recomputes the segment's IPv4 inventory from the store and
// upserts it in the placement service. Segments that no longer exist, or
// that have no publishable IPv4 capacity, have their inventory removed.
// A resource_provider_generation conflict is refetched and retried once.
func (p *Publisher) SyncInventory(ctx context.Context, segmentID uuid.UUID) error {
	_, found, err := p.store.GetSegment(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("get segment: %w", err)
	}
	if !found {
		if err := p.client.DeleteInventory(ctx, segmentID); err != nil {
			return fmt.Errorf("delete inventory: %w", err)
		}
		p.recordPublished()
		return nil
	}

	subnets, err := p.store.ListSubnetsBySegment(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("list subnets: %w", err)
	}
	allocations := make(map[uuid.UUID][]domain.Allocation, len(subnets))
	for _, sub := range subnets {
		subAllocs, err := p.store.ListAllocations(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		allocations[sub.ID] = subAllocs
	}

	inv, ok := Compute(subnets, allocations)
	if !ok {
		if err := p.client.DeleteInventory(ctx, segmentID); err != nil {
			return fmt.Errorf("delete inventory: %w", err)
		}
		p.recordPublished()
		return nil
	}

	name := AggregateName(segmentID)
	if err := p.client.EnsureResourceProvider(ctx, segmentID, name); err != nil {
		return fmt.Errorf("ensure resource provider: %w", err)
	}

	if err := p.upsertInventory(ctx, segmentID, inv); err != nil {
		return err
	}

	if err := p.syncAggregate(ctx, segmentID, name); err != nil {
		return err
	}

	p.recordPublished()
	p.logger.Debug("inventory synced",
		"segment_id", segmentID, "total", inv.Total, "reserved", inv.Reserved)
	return nil
}

// upsertInventory writes the record with the provider's current generation.
// A lost generation race is refetched and retried once.
func (p *Publisher) upsertInventory(ctx context.Context, segmentID uuid.UUID, inv domain.Inventory) error {
	for attempt := 0; attempt < 2; attempt++ {
		current, _, err := p.client.GetInventory(ctx, segmentID)
		if err != nil {
			return fmt.Errorf("get inventory: %w", err)
		}
		rec := Record{
			Generation:      current.Generation,
			Total:           inv.Total,
			Reserved:        inv.Reserved,
			MinUnit:         inv.MinUnit,
			MaxUnit:         inv.MaxUnit,
			StepSize:        inv.StepSize,
			AllocationRatio: inv.AllocationRatio,
		}
		err = p.client.UpdateInventory(ctx, segmentID, rec)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrGenerationConflict) && attempt == 0 {
			p.logger.Warn("inventory generation conflict, refetching", "segment_id", segmentID)
			continue
		}
		return fmt.Errorf("update inventory: %w", err)
	}
	return fmt.Errorf("update inventory: %w", ErrGenerationConflict)
}

// syncAggregate keeps the segment's host aggregate and its host set
// aligned with the local host-segment mappings.
func (p *Publisher) syncAggregate(ctx context.Context, segmentID uuid.UUID, name string) error {
	if err := p.client.EnsureAggregate(ctx, segmentID, name); err != nil {
		return fmt.Errorf("ensure aggregate: %w", err)
	}
	hosts, err := p.store.HostsForSegment(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("hosts for segment: %w", err)
	}
	if err := p.client.SetAggregateHosts(ctx, segmentID, hosts); err != nil {
		return fmt.Errorf("set aggregate hosts: %w", err)
	}
	return nil
}

func (p *Publisher) recordPublished() {
	if p.metrics != nil {
		p.metrics.RecordInventoryPublished()
	}
}

// ReconcileAll syncs every known segment. Scheduled periodically to heal
// drift from missed notifications or placement-side changes.
func (p *Publisher) ReconcileAll(ctx context.Context) error {
	networks, err := p.store.ListNetworks(ctx)
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}

	var firstErr error
	for _, network := range networks {
		segments, err := p.store.ListSegments(ctx, network.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("list segments: %w", err)
			}
			continue
		}
		for _, seg := range segments {
			if err := p.SyncInventory(ctx, seg.ID); err != nil {
				p.logger.Error("reconcile sync failed", "segment_id", seg.ID, "error", err)
				if p.metrics != nil {
					p.metrics.RecordInventoryPublishFailed()
				}
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	if p.metrics != nil {
		p.metrics.RecordInventoryReconcile()
	}
	return firstErr
}
