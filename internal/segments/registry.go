// Package segments owns the segment lifecycle: the set of segments per
// network, host/segment connectivity mappings, and the invariants that
// keep a routed network consistent.
package segments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
	"segmentpam/internal/locking"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

var (
	// ErrDuplicatePhysicalNetwork is returned when another segment on the
	// same network already uses the physical network name.
	ErrDuplicatePhysicalNetwork = errors.New("physical network already in use on network")

	// ErrInvalidSegmentationID is returned when the segmentation ID is
	// out of the valid range for the segment's network type.
	ErrInvalidSegmentationID = errors.New("segmentation id out of range for network type")

	// ErrSegmentInUse is returned when a segment still has subnets or
	// live port bindings and cannot be deleted.
	ErrSegmentInUse = errors.New("segment in use")

	// ErrNetworkInUse is returned when a network still has segments,
	// subnets, or ports.
	ErrNetworkInUse = errors.New("network in use")
)

// Segmentation ID ranges per network type. Flat segments carry no ID.
const (
	vlanIDMin  = 1
	vlanIDMax  = 4094
	tunnelMin  = 1
	vxlanIDMax = 1<<24 - 1 // 24-bit VNI
	greIDMax   = 1<<32 - 1 // 32-bit key
)

// Notifier receives a signal whenever a segment's host set changes so
// inventory publication can update scheduler aggregates.
type Notifier interface {
	Notify(segmentID uuid.UUID)
}

// Registry manages networks, their segments, and host mappings. Segment
// mutations take a network-scoped exclusive section because uniqueness
// and the segmentation-mode invariant span the whole network.
type Registry struct {
	store    storage.Store
	logger   observability.Logger
	notifier Notifier
	netLocks *locking.Keyed[uuid.UUID]
}

// NewRegistry creates a Registry. notifier may be nil.
func NewRegistry(store storage.Store, logger observability.Logger, notifier Notifier) *Registry {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Registry{
		store:    store,
		logger:   logger.WithComponent("segments"),
		notifier: notifier,
		netLocks: locking.NewKeyed[uuid.UUID](),
	}
}

// LockNetwork takes the network-scoped exclusive section. The subnet
// binder shares it because the all-or-nothing invariant spans the
// network's subnet set.
func (r *Registry) LockNetwork(id uuid.UUID)   { r.netLocks.Lock(id) }
func (r *Registry) UnlockNetwork(id uuid.UUID) { r.netLocks.Unlock(id) }

// ValidateSegmentationID checks an ID against the range of its type.
func ValidateSegmentationID(t domain.NetworkType, id int) error {
	switch t {
	case domain.NetworkTypeVLAN:
		if id < vlanIDMin || id > vlanIDMax {
			return fmt.Errorf("vlan id %d: %w", id, ErrInvalidSegmentationID)
		}
	case domain.NetworkTypeVXLAN:
		if id < tunnelMin || id > vxlanIDMax {
			return fmt.Errorf("vxlan vni %d: %w", id, ErrInvalidSegmentationID)
		}
	case domain.NetworkTypeGRE:
		if int64(id) < tunnelMin || int64(id) > greIDMax {
			return fmt.Errorf("gre key %d: %w", id, ErrInvalidSegmentationID)
		}
	case domain.NetworkTypeFlat:
		if id != 0 {
			return fmt.Errorf("flat segment takes no segmentation id, got %d: %w", id, ErrInvalidSegmentationID)
		}
	default:
		return fmt.Errorf("unknown network type %q: %w", t, ErrInvalidSegmentationID)
	}
	return nil
}

// CreateNetwork creates a network. When the input carries provider
// attributes the first segment is created alongside it.
func (r *Registry) CreateNetwork(ctx context.Context, in domain.CreateNetwork) (domain.Network, error) {
	if in.Name == "" {
		return domain.Network{}, fmt.Errorf("name required: %w", storage.ErrValidation)
	}
	hasProvider := in.PhysicalNetwork != "" || in.NetworkType != ""
	if hasProvider {
		if !in.NetworkType.Valid() {
			return domain.Network{}, fmt.Errorf("network type %q: %w", in.NetworkType, storage.ErrValidation)
		}
		if err := ValidateSegmentationID(in.NetworkType, in.SegmentationID); err != nil {
			return domain.Network{}, err
		}
	}

	n := domain.Network{
		ID:        uuid.New(),
		Name:      in.Name,
		Shared:    in.Shared,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateNetwork(ctx, n); err != nil {
		return domain.Network{}, err
	}
	if hasProvider {
		seg := domain.Segment{
			ID:              uuid.New(),
			NetworkID:       n.ID,
			PhysicalNetwork: in.PhysicalNetwork,
			NetworkType:     in.NetworkType,
			SegmentationID:  in.SegmentationID,
			CreatedAt:       n.CreatedAt,
		}
		if err := r.store.CreateSegment(ctx, seg); err != nil {
			// roll the network back so creation stays atomic to callers
			_, _ = r.store.DeleteNetwork(ctx, n.ID)
			return domain.Network{}, err
		}
		r.logger.InfoContext(ctx, "network created with provider segment",
			"network_id", n.ID, "segment_id", seg.ID, "physical_network", seg.PhysicalNetwork)
	} else {
		r.logger.InfoContext(ctx, "network created", "network_id", n.ID)
	}
	return n, nil
}

// GetNetwork returns a network by ID.
func (r *Registry) GetNetwork(ctx context.Context, id uuid.UUID) (domain.Network, error) {
	n, ok, err := r.store.GetNetwork(ctx, id)
	if err != nil {
		return domain.Network{}, err
	}
	if !ok {
		return domain.Network{}, fmt.Errorf("network %s: %w", id, storage.ErrNotFound)
	}
	return n, nil
}

// ListNetworks returns all networks.
func (r *Registry) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	return r.store.ListNetworks(ctx)
}

// DeleteNetwork removes an empty network.
func (r *Registry) DeleteNetwork(ctx context.Context, id uuid.UUID) error {
	r.LockNetwork(id)
	defer r.UnlockNetwork(id)

	ports, err := r.store.ListPorts(ctx, id)
	if err != nil {
		return err
	}
	if len(ports) > 0 {
		return fmt.Errorf("network %s has %d ports: %w", id, len(ports), ErrNetworkInUse)
	}
	ok, err := r.store.DeleteNetwork(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("network %s: %w", id, ErrNetworkInUse)
		}
		return err
	}
	if !ok {
		return fmt.Errorf("network %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// CreateSegment adds a segment to an existing network.
func (r *Registry) CreateSegment(ctx context.Context, in domain.CreateSegment) (domain.Segment, error) {
	if in.PhysicalNetwork == "" {
		return domain.Segment{}, fmt.Errorf("physical network required: %w", storage.ErrValidation)
	}
	if err := ValidateSegmentationID(in.NetworkType, in.SegmentationID); err != nil {
		return domain.Segment{}, err
	}

	r.LockNetwork(in.NetworkID)
	defer r.UnlockNetwork(in.NetworkID)

	if _, ok, err := r.store.GetNetwork(ctx, in.NetworkID); err != nil {
		return domain.Segment{}, err
	} else if !ok {
		return domain.Segment{}, fmt.Errorf("network %s: %w", in.NetworkID, storage.ErrNotFound)
	}

	existing, err := r.store.ListSegments(ctx, in.NetworkID)
	if err != nil {
		return domain.Segment{}, err
	}
	for _, s := range existing {
		if s.PhysicalNetwork == in.PhysicalNetwork {
			return domain.Segment{}, fmt.Errorf("%q on network %s: %w",
				in.PhysicalNetwork, in.NetworkID, ErrDuplicatePhysicalNetwork)
		}
	}

	seg := domain.Segment{
		ID:              uuid.New(),
		NetworkID:       in.NetworkID,
		PhysicalNetwork: in.PhysicalNetwork,
		NetworkType:     in.NetworkType,
		SegmentationID:  in.SegmentationID,
		Name:            in.Name,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.store.CreateSegment(ctx, seg); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return domain.Segment{}, fmt.Errorf("%q on network %s: %w",
				in.PhysicalNetwork, in.NetworkID, ErrDuplicatePhysicalNetwork)
		}
		return domain.Segment{}, err
	}
	r.logger.InfoContext(ctx, "segment created",
		"segment_id", seg.ID, "network_id", seg.NetworkID,
		"physical_network", seg.PhysicalNetwork, "network_type", seg.NetworkType)
	return seg, nil
}

// GetSegment returns a segment by ID.
func (r *Registry) GetSegment(ctx context.Context, id uuid.UUID) (domain.Segment, error) {
	s, ok, err := r.store.GetSegment(ctx, id)
	if err != nil {
		return domain.Segment{}, err
	}
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

// ListSegments returns the network's segments in declaration order.
func (r *Registry) ListSegments(ctx context.Context, networkID uuid.UUID) ([]domain.Segment, error) {
	return r.store.ListSegments(ctx, networkID)
}

// DeleteSegment removes a segment that no subnet references and no live
// binding depends on. Referenced segments fail with ErrSegmentInUse,
// never a silent cascade.
func (r *Registry) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	seg, err := r.GetSegment(ctx, id)
	if err != nil {
		return err
	}

	r.LockNetwork(seg.NetworkID)
	defer r.UnlockNetwork(seg.NetworkID)

	subnets, err := r.store.ListSubnetsBySegment(ctx, id)
	if err != nil {
		return err
	}
	if len(subnets) > 0 {
		return fmt.Errorf("segment %s has %d subnets: %w", id, len(subnets), ErrSegmentInUse)
	}

	ok, err := r.store.DeleteSegment(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("segment %s: %w", id, ErrSegmentInUse)
		}
		return err
	}
	if !ok {
		return fmt.Errorf("segment %s: %w", id, storage.ErrNotFound)
	}
	r.logger.InfoContext(ctx, "segment deleted", "segment_id", id, "network_id", seg.NetworkID)
	return nil
}

// MapHost records that host can reach the segment. Idempotent.
func (r *Registry) MapHost(ctx context.Context, host string, segmentID uuid.UUID) error {
	if err := r.store.MapHostToSegment(ctx, host, segmentID); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "host mapped to segment", "host", host, "segment_id", segmentID)
	if r.notifier != nil {
		r.notifier.Notify(segmentID)
	}
	return nil
}

// UnmapHost removes a host/segment mapping.
func (r *Registry) UnmapHost(ctx context.Context, host string, segmentID uuid.UUID) error {
	ok, err := r.store.UnmapHostFromSegment(ctx, host, segmentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mapping %s/%s: %w", host, segmentID, storage.ErrNotFound)
	}
	if r.notifier != nil {
		r.notifier.Notify(segmentID)
	}
	return nil
}

// SegmentsForHost returns the segments reachable from host in
// declaration order.
func (r *Registry) SegmentsForHost(ctx context.Context, host string) ([]domain.Segment, error) {
	return r.store.SegmentsForHost(ctx, host)
}

// HostsForSegment returns the hosts mapped to a segment.
func (r *Registry) HostsForSegment(ctx context.Context, segmentID uuid.UUID) ([]string, error) {
	return r.store.HostsForSegment(ctx, segmentID)
}

// ReportHostPhysnets replaces host mappings from an agent's report of
// the physical networks the host is wired to. Segments on any network
// whose physical network name appears in the report become reachable.
func (r *Registry) ReportHostPhysnets(ctx context.Context, host string, physnets []string) error {
	if host == "" {
		return fmt.Errorf("host required: %w", storage.ErrValidation)
	}
	wanted := make(map[string]bool, len(physnets))
	for _, p := range physnets {
		wanted[p] = true
	}

	current, err := r.store.SegmentsForHost(ctx, host)
	if err != nil {
		return err
	}
	currentIDs := make(map[uuid.UUID]bool, len(current))
	for _, s := range current {
		currentIDs[s.ID] = true
		if !wanted[s.PhysicalNetwork] {
			if _, err := r.store.UnmapHostFromSegment(ctx, host, s.ID); err != nil {
				return err
			}
			if r.notifier != nil {
				r.notifier.Notify(s.ID)
			}
		}
	}

	networks, err := r.store.ListNetworks(ctx)
	if err != nil {
		return err
	}
	for _, n := range networks {
		segs, err := r.store.ListSegments(ctx, n.ID)
		if err != nil {
			return err
		}
		for _, s := range segs {
			if wanted[s.PhysicalNetwork] && !currentIDs[s.ID] {
				if err := r.store.MapHostToSegment(ctx, host, s.ID); err != nil {
					return err
				}
				if r.notifier != nil {
					r.notifier.Notify(s.ID)
				}
			}
		}
	}
	r.logger.InfoContext(ctx, "host physnet report applied", "host", host, "physnets", physnets)
	return nil
}
