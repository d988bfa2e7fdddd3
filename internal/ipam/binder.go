package ipam

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"segmentpam/internal/cidr"
	"segmentpam/internal/domain"
	"segmentpam/internal/observability"
	"segmentpam/internal/storage"
)

var (
	// ErrSegmentBindingMismatch is returned when a new subnet's segment
	// presence disagrees with the network's established mode: all of a
	// network's subnets are segment-bound, or none are.
	ErrSegmentBindingMismatch = errors.New("subnets on a network must either all be associated with segments or all not")

	// ErrInvalidSegmentReference is returned when the referenced segment
	// does not exist or belongs to a different network.
	ErrInvalidSegmentReference = errors.New("segment does not belong to subnet's network")

	// ErrGatewayInPool is returned when an explicit allocation pool
	// covers the gateway address.
	ErrGatewayInPool = errors.New("gateway ip conflicts with allocation pool")

	// ErrSubnetOverlap is returned when the CIDR overlaps another subnet
	// on the same network.
	ErrSubnetOverlap = errors.New("cidr overlaps existing subnet on network")
)

// NetworkLocker provides the network-scoped exclusive section shared
// with the segment registry; the all-or-nothing invariant spans the
// network's whole subnet set.
type NetworkLocker interface {
	LockNetwork(id uuid.UUID)
	UnlockNetwork(id uuid.UUID)
}

// Binder associates subnets to segments at creation time and keeps a
// network's subnet set consistent. The binding is immutable once set.
type Binder struct {
	store    storage.Store
	logger   observability.Logger
	locker   NetworkLocker
	notifier Notifier
}

// NewBinder creates a Binder. notifier may be nil.
func NewBinder(store storage.Store, logger observability.Logger, locker NetworkLocker, notifier Notifier) *Binder {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Binder{
		store:    store,
		logger:   logger.WithComponent("ipam.binder"),
		locker:   locker,
		notifier: notifier,
	}
}

// CreateSubnet validates the segment binding against the network's mode,
// derives allocation pools, and persists the subnet. The first subnet
// establishes whether the network is routed.
func (b *Binder) CreateSubnet(ctx context.Context, in domain.CreateSubnet) (domain.Subnet, error) {
	prefix, err := netip.ParsePrefix(in.CIDR)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("cidr %q: %w", in.CIDR, storage.ErrValidation)
	}
	prefix = prefix.Masked()
	ipVersion := 6
	if prefix.Addr().Is4() {
		ipVersion = 4
	}

	var gateway *netip.Addr
	if in.GatewayIP != nil {
		gw, err := netip.ParseAddr(*in.GatewayIP)
		if err != nil {
			return domain.Subnet{}, fmt.Errorf("gateway %q: %w", *in.GatewayIP, storage.ErrValidation)
		}
		if !prefix.Contains(gw) {
			return domain.Subnet{}, fmt.Errorf("gateway %s outside %s: %w", gw, prefix, storage.ErrValidation)
		}
		gateway = &gw
	}

	b.locker.LockNetwork(in.NetworkID)
	defer b.locker.UnlockNetwork(in.NetworkID)

	network, ok, err := b.store.GetNetwork(ctx, in.NetworkID)
	if err != nil {
		return domain.Subnet{}, err
	}
	if !ok {
		return domain.Subnet{}, fmt.Errorf("network %s: %w", in.NetworkID, storage.ErrNotFound)
	}

	existing, err := b.store.ListSubnets(ctx, in.NetworkID)
	if err != nil {
		return domain.Subnet{}, err
	}
	for _, s := range existing {
		if s.CIDR.Overlaps(prefix) {
			return domain.Subnet{}, fmt.Errorf("%s overlaps %s: %w", prefix, s.CIDR, ErrSubnetOverlap)
		}
	}

	// The first subnet establishes the network's mode; afterwards the
	// new subnet's segment presence must agree with it.
	if len(existing) > 0 {
		mode := existing[0].SegmentID != nil
		if (in.SegmentID != nil) != mode {
			return domain.Subnet{}, fmt.Errorf("network %s: %w", in.NetworkID, ErrSegmentBindingMismatch)
		}
	}

	if in.SegmentID != nil {
		seg, ok, err := b.store.GetSegment(ctx, *in.SegmentID)
		if err != nil {
			return domain.Subnet{}, err
		}
		if !ok || seg.NetworkID != in.NetworkID {
			return domain.Subnet{}, fmt.Errorf("segment %s: %w", *in.SegmentID, ErrInvalidSegmentReference)
		}
	}

	pools, err := b.preparePools(prefix, gateway, in.Pools)
	if err != nil {
		return domain.Subnet{}, err
	}

	subnet := domain.Subnet{
		ID:         uuid.New(),
		NetworkID:  in.NetworkID,
		SegmentID:  in.SegmentID,
		CIDR:       prefix,
		IPVersion:  ipVersion,
		GatewayIP:  gateway,
		Pools:      pools,
		EnableDHCP: in.EnableDHCP,
		CreatedAt:  time.Now().UTC(),
	}
	if err := b.store.CreateSubnet(ctx, subnet); err != nil {
		return domain.Subnet{}, err
	}

	if in.SegmentID != nil && !network.Routed {
		if _, err := b.store.UpdateNetworkRouted(ctx, in.NetworkID, true); err != nil {
			return domain.Subnet{}, err
		}
	}

	b.logger.InfoContext(ctx, "subnet created",
		"subnet_id", subnet.ID, "network_id", subnet.NetworkID,
		"cidr", subnet.CIDR, "segment_bound", subnet.SegmentID != nil)
	if b.notifier != nil && subnet.SegmentID != nil {
		b.notifier.Notify(*subnet.SegmentID)
	}
	return subnet, nil
}

// DeleteSubnet removes a subnet with no live allocations and recomputes
// the network's routed flag.
func (b *Binder) DeleteSubnet(ctx context.Context, id uuid.UUID) error {
	subnet, ok, err := b.store.GetSubnet(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subnet %s: %w", id, storage.ErrNotFound)
	}

	b.locker.LockNetwork(subnet.NetworkID)
	defer b.locker.UnlockNetwork(subnet.NetworkID)

	if _, err := b.store.DeleteSubnet(ctx, id); err != nil {
		return err
	}

	remaining, err := b.store.ListSubnets(ctx, subnet.NetworkID)
	if err != nil {
		return err
	}
	routed := false
	for _, s := range remaining {
		if s.SegmentID != nil {
			routed = true
			break
		}
	}
	if _, err := b.store.UpdateNetworkRouted(ctx, subnet.NetworkID, routed); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "subnet deleted", "subnet_id", id, "network_id", subnet.NetworkID)
	if b.notifier != nil && subnet.SegmentID != nil {
		b.notifier.Notify(*subnet.SegmentID)
	}
	return nil
}

// UpdatePools replaces a subnet's allocation pools. Existing allocations
// outside the new ranges stay allocated; they only block the ranges they
// occupy.
func (b *Binder) UpdatePools(ctx context.Context, id uuid.UUID, inputs []domain.AllocationPoolInput) (domain.Subnet, error) {
	subnet, ok, err := b.store.GetSubnet(ctx, id)
	if err != nil {
		return domain.Subnet{}, err
	}
	if !ok {
		return domain.Subnet{}, fmt.Errorf("subnet %s: %w", id, storage.ErrNotFound)
	}

	pools, err := b.preparePools(subnet.CIDR, subnet.GatewayIP, inputs)
	if err != nil {
		return domain.Subnet{}, err
	}
	if _, err := b.store.UpdateSubnetPools(ctx, id, pools); err != nil {
		return domain.Subnet{}, err
	}
	subnet.Pools = pools

	b.logger.InfoContext(ctx, "allocation pools updated", "subnet_id", id, "pools", len(pools))
	if b.notifier != nil && subnet.SegmentID != nil {
		b.notifier.Notify(*subnet.SegmentID)
	}
	return subnet, nil
}

// preparePools derives default pools from the CIDR or validates explicit
// ranges: in the usable span, non-overlapping, gateway outside them.
func (b *Binder) preparePools(prefix netip.Prefix, gateway *netip.Addr, inputs []domain.AllocationPoolInput) ([]domain.AllocationPool, error) {
	gw := netip.Addr{}
	if gateway != nil {
		gw = *gateway
	}

	if len(inputs) == 0 {
		var pools []domain.AllocationPool
		for _, r := range cidr.GeneratePools(prefix, gw) {
			pools = append(pools, domain.AllocationPool{Start: r.Start, End: r.End})
		}
		return pools, nil
	}

	ranges := make([]cidr.Range, 0, len(inputs))
	for _, in := range inputs {
		start, err := netip.ParseAddr(in.Start)
		if err != nil {
			return nil, fmt.Errorf("pool start %q: %w", in.Start, storage.ErrValidation)
		}
		end, err := netip.ParseAddr(in.End)
		if err != nil {
			return nil, fmt.Errorf("pool end %q: %w", in.End, storage.ErrValidation)
		}
		ranges = append(ranges, cidr.Range{Start: start, End: end})
	}
	if err := cidr.ValidatePools(prefix, ranges); err != nil {
		return nil, fmt.Errorf("%v: %w", err, storage.ErrValidation)
	}
	if gw.IsValid() {
		for _, r := range ranges {
			if r.Contains(gw) {
				return nil, fmt.Errorf("gateway %s in pool %s-%s: %w", gw, r.Start, r.End, ErrGatewayInPool)
			}
		}
	}

	pools := make([]domain.AllocationPool, 0, len(ranges))
	for _, r := range ranges {
		pools = append(pools, domain.AllocationPool{Start: r.Start, End: r.End})
	}
	return pools, nil
}
