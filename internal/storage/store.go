// Package storage provides storage interfaces and implementations for
// segmentpam. The Store interface is the persistence boundary for all
// network, segment, subnet, port, and allocation state.
package storage

import (
	"context"
	"net/netip"

	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// Store is the persistence interface shared by the memory, sqlite, and
// postgres backends. List methods return deterministic order (creation
// time, ID as tiebreak) so pagination upstream is stable.
type Store interface {
	// Networks
	CreateNetwork(ctx context.Context, n domain.Network) error
	GetNetwork(ctx context.Context, id uuid.UUID) (domain.Network, bool, error)
	ListNetworks(ctx context.Context) ([]domain.Network, error)
	// UpdateNetworkRouted flips the routed flag when the first
	// segment-bound subnet appears on the network.
	UpdateNetworkRouted(ctx context.Context, id uuid.UUID, routed bool) (bool, error)
	DeleteNetwork(ctx context.Context, id uuid.UUID) (bool, error)

	// Segments
	CreateSegment(ctx context.Context, s domain.Segment) error
	GetSegment(ctx context.Context, id uuid.UUID) (domain.Segment, bool, error)
	ListSegments(ctx context.Context, networkID uuid.UUID) ([]domain.Segment, error)
	DeleteSegment(ctx context.Context, id uuid.UUID) (bool, error)

	// Subnets
	CreateSubnet(ctx context.Context, s domain.Subnet) error
	GetSubnet(ctx context.Context, id uuid.UUID) (domain.Subnet, bool, error)
	ListSubnets(ctx context.Context, networkID uuid.UUID) ([]domain.Subnet, error)
	ListSubnetsBySegment(ctx context.Context, segmentID uuid.UUID) ([]domain.Subnet, error)
	// UpdateSubnetPools replaces the subnet's allocation pool set.
	UpdateSubnetPools(ctx context.Context, id uuid.UUID, pools []domain.AllocationPool) (bool, error)
	DeleteSubnet(ctx context.Context, id uuid.UUID) (bool, error)

	// Ports
	CreatePort(ctx context.Context, p domain.Port) error
	GetPort(ctx context.Context, id uuid.UUID) (domain.Port, bool, error)
	ListPorts(ctx context.Context, networkID uuid.UUID) ([]domain.Port, error)
	UpdatePort(ctx context.Context, p domain.Port) (bool, error)
	DeletePort(ctx context.Context, id uuid.UUID) (bool, error)

	// Allocations. CreateAllocation returns ErrConflict when the address
	// is already in use within the subnet.
	CreateAllocation(ctx context.Context, a domain.Allocation) error
	DeleteAllocation(ctx context.Context, subnetID uuid.UUID, addr netip.Addr) (bool, error)
	ListAllocations(ctx context.Context, subnetID uuid.UUID) ([]domain.Allocation, error)

	// Host/segment mappings. MapHostToSegment is idempotent.
	MapHostToSegment(ctx context.Context, host string, segmentID uuid.UUID) error
	UnmapHostFromSegment(ctx context.Context, host string, segmentID uuid.UUID) (bool, error)
	// SegmentsForHost returns the segments reachable from host in
	// segment declaration order.
	SegmentsForHost(ctx context.Context, host string) ([]domain.Segment, error)
	HostsForSegment(ctx context.Context, segmentID uuid.UUID) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
