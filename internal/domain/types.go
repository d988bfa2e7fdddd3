// Package domain defines the core entities of segmentpam: networks,
// segments, subnets, allocation pools, ports, and host/segment mappings.
package domain

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// NetworkType identifies the segmentation technology of a segment.
type NetworkType string

const (
	NetworkTypeVLAN  NetworkType = "vlan"
	NetworkTypeVXLAN NetworkType = "vxlan"
	NetworkTypeGRE   NetworkType = "gre"
	NetworkTypeFlat  NetworkType = "flat"
)

// Valid reports whether t is a known network type.
func (t NetworkType) Valid() bool {
	switch t {
	case NetworkTypeVLAN, NetworkTypeVXLAN, NetworkTypeGRE, NetworkTypeFlat:
		return true
	}
	return false
}

// IPAllocation describes how a port obtains its fixed IPs.
type IPAllocation string

const (
	// IPAllocationImmediate means the address was assigned at creation.
	IPAllocationImmediate IPAllocation = "immediate"
	// IPAllocationDeferred means assignment waits for the binding host.
	IPAllocationDeferred IPAllocation = "deferred"
)

// BindingState is the per-port IP allocation state machine.
type BindingState string

const (
	BindingUnbound          BindingState = "unbound"
	BindingHostBound        BindingState = "host_bound"
	BindingAllocated        BindingState = "allocated"
	BindingAllocationFailed BindingState = "allocation_failed"
)

// Network is a logical layer-3 network. A routed network is composed of
// multiple layer-2 segments joined by external routing.
type Network struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Shared    bool      `json:"shared"`
	Routed    bool      `json:"routed"`
	CreatedAt time.Time `json:"created_at"`
}

// L2Adjacency reports whether ports on the network can expect direct
// layer-2 connectivity to one another. False once the network is routed.
func (n Network) L2Adjacency() bool { return !n.Routed }

// Segment is a single layer-2 broadcast domain within a network.
type Segment struct {
	ID              uuid.UUID   `json:"id"`
	NetworkID       uuid.UUID   `json:"network_id"`
	PhysicalNetwork string      `json:"physical_network"`
	NetworkType     NetworkType `json:"network_type"`
	// SegmentationID is the VLAN ID / VNI / tunnel key. Unused for flat.
	SegmentationID int       `json:"segmentation_id"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AllocationPool is an inclusive range of addresses available for
// allocation within a subnet.
type AllocationPool struct {
	Start netip.Addr `json:"start"`
	End   netip.Addr `json:"end"`
}

// Size returns the number of addresses in the pool.
func (p AllocationPool) Size() int64 {
	if !p.Start.Is4() || !p.End.Is4() {
		return 0
	}
	s := p.Start.As4()
	e := p.End.As4()
	start := int64(s[0])<<24 | int64(s[1])<<16 | int64(s[2])<<8 | int64(s[3])
	end := int64(e[0])<<24 | int64(e[1])<<16 | int64(e[2])<<8 | int64(e[3])
	if end < start {
		return 0
	}
	return end - start + 1
}

// Contains reports whether addr falls inside the pool range.
func (p AllocationPool) Contains(addr netip.Addr) bool {
	return addr.Compare(p.Start) >= 0 && addr.Compare(p.End) <= 0
}

// Subnet is an address block on a network, optionally bound to one of the
// network's segments. The binding is set at creation and never changes.
type Subnet struct {
	ID         uuid.UUID        `json:"id"`
	NetworkID  uuid.UUID        `json:"network_id"`
	SegmentID  *uuid.UUID       `json:"segment_id,omitempty"`
	CIDR       netip.Prefix     `json:"cidr"`
	IPVersion  int              `json:"ip_version"`
	GatewayIP  *netip.Addr      `json:"gateway_ip,omitempty"`
	Pools      []AllocationPool `json:"allocation_pools"`
	EnableDHCP bool             `json:"enable_dhcp"`
	CreatedAt  time.Time        `json:"created_at"`
}

// FixedIP is a single address assignment on a port.
type FixedIP struct {
	SubnetID uuid.UUID  `json:"subnet_id"`
	Address  netip.Addr `json:"ip_address"`
}

// Port is an attachment point on a network.
type Port struct {
	ID           uuid.UUID    `json:"id"`
	NetworkID    uuid.UUID    `json:"network_id"`
	Name         string       `json:"name,omitempty"`
	FixedIPs     []FixedIP    `json:"fixed_ips"`
	IPAllocation IPAllocation `json:"ip_allocation"`
	State        BindingState `json:"binding_state"`
	Host         string       `json:"host,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Allocation records one in-use address within a subnet. The port
// reference is nil for reservations not owned by a port.
type Allocation struct {
	SubnetID  uuid.UUID  `json:"subnet_id"`
	Address   netip.Addr `json:"address"`
	PortID    *uuid.UUID `json:"port_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HostSegmentMapping links a compute or network host to a segment it can
// reach. A multi-homed host may map to several segments.
type HostSegmentMapping struct {
	Host      string    `json:"host"`
	SegmentID uuid.UUID `json:"segment_id"`
}

// Inventory is the per-segment IPv4 address inventory published to the
// placement service. One record per segment, keyed by segment ID.
type Inventory struct {
	Total           int64   `json:"total"`
	Reserved        int64   `json:"reserved"`
	MinUnit         int64   `json:"min_unit"`
	MaxUnit         int64   `json:"max_unit"`
	StepSize        int64   `json:"step_size"`
	AllocationRatio float64 `json:"allocation_ratio"`
}

// CreateNetwork is the input for creating a network. When the provider
// attributes are set, the first segment is created alongside the network.
type CreateNetwork struct {
	Name   string `json:"name"`
	Shared bool   `json:"shared"`

	// Optional provider attributes for the implicit first segment.
	PhysicalNetwork string      `json:"physical_network,omitempty"`
	NetworkType     NetworkType `json:"network_type,omitempty"`
	SegmentationID  int         `json:"segmentation_id,omitempty"`
}

// CreateSegment is the input for creating a segment on an existing network.
type CreateSegment struct {
	NetworkID       uuid.UUID   `json:"network_id"`
	PhysicalNetwork string      `json:"physical_network"`
	NetworkType     NetworkType `json:"network_type"`
	SegmentationID  int         `json:"segmentation_id"`
	Name            string      `json:"name,omitempty"`
}

// AllocationPoolInput is one explicit pool range in a subnet request.
type AllocationPoolInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CreateSubnet is the input for creating a subnet. SegmentID must be nil
// on a non-routed network and non-nil on a routed one once the network's
// mode is established by its first subnet.
type CreateSubnet struct {
	NetworkID  uuid.UUID             `json:"network_id"`
	SegmentID  *uuid.UUID            `json:"segment_id,omitempty"`
	CIDR       string                `json:"cidr"`
	GatewayIP  *string               `json:"gateway_ip,omitempty"`
	Pools      []AllocationPoolInput `json:"allocation_pools,omitempty"`
	EnableDHCP bool                  `json:"enable_dhcp"`
}

// FixedIPSpec is an explicit address request on port creation. Either
// field may be empty; a concrete subnet or address disables deferral.
type FixedIPSpec struct {
	SubnetID *uuid.UUID `json:"subnet_id,omitempty"`
	Address  *string    `json:"ip_address,omitempty"`
}

// CreatePort is the input for creating a port.
type CreatePort struct {
	NetworkID uuid.UUID    `json:"network_id"`
	Name      string       `json:"name,omitempty"`
	FixedIP   *FixedIPSpec `json:"fixed_ip,omitempty"`
	Host      string       `json:"host,omitempty"`
}
