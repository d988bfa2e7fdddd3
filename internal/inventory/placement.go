package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ResourceClassIPv4 is the placement resource class for IPv4 addresses.
const ResourceClassIPv4 = "IPV4_ADDRESS"

var (
	// ErrGenerationConflict is returned when an inventory update loses the
	// compare-and-swap race on resource_provider_generation.
	ErrGenerationConflict = errors.New("inventory: generation conflict")
	// ErrProviderNotFound is returned when the addressed resource provider
	// does not exist in the placement service.
	ErrProviderNotFound = errors.New("inventory: resource provider not found")
)

// Record is the wire shape of a per-segment inventory in the placement
// service.
type Record struct {
	Generation      int64   `json:"resource_provider_generation"`
	Total           int64   `json:"total"`
	Reserved        int64   `json:"reserved"`
	MinUnit         int64   `json:"min_unit"`
	MaxUnit         int64   `json:"max_unit"`
	StepSize        int64   `json:"step_size"`
	AllocationRatio float64 `json:"allocation_ratio"`
}

// PlacementClient talks to the external resource-inventory store. One
// resource provider and one host aggregate exist per segment, both keyed
// by the segment ID.
type PlacementClient interface {
	// EnsureResourceProvider creates the provider for a segment if it does
	// not already exist. Idempotent.
	EnsureResourceProvider(ctx context.Context, segmentID uuid.UUID, name string) error
	// GetInventory returns the current IPv4 inventory record and whether
	// one exists.
	GetInventory(ctx context.Context, segmentID uuid.UUID) (Record, bool, error)
	// UpdateInventory upserts the IPv4 inventory record. The record's
	// Generation must match the provider's current generation or
	// ErrGenerationConflict is returned.
	UpdateInventory(ctx context.Context, segmentID uuid.UUID, rec Record) error
	// DeleteInventory removes the IPv4 inventory record. Deleting a record
	// that does not exist is a no-op.
	DeleteInventory(ctx context.Context, segmentID uuid.UUID) error
	// EnsureAggregate creates the segment's host aggregate if it does not
	// already exist. Idempotent.
	EnsureAggregate(ctx context.Context, segmentID uuid.UUID, name string) error
	// SetAggregateHosts replaces the set of hosts associated with the
	// segment's aggregate.
	SetAggregateHosts(ctx context.Context, segmentID uuid.UUID, hosts []string) error
}
