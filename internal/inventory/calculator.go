// Package inventory computes per-segment IPv4 address inventory and
// publishes it to an external placement service so schedulers only place
// workloads where a free address exists.
package inventory

import (
	"github.com/google/uuid"

	"segmentpam/internal/domain"
)

// Compute derives the placement inventory record for one segment from the
// IPv4 subnets bound to it and their current allocations.
//
// Total is the sum of allocation pool sizes, plus one for the gateway
// address when the subnet declares one. Reserved counts the gateway, one
// slot for the DHCP port when DHCP is enabled, and every address currently
// allocated inside a pool, so that total minus reserved equals the number
// of free addresses across the segment.
//
// The second return value is false when the segment has no publishable
// IPv4 capacity; the caller should remove any existing inventory record.
func Compute(subnets []domain.Subnet, allocations map[uuid.UUID][]domain.Allocation) (domain.Inventory, bool) {
	inv := domain.Inventory{
		MinUnit:         1,
		MaxUnit:         1,
		StepSize:        1,
		AllocationRatio: 1.0,
	}

	for _, sub := range subnets {
		if sub.IPVersion != 4 {
			continue
		}

		var subTotal int64
		for _, pool := range sub.Pools {
			subTotal += pool.Size()
		}
		if subTotal == 0 {
			continue
		}
		inv.Total += subTotal

		if sub.GatewayIP != nil {
			inv.Total++
			inv.Reserved++
		}
		if sub.EnableDHCP {
			inv.Reserved++
		}

		for _, alloc := range allocations[sub.ID] {
			for _, pool := range sub.Pools {
				if pool.Contains(alloc.Address) {
					inv.Reserved++
					break
				}
			}
		}
	}

	if inv.Total == 0 {
		return domain.Inventory{}, false
	}
	return inv, true
}
