// Package cidr provides reusable CIDR math utilities for containment checks,
// overlap detection, address parsing, and allocation pool derivation.
package cidr

import (
	"fmt"
	"net/netip"
)

// Range is an inclusive span of addresses.
type Range struct {
	Start netip.Addr
	End   netip.Addr
}

// Size returns the number of addresses in the range, 0 when invalid.
func (r Range) Size() int64 {
	if !r.Start.Is4() || !r.End.Is4() {
		return 0
	}
	start := addrToUint32(r.Start)
	end := addrToUint32(r.End)
	if end < start {
		return 0
	}
	return int64(end-start) + 1
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr netip.Addr) bool {
	return addr.Compare(r.Start) >= 0 && addr.Compare(r.End) <= 0
}

// Overlaps reports whether two ranges share any address.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Compare(o.End) <= 0 && o.Start.Compare(r.End) <= 0
}

// PrefixContains reports whether outer fully contains inner.
// Both prefixes must be valid IPv4 prefixes; returns false otherwise.
func PrefixContains(outer, inner netip.Prefix) bool {
	if !outer.IsValid() || !inner.IsValid() {
		return false
	}
	if !outer.Addr().Is4() || !inner.Addr().Is4() {
		return false
	}
	// inner must have equal or longer prefix length
	if inner.Bits() < outer.Bits() {
		return false
	}
	// both first and last address of inner must be within outer
	return outer.Contains(inner.Masked().Addr()) && outer.Contains(LastAddr(inner))
}

// PrefixContainsAddr reports whether prefix contains addr.
func PrefixContainsAddr(prefix netip.Prefix, addr netip.Addr) bool {
	if !prefix.IsValid() || !addr.IsValid() {
		return false
	}
	return prefix.Contains(addr)
}

// ParseCIDROrIP parses a string as either a CIDR prefix ("10.0.0.0/8")
// or a bare IP address ("10.1.2.5" → 10.1.2.5/32).
func ParseCIDROrIP(s string) (netip.Prefix, error) {
	// Try CIDR first
	if p, err := netip.ParsePrefix(s); err == nil {
		if !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("only IPv4 supported: %s", s)
		}
		return p.Masked(), nil
	}
	// Try bare IP
	if a, err := netip.ParseAddr(s); err == nil {
		if !a.Is4() {
			return netip.Prefix{}, fmt.Errorf("only IPv4 supported: %s", s)
		}
		return netip.PrefixFrom(a, 32), nil
	}
	return netip.Prefix{}, fmt.Errorf("invalid CIDR or IP: %q", s)
}

// LastAddr returns the last address in a prefix (the broadcast address
// for IPv4).
func LastAddr(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() {
		a4 := p.Masked().Addr().As4()
		// set all host bits to 1
		hostBits := 32 - p.Bits()
		for i := 0; i < hostBits; i++ {
			byteIdx := 3 - i/8
			bitIdx := i % 8
			a4[byteIdx] |= 1 << bitIdx
		}
		return netip.AddrFrom4(a4)
	}
	a16 := p.Masked().Addr().As16()
	hostBits := 128 - p.Bits()
	for i := 0; i < hostBits; i++ {
		byteIdx := 15 - i/8
		bitIdx := i % 8
		a16[byteIdx] |= 1 << bitIdx
	}
	return netip.AddrFrom16(a16)
}

// FirstUsable returns the first assignable address in a prefix, skipping
// the network address. IPv4 /31 and /32 have no reserved addresses.
func FirstUsable(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() && p.Bits() >= 31 {
		return p.Masked().Addr()
	}
	if !p.Addr().Is4() && p.Bits() >= 127 {
		return p.Masked().Addr()
	}
	return p.Masked().Addr().Next()
}

// LastUsable returns the last assignable address in a prefix. Only IPv4
// reserves a broadcast address at the end of the block.
func LastUsable(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() {
		if p.Bits() >= 31 {
			return LastAddr(p)
		}
		return LastAddr(p).Prev()
	}
	return LastAddr(p)
}

// UsableRange returns the assignable span of an IPv4 prefix.
func UsableRange(p netip.Prefix) Range {
	return Range{Start: FirstUsable(p), End: LastUsable(p)}
}

// GeneratePools derives default allocation pools for a prefix: the full
// usable range, split around the gateway address when it falls inside.
// The gateway may be the zero Addr when the subnet carries no gateway.
func GeneratePools(p netip.Prefix, gateway netip.Addr) []Range {
	usable := UsableRange(p)
	if usable.Start.Compare(usable.End) > 0 {
		return nil
	}
	if !gateway.IsValid() || !usable.Contains(gateway) {
		return []Range{usable}
	}
	var pools []Range
	if gateway.Compare(usable.Start) > 0 {
		pools = append(pools, Range{Start: usable.Start, End: gateway.Prev()})
	}
	if gateway.Compare(usable.End) < 0 {
		pools = append(pools, Range{Start: gateway.Next(), End: usable.End})
	}
	return pools
}

// ValidatePools checks that the ranges are well ordered, lie inside the
// prefix's usable span, and do not overlap one another.
func ValidatePools(p netip.Prefix, pools []Range) error {
	usable := UsableRange(p)
	for i, pool := range pools {
		if pool.Start.Is4() != p.Addr().Is4() || pool.End.Is4() != p.Addr().Is4() {
			return fmt.Errorf("pool %d: address family differs from %s", i, p)
		}
		if pool.Start.Compare(pool.End) > 0 {
			return fmt.Errorf("pool %d: start %s after end %s", i, pool.Start, pool.End)
		}
		if pool.Start.Compare(usable.Start) < 0 || pool.End.Compare(usable.End) > 0 {
			return fmt.Errorf("pool %d: range %s-%s outside usable range %s-%s of %s",
				i, pool.Start, pool.End, usable.Start, usable.End, p)
		}
		for j := 0; j < i; j++ {
			if pool.Overlaps(pools[j]) {
				return fmt.Errorf("pool %d overlaps pool %d", i, j)
			}
		}
	}
	return nil
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
