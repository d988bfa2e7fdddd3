// Package validation provides input validation for segmentpam API requests.
package validation

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// Validation error types for specific error handling.
var (
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrTooLong       = errors.New("value exceeds maximum length")
	ErrInvalidFormat = errors.New("invalid format")
	ErrReservedRange = errors.New("cidr uses reserved address range")
	ErrInvalidPrefix = errors.New("invalid prefix length")
)

// Constraints for validation.
const (
	MaxNameLength    = 255
	MaxHostLength    = 253
	MaxPhysnetLength = 64
	// MinPrefixLength4 rejects absurdly large IPv4 blocks.
	MinPrefixLength4 = 8
	// MaxPrefixLength4 leaves room for at least two host addresses.
	MaxPrefixLength4 = 30
	MinPrefixLength6 = 16
	MaxPrefixLength6 = 126
)

// Reserved IPv4 ranges that must not back a subnet.
// These are based on IANA special-purpose registries.
var reservedIPv4Ranges = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),          // "This network" (RFC 791)
	netip.MustParsePrefix("127.0.0.0/8"),        // Loopback (RFC 1122)
	netip.MustParsePrefix("169.254.0.0/16"),     // Link-local (RFC 3927)
	netip.MustParsePrefix("224.0.0.0/4"),        // Multicast (RFC 5771)
	netip.MustParsePrefix("240.0.0.0/4"),        // Reserved for future use (RFC 1112)
	netip.MustParsePrefix("255.255.255.255/32"), // Broadcast
}

// physnetPattern matches physical network names as operators label
// provider bridges: lowercase alphanumerics with hyphens or underscores.
var physnetPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// hostPattern matches RFC 1123 host names, dotted labels allowed.
var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// CIDRError provides detailed CIDR validation error information.
type CIDRError struct {
	CIDR   string
	Reason string
	Err    error
}

func (e *CIDRError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid cidr %q: %s", e.CIDR, e.Reason)
	}
	return fmt.Sprintf("invalid cidr %q: %v", e.CIDR, e.Err)
}

func (e *CIDRError) Unwrap() error {
	return e.Err
}

// FieldError provides detailed validation error information for a named
// request field.
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, truncate(e.Value, 50), e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, truncate(e.Value, 50), e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidateCIDR validates a subnet CIDR string.
// It checks for:
// - Valid CIDR format (address/prefix)
// - Not in reserved IPv4 ranges (loopback, multicast, etc.)
// - Reasonable prefix length for the address family
func ValidateCIDR(cidr string) error {
	cidr = strings.TrimSpace(cidr)
	if cidr == "" {
		return &CIDRError{CIDR: cidr, Reason: "cannot be empty", Err: ErrEmptyValue}
	}

	if !strings.Contains(cidr, "/") {
		return &CIDRError{CIDR: cidr, Reason: "must be in address/prefix form", Err: ErrInvalidFormat}
	}

	pfx, err := netip.ParsePrefix(cidr)
	if err != nil {
		return &CIDRError{CIDR: cidr, Reason: "invalid cidr notation", Err: ErrInvalidFormat}
	}

	bits := pfx.Bits()
	if pfx.Addr().Is4() {
		for _, reserved := range reservedIPv4Ranges {
			if pfx.Overlaps(reserved) {
				return &CIDRError{
					CIDR:   cidr,
					Reason: fmt.Sprintf("overlaps with reserved range %s", reserved),
					Err:    ErrReservedRange,
				}
			}
		}
		if bits < MinPrefixLength4 || bits > MaxPrefixLength4 {
			return &CIDRError{
				CIDR:   cidr,
				Reason: fmt.Sprintf("ipv4 prefix length must be between /%d and /%d", MinPrefixLength4, MaxPrefixLength4),
				Err:    ErrInvalidPrefix,
			}
		}
		return nil
	}

	if bits < MinPrefixLength6 || bits > MaxPrefixLength6 {
		return &CIDRError{
			CIDR:   cidr,
			Reason: fmt.Sprintf("ipv6 prefix length must be between /%d and /%d", MinPrefixLength6, MaxPrefixLength6),
			Err:    ErrInvalidPrefix,
		}
	}
	return nil
}

// ValidatePhysicalNetwork validates a provider physical network label.
func ValidatePhysicalNetwork(physnet string) error {
	physnet = strings.TrimSpace(physnet)
	if physnet == "" {
		return &FieldError{Field: "physical_network", Value: physnet, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(physnet) > MaxPhysnetLength {
		return &FieldError{
			Field:  "physical_network",
			Value:  physnet,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxPhysnetLength),
			Err:    ErrTooLong,
		}
	}
	if !physnetPattern.MatchString(physnet) {
		return &FieldError{
			Field:  "physical_network",
			Value:  physnet,
			Reason: "must be lowercase alphanumerics, hyphens, or underscores",
			Err:    ErrInvalidFormat,
		}
	}
	return nil
}

// ValidateHost validates a compute or network host name.
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return &FieldError{Field: "host", Value: host, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(host) > MaxHostLength {
		return &FieldError{
			Field:  "host",
			Value:  host,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxHostLength),
			Err:    ErrTooLong,
		}
	}
	if !hostPattern.MatchString(host) {
		return &FieldError{
			Field:  "host",
			Value:  host,
			Reason: "must be a valid host name",
			Err:    ErrInvalidFormat,
		}
	}
	return nil
}

// ValidateName validates a name field (network name, segment name, etc.).
// It checks for:
// - Non-empty (after trimming whitespace)
// - Not exceeding maximum length
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &FieldError{Field: "name", Value: name, Reason: "cannot be empty", Err: ErrEmptyValue}
	}

	if len(name) > MaxNameLength {
		return &FieldError{
			Field:  "name",
			Value:  name,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength),
			Err:    ErrTooLong,
		}
	}

	return nil
}

// truncate shortens a string for display in error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
