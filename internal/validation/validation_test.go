package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCIDR(t *testing.T) {
	tests := []struct {
		name    string
		cidr    string
		wantErr error
	}{
		{"valid ipv4", "10.0.0.0/24", nil},
		{"valid ipv4 with whitespace", "  192.168.1.0/24  ", nil},
		{"valid documentation range", "203.0.113.0/24", nil},
		{"valid ipv6", "2001:db8::/64", nil},
		{"empty", "", ErrEmptyValue},
		{"missing prefix", "10.0.0.0", ErrInvalidFormat},
		{"garbage", "not-a-cidr/24", ErrInvalidFormat},
		{"loopback", "127.0.0.0/24", ErrReservedRange},
		{"link local", "169.254.10.0/24", ErrReservedRange},
		{"multicast", "224.0.0.0/8", ErrReservedRange},
		{"this network", "0.0.0.0/8", ErrReservedRange},
		{"ipv4 prefix too small", "10.0.0.0/4", ErrInvalidPrefix},
		{"ipv4 prefix too large", "10.0.0.0/31", ErrInvalidPrefix},
		{"ipv6 prefix too large", "2001:db8::/127", ErrInvalidPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCIDR(tt.cidr)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateCIDR(%q) = %v, want nil", tt.cidr, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCIDR(%q) = %v, want %v", tt.cidr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCIDRErrorDetail(t *testing.T) {
	err := ValidateCIDR("127.0.0.0/24")
	var cidrErr *CIDRError
	if !errors.As(err, &cidrErr) {
		t.Fatalf("expected *CIDRError, got %T", err)
	}
	if cidrErr.CIDR != "127.0.0.0/24" {
		t.Errorf("CIDR = %q, want the offending input", cidrErr.CIDR)
	}
	if !strings.Contains(cidrErr.Reason, "reserved") {
		t.Errorf("Reason = %q, want mention of the reserved range", cidrErr.Reason)
	}
}

func TestValidatePhysicalNetwork(t *testing.T) {
	tests := []struct {
		name    string
		physnet string
		wantErr error
	}{
		{"simple", "provider1", nil},
		{"with hyphen", "dc-east", nil},
		{"with underscore", "rack_12", nil},
		{"empty", "", ErrEmptyValue},
		{"uppercase", "Provider1", ErrInvalidFormat},
		{"leading hyphen", "-provider", ErrInvalidFormat},
		{"spaces", "provider 1", ErrInvalidFormat},
		{"too long", strings.Repeat("a", MaxPhysnetLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhysicalNetwork(tt.physnet)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePhysicalNetwork(%q) = %v, want nil", tt.physnet, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePhysicalNetwork(%q) = %v, want %v", tt.physnet, err, tt.wantErr)
			}
		})
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr error
	}{
		{"simple", "compute-1", nil},
		{"fqdn", "compute-1.dc1.example.com", nil},
		{"single label", "edge", nil},
		{"empty", "", ErrEmptyValue},
		{"trailing hyphen", "compute-", ErrInvalidFormat},
		{"double dot", "a..b", ErrInvalidFormat},
		{"underscore", "bad_host", ErrInvalidFormat},
		{"too long", strings.Repeat("a", MaxHostLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHost(tt.host)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateHost(%q) = %v, want nil", tt.host, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateHost(%q) = %v, want %v", tt.host, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "tenant network", nil},
		{"max length", strings.Repeat("x", MaxNameLength), nil},
		{"empty", "", ErrEmptyValue},
		{"whitespace only", "   ", ErrEmptyValue},
		{"too long", strings.Repeat("x", MaxNameLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestFieldErrorTruncatesValue(t *testing.T) {
	long := strings.Repeat("z", 300)
	err := ValidateName(long)
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected *FieldError, got %T", err)
	}
	if len(fieldErr.Error()) > 200 {
		t.Errorf("error message should truncate the offending value, got %d chars", len(fieldErr.Error()))
	}
}
