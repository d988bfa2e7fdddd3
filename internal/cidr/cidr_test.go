package cidr

import (
	"net/netip"
	"testing"
)

func TestPrefixContains(t *testing.T) {
	tests := []struct {
		name  string
		outer string
		inner string
		want  bool
	}{
		{"parent contains child", "10.0.0.0/8", "10.1.0.0/16", true},
		{"parent contains exact match", "10.0.0.0/24", "10.0.0.0/24", true},
		{"child exceeds parent", "10.0.0.0/24", "10.0.1.0/24", false},
		{"disjoint prefixes", "10.0.0.0/8", "192.168.0.0/16", false},
		{"child wider than parent", "10.0.0.0/16", "10.0.0.0/8", false},
		{"single host in parent", "10.0.0.0/24", "10.0.0.5/32", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outer := netip.MustParsePrefix(tt.outer)
			inner := netip.MustParsePrefix(tt.inner)
			if got := PrefixContains(outer, inner); got != tt.want {
				t.Errorf("PrefixContains(%s, %s) = %v, want %v", tt.outer, tt.inner, got, tt.want)
			}
		})
	}
}

func TestUsableRange(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		wantStart string
		wantEnd   string
	}{
		{"/24 skips network and broadcast", "203.0.113.0/24", "203.0.113.1", "203.0.113.254"},
		{"/30 leaves two hosts", "10.0.0.0/30", "10.0.0.1", "10.0.0.2"},
		{"/31 keeps both addresses", "10.0.0.0/31", "10.0.0.0", "10.0.0.1"},
		{"/32 single host", "10.0.0.5/32", "10.0.0.5", "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := UsableRange(netip.MustParsePrefix(tt.prefix))
			if r.Start.String() != tt.wantStart || r.End.String() != tt.wantEnd {
				t.Errorf("UsableRange(%s) = %s-%s, want %s-%s",
					tt.prefix, r.Start, r.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestGeneratePools(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		gateway string
		want    [][2]string
	}{
		{
			"gateway at start", "203.0.113.0/24", "203.0.113.1",
			[][2]string{{"203.0.113.2", "203.0.113.254"}},
		},
		{
			"gateway in middle splits pool", "203.0.113.0/24", "203.0.113.100",
			[][2]string{{"203.0.113.1", "203.0.113.99"}, {"203.0.113.101", "203.0.113.254"}},
		},
		{
			"gateway at end", "203.0.113.0/24", "203.0.113.254",
			[][2]string{{"203.0.113.1", "203.0.113.253"}},
		},
		{
			"no gateway", "198.51.100.0/24", "",
			[][2]string{{"198.51.100.1", "198.51.100.254"}},
		},
		{
			"gateway outside cidr", "198.51.100.0/24", "203.0.113.1",
			[][2]string{{"198.51.100.1", "198.51.100.254"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gw netip.Addr
			if tt.gateway != "" {
				gw = netip.MustParseAddr(tt.gateway)
			}
			got := GeneratePools(netip.MustParsePrefix(tt.prefix), gw)
			if len(got) != len(tt.want) {
				t.Fatalf("GeneratePools() returned %d pools, want %d: %v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				if got[i].Start.String() != w[0] || got[i].End.String() != w[1] {
					t.Errorf("pool %d = %s-%s, want %s-%s", i, got[i].Start, got[i].End, w[0], w[1])
				}
			}
		})
	}
}

func TestValidatePools(t *testing.T) {
	p := netip.MustParsePrefix("203.0.113.0/24")
	mkRange := func(start, end string) Range {
		return Range{Start: netip.MustParseAddr(start), End: netip.MustParseAddr(end)}
	}

	tests := []struct {
		name    string
		pools   []Range
		wantErr bool
	}{
		{"single valid pool", []Range{mkRange("203.0.113.10", "203.0.113.20")}, false},
		{"two disjoint pools", []Range{
			mkRange("203.0.113.10", "203.0.113.20"),
			mkRange("203.0.113.30", "203.0.113.40"),
		}, false},
		{"start after end", []Range{mkRange("203.0.113.20", "203.0.113.10")}, true},
		{"includes network address", []Range{mkRange("203.0.113.0", "203.0.113.10")}, true},
		{"includes broadcast address", []Range{mkRange("203.0.113.250", "203.0.113.255")}, true},
		{"outside cidr", []Range{mkRange("198.51.100.10", "198.51.100.20")}, true},
		{"overlapping pools", []Range{
			mkRange("203.0.113.10", "203.0.113.30"),
			mkRange("203.0.113.20", "203.0.113.40"),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePools(p, tt.pools)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePools() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRangeSize(t *testing.T) {
	tests := []struct {
		start, end string
		want       int64
	}{
		{"10.0.0.1", "10.0.0.1", 1},
		{"10.0.0.1", "10.0.0.254", 254},
		{"10.0.0.0", "10.0.255.255", 65536},
		{"10.0.0.10", "10.0.0.5", 0}, // inverted
	}
	for _, tt := range tests {
		r := Range{Start: netip.MustParseAddr(tt.start), End: netip.MustParseAddr(tt.end)}
		if got := r.Size(); got != tt.want {
			t.Errorf("Range{%s, %s}.Size() = %d, want %d", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestRangeOverlaps(t *testing.T) {
	mk := func(s, e string) Range {
		return Range{Start: netip.MustParseAddr(s), End: netip.MustParseAddr(e)}
	}
	a := mk("10.0.0.10", "10.0.0.20")
	if !a.Overlaps(mk("10.0.0.20", "10.0.0.30")) {
		t.Error("touching ranges should overlap")
	}
	if a.Overlaps(mk("10.0.0.21", "10.0.0.30")) {
		t.Error("adjacent ranges should not overlap")
	}
	if !a.Overlaps(mk("10.0.0.5", "10.0.0.25")) {
		t.Error("enclosing range should overlap")
	}
}
