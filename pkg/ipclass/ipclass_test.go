package ipclass

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		ip       string
		wantName string
		wantOK   bool
	}{
		{"10.1.2.3", "private", true},
		{"172.16.0.1", "private", true},
		{"172.31.255.255", "private", true},
		{"192.168.1.10", "private", true},
		{"127.0.0.1", "loopback", true},
		{"169.254.10.20", "linkLocal", true},
		{"224.0.0.251", "multicast", true},
		{"100.64.0.1", "carrierGradeNat", true},
		{"0.0.0.0", "unspecified", true},
		{"255.255.255.255", "broadcast", true},
		{"198.18.0.1", "benchmarking", true},
		{"240.0.0.1", "reserved", true},
		{"::1", "loopback", true},
		{"::", "unspecified", true},
		{"fe80::1", "linkLocal", true},
		{"fd00::1", "uniqueLocal", true},
		{"ff02::1", "multicast", true},
		{"::ffff:8.8.8.8", "ipv4Mapped", true},
		{"2002:c000:204::1", "6to4", true},
		{"2001:0:4136:e378::1", "teredo", true},

		{"8.8.8.8", "", false},
		{"172.32.0.1", "", false},
		{"203.0.113.5", "", false},
		{"2001:db8::1", "", false},
		{"2606:4700:4700::1111", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			name, ok := Classify(netip.MustParseAddr(tc.ip))
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantName, name)
		})
	}
}

func TestClassifyInvalid(t *testing.T) {
	name, ok := Classify(netip.Addr{})
	assert.True(t, ok)
	assert.Equal(t, "invalid", name)
}

func TestClassifyIgnoresZone(t *testing.T) {
	name, ok := Classify(netip.MustParseAddr("fe80::1%eth0"))
	assert.True(t, ok)
	assert.Equal(t, "linkLocal", name)
}

// Classify returns the first match, so a range must never be listed after
// a wider range that contains it.
func TestRestrictedRangesNarrowestFirst(t *testing.T) {
	for i, later := range restricted {
		for _, earlier := range restricted[:i] {
			if earlier.prefix.Bits() < later.prefix.Bits() && earlier.prefix.Contains(later.prefix.Addr()) {
				t.Errorf("%s (%s) is shadowed by %s (%s)", later.prefix, later.name, earlier.prefix, earlier.name)
			}
		}
	}
}
