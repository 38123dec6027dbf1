// Package ipclass classifies IP addresses that must never be reported to an
// abuse database: private, loopback, link-local, multicast and the other
// special-purpose ranges from the IANA registries.
//
// Documentation ranges (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24,
// 2001:db8::/32) are deliberately not restricted.
package ipclass

import "net/netip"

type special struct {
	name   string
	prefix netip.Prefix
}

var restricted = []special{
	// IPv4
	{"unspecified", netip.MustParsePrefix("0.0.0.0/8")},
	{"private", netip.MustParsePrefix("10.0.0.0/8")},
	{"carrierGradeNat", netip.MustParsePrefix("100.64.0.0/10")},
	{"loopback", netip.MustParsePrefix("127.0.0.0/8")},
	{"linkLocal", netip.MustParsePrefix("169.254.0.0/16")},
	{"private", netip.MustParsePrefix("172.16.0.0/12")},
	{"reserved", netip.MustParsePrefix("192.0.0.0/24")},
	{"as112", netip.MustParsePrefix("192.31.196.0/24")},
	{"amt", netip.MustParsePrefix("192.52.193.0/24")},
	{"reserved", netip.MustParsePrefix("192.88.99.0/24")},
	{"private", netip.MustParsePrefix("192.168.0.0/16")},
	{"as112", netip.MustParsePrefix("192.175.48.0/24")},
	{"benchmarking", netip.MustParsePrefix("198.18.0.0/15")},
	{"multicast", netip.MustParsePrefix("224.0.0.0/4")},
	{"broadcast", netip.MustParsePrefix("255.255.255.255/32")},
	{"reserved", netip.MustParsePrefix("240.0.0.0/4")},

	// IPv6
	{"unspecified", netip.MustParsePrefix("::/128")},
	{"loopback", netip.MustParsePrefix("::1/128")},
	{"ipv4Mapped", netip.MustParsePrefix("::ffff:0:0/96")},
	{"rfc6145", netip.MustParsePrefix("::ffff:0:0:0/96")},
	{"teredo", netip.MustParsePrefix("2001::/32")},
	{"benchmarking", netip.MustParsePrefix("2001:2::/48")},
	{"amt", netip.MustParsePrefix("2001:3::/32")},
	{"as112v6", netip.MustParsePrefix("2001:4:112::/48")},
	{"orchid2", netip.MustParsePrefix("2001:20::/28")},
	{"droneRemoteIdProtocolEntityTags", netip.MustParsePrefix("2001:30::/28")},
	{"6to4", netip.MustParsePrefix("2002::/16")},
	{"as112v6", netip.MustParsePrefix("2620:4f:8000::/48")},
	{"uniqueLocal", netip.MustParsePrefix("fc00::/7")},
	{"linkLocal", netip.MustParsePrefix("fe80::/10")},
	{"multicast", netip.MustParsePrefix("ff00::/8")},
}

// Classify returns the name of the special-purpose range containing addr.
// ok is false for globally routable unicast addresses.
func Classify(addr netip.Addr) (name string, ok bool) {
	if !addr.IsValid() {
		return "invalid", true
	}
	addr = addr.WithZone("")
	for _, s := range restricted {
		if s.prefix.Contains(addr) {
			return s.name, true
		}
	}
	return "", false
}
