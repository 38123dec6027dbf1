package ports

import "net/netip"

// AddressFilter decides whether a source address must never be reported.
//
// Implementations:
//   - Allowlist: operator-maintained file of IPs and CIDR blocks
type AddressFilter interface {
	// Contains reports whether addr is covered by the filter.
	Contains(addr netip.Addr) bool

	// Name returns the filter identifier for logging.
	Name() string
}
