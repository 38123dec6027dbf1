// Package filter implements address filters consulted before reporting.
//
// The Allowlist holds operator-maintained IPs and CIDR blocks (own servers,
// monitoring hosts, partners) that must never be reported, whatever the
// firewall logs about them.
//
// File Format:
//   - One IP or CIDR per line: "203.0.113.7" or "198.51.100.0/24"
//   - Anything after a # is a comment
//   - Invalid entries are logged and skipped
//
// Thread Safety: Lookups read an atomically swapped snapshot, so Load can
// run while the dispatcher is consulting the list.
package filter

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// allowlistData is replaced as a whole on every Load.
type allowlistData struct {
	addrs    map[netip.Addr]struct{} // Exact addresses
	prefixes []netip.Prefix          // CIDR blocks
}

// Allowlist implements ports.AddressFilter.
type Allowlist struct {
	data     atomic.Pointer[allowlistData] // Current data (atomically swapped)
	filepath string                        // Path to allowlist file
	loadMu   sync.Mutex                    // Serializes Load() calls
}

// NewAllowlist creates an empty allowlist backed by path.
//
// Parameters:
//   - path: Allowlist file (call Load() to populate)
func NewAllowlist(path string) *Allowlist {
	a := &Allowlist{filepath: filepath.Clean(path)}
	a.data.Store(&allowlistData{addrs: make(map[netip.Addr]struct{})})
	return a
}

// Load reads the allowlist file.
//
// Parameters:
//   - ctx: Context for cancellation during file reading
//
// Returns:
//   - nil on success (including file not found - starts with empty list)
//   - Error if the file cannot be read
func (a *Allowlist) Load(ctx context.Context) error {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	file, err := os.Open(a.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", a.filepath).Msg("Allowlist file not found, starting with empty list")
			return nil
		}
		return fmt.Errorf("open allowlist: %w", err)
	}
	defer file.Close()

	next := &allowlistData{addrs: make(map[netip.Addr]struct{})}
	scanner := bufio.NewScanner(file)
	lineNo := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		lineNo++

		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, "/") {
			prefix, err := netip.ParsePrefix(line)
			if err != nil {
				log.Warn().Int("line", lineNo).Str("entry", line).Msg("Invalid CIDR in allowlist, skipping")
				continue
			}
			next.prefixes = append(next.prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(line)
		if err != nil {
			log.Warn().Int("line", lineNo).Str("entry", line).Msg("Invalid IP in allowlist, skipping")
			continue
		}
		next.addrs[addr.Unmap().WithZone("")] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read allowlist: %w", err)
	}

	a.data.Store(next)

	log.Info().
		Int("addresses", len(next.addrs)).
		Int("networks", len(next.prefixes)).
		Str("file", a.filepath).
		Msg("Loaded allowlist")
	return nil
}

// Contains reports whether addr is allowlisted.
func (a *Allowlist) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")
	data := a.data.Load()

	if _, ok := data.addrs[addr]; ok {
		return true
	}
	for _, p := range data.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *Allowlist) Name() string {
	return "allowlist"
}

// Size returns the number of addresses and networks loaded.
func (a *Allowlist) Size() (addrs, networks int) {
	data := a.data.Load()
	return len(data.addrs), len(data.prefixes)
}
