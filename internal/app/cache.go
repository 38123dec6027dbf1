package app

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/ports"
)

const DefaultReportInterval = 12 * time.Hour

// CacheEntry is one reported IP with the time of its last successful report.
type CacheEntry struct {
	IP           string
	LastReported time.Time
}

// ReportCache remembers when each IP was last reported so that repeat
// offenders are not re-reported inside the cool-down interval.
//
// Entries are never removed; an entry is overwritten only by a later
// successful report.
type ReportCache struct {
	mu       sync.RWMutex
	entries  map[string]int64
	interval time.Duration
	store    ports.CacheStore
	metrics  ports.MetricsCollector
}

func NewReportCache(store ports.CacheStore, interval time.Duration) *ReportCache {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &ReportCache{
		entries:  make(map[string]int64),
		interval: interval,
		store:    store,
	}
}

func (c *ReportCache) SetMetrics(metrics ports.MetricsCollector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
	c.updateGauge()
}

// Load replaces the in-memory map with the persisted entries.
func (c *ReportCache) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load report cache: %w", err)
	}

	c.mu.Lock()
	c.entries = entries
	c.updateGauge()
	c.mu.Unlock()

	log.Info().Int("count", len(entries)).Str("file", c.store.Location()).
		Msgf("Loaded %d IPs from %s", len(entries), c.store.Location())
	return nil
}

// IsRecentlyReported reports whether ip was reported less than the
// configured interval before now. Both sides are compared in whole seconds,
// matching the resolution of stored timestamps.
func (c *ReportCache) IsRecentlyReported(ip string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	last, ok := c.entries[normalizeIP(ip)]
	if !ok {
		return false
	}
	return now.Unix()-last < int64(c.interval/time.Second)
}

func (c *ReportCache) LastReported(ip string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	last, ok := c.entries[normalizeIP(ip)]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(last, 0), true
}

// MarkReported records a successful report in memory. Call Persist to
// make it durable.
func (c *ReportCache) MarkReported(ip string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeIP(ip)] = now.Unix()
	c.updateGauge()
}

// Persist rewrites the store from the full in-memory map.
func (c *ReportCache) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]int64, len(c.entries))
	for ip, ts := range c.entries {
		snapshot[ip] = ts
	}
	if err := c.store.Save(snapshot); err != nil {
		return fmt.Errorf("persist report cache: %w", err)
	}
	return nil
}

func (c *ReportCache) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

func (c *ReportCache) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
}

func (c *ReportCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a copy of the cache sorted by IP.
func (c *ReportCache) Entries() []CacheEntry {
	c.mu.RLock()
	out := make([]CacheEntry, 0, len(c.entries))
	for ip, ts := range c.entries {
		out = append(out, CacheEntry{IP: ip, LastReported: time.Unix(ts, 0)})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

func (c *ReportCache) Close() error {
	return c.store.Close()
}

func (c *ReportCache) updateGauge() {
	if c.metrics != nil {
		c.metrics.SetCacheEntries(len(c.entries))
	}
}

// normalizeIP makes "2001:DB8::1" and "2001:db8::1" share one entry.
func normalizeIP(ip string) string {
	if addr, err := netip.ParseAddr(ip); err == nil {
		return addr.String()
	}
	return ip
}
