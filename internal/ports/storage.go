package ports

// CacheStore persists the report cache.
//
// Implementations:
//   - TextStore: "<ip> <unix-seconds>" per line, atomic rewrite
//   - BoltStore: bbolt bucket keyed by IP
//
// Callers serialize access; implementations need not be safe for
// concurrent Load/Save.
type CacheStore interface {
	// Load reads every persisted entry.
	//
	// Returns:
	//   - Map of IP -> last report Unix timestamp (seconds)
	//   - Empty map and nil error when nothing has been persisted yet
	//   - Error only when storage exists but cannot be read at all
	//
	// Contract: malformed individual entries are skipped, never fatal.
	Load() (map[string]int64, error)

	// Save replaces the persisted state with entries.
	//
	// Contract: overwrite semantics, never append. A crash mid-save must
	// leave either the old or the new state in place.
	Save(entries map[string]int64) error

	// Close releases the underlying resources.
	Close() error

	// Location identifies the storage for logging.
	Location() string
}
