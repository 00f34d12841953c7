package cache

import "time"

// Cache is the tiered cache contract consumed by embedding applications.
// All methods are safe for concurrent use by multiple goroutines and never
// fail because of the disk tier: persistence faults degrade to misses.
type Cache interface {
	// Get returns the value for key and a presence flag. Memory is checked
	// first; a disk hit promotes the entry into memory.
	Get(key string) (any, bool)

	// Set stores value under key for ttl (non-positive => DefaultTTL).
	// Oversized values are written directly to the disk tier.
	Set(key string, value any, ttl time.Duration)

	// Remove deletes key from both tiers and reports whether it was present.
	Remove(key string) bool

	// Wrap memoizes compute under the key derived from identity and args.
	// Errors from compute are returned verbatim and never cached.
	Wrap(identity string, args []any, ttl time.Duration, compute func() (any, error)) (any, error)

	// ClearAll empties both tiers and resets all statistics.
	ClearAll()

	// ClearIdentity removes every entry memoized under identity and
	// returns how many records were removed.
	ClearIdentity(identity string) int

	// IdentityInfo counts the entries memoized under identity per tier.
	IdentityInfo(identity string) IdentityInfo

	// Cleanup eagerly removes expired entries from both tiers.
	Cleanup() CleanupReport

	// Entries returns a point-in-time snapshot of both tiers' metadata.
	Entries() []EntryInfo

	// Stats returns a copy of the current statistics.
	Stats() Stats

	// Close marks the cache closed and releases disk-tier resources.
	// Later calls behave as if the cache were empty.
	Close() error
}

// IdentityInfo describes the entries memoized for one identity.
type IdentityInfo struct {
	Identity    string
	MemoryItems int
	DiskItems   int
	TotalItems  int
}

// CleanupReport describes one expiration sweep.
type CleanupReport struct {
	MemoryRemoved int
	DiskRemoved   int
}
