package cache

import "time"

// entry is an intrusive doubly linked list element owned by the memory tier.
// It stores the key/value alongside list links and the metadata used by
// eviction, demotion and TTL accounting.
type entry struct {
	key      string
	identity string // memoized function identity; "" for plain Set
	val      any

	// Intrusive list links: head is MRU, tail is LRU.
	prev *entry
	next *entry

	createdAt   time.Time
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int

	// Estimated footprint in bytes, used for budget accounting.
	size int64
}

// Key returns the entry key (part of policy.Node).
func (e *entry) Key() string { return e.key }

// AccessCount returns the number of hits (part of policy.Node).
func (e *entry) AccessCount() int { return e.accessCount }

// LastAccess returns the most recent hit time (part of policy.Node).
func (e *entry) LastAccess() time.Time { return e.lastAccess }

// Size returns the estimated footprint (part of policy.Node).
func (e *entry) Size() int64 { return e.size }

// touch records a hit.
func (e *entry) touch(now time.Time) {
	e.lastAccess = now
	e.accessCount++
}

// info returns a read-only snapshot of e.
func (e *entry) info() EntryInfo {
	return EntryInfo{
		Key:         e.key,
		Identity:    e.identity,
		Tier:        TierMemory,
		CreatedAt:   e.createdAt,
		ExpiresAt:   e.expiresAt,
		SizeBytes:   e.size,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount,
	}
}

// EntryInfo is a point-in-time view of a cached entry's metadata.
// It never carries the value itself.
type EntryInfo struct {
	Key         string
	Identity    string
	Tier        Tier
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SizeBytes   int64
	LastAccess  time.Time
	AccessCount int
}

// Expired reports whether the entry is expired at now.
func (i EntryInfo) Expired(now time.Time) bool { return isExpired(now, i.ExpiresAt) }

// TTL returns the remaining lifetime at now (never negative).
func (i EntryInfo) TTL(now time.Time) time.Duration {
	if d := i.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
