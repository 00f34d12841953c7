package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmgilman/go/errors"

	"github.com/IvanBrykalov/tiercache/internal/singleflight"
)

// maxCompressionLevel is the highest zstd level accepted in Options.
const maxCompressionLevel = 22

// Manager is the tiered cache: a byte-bounded LRU memory tier backed by a
// persistent disk tier. All methods are safe for concurrent use.
//
// One mutex serializes every tier mutation, including the disk I/O done by
// promotions and demotions, so operations on the same key are linearized.
// Stats reads lock-free counters.
type Manager struct {
	mu    sync.Mutex
	mem   *memoryTier
	disk  *diskTier
	stats *statsCollector

	opt    Options
	log    *log.Logger
	closed atomic.Bool

	// singleflight group for coalescing concurrent computes in Wrap.
	sf singleflight.Group[string, any]
}

var _ Cache = (*Manager)(nil)

// New constructs a Manager. Zero Options are valid; see Options for the
// defaults. Only invalid option values return an error: an unusable disk
// root is logged and the disk tier then behaves as empty.
func New(o Options) (*Manager, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	o = o.withDefaults()
	if o.DiskFS == nil && o.DiskRoot == "" {
		o.DiskRoot = DefaultDiskRoot()
	}
	if o.Sizer == nil {
		o.Sizer = defaultSizer(o.Codec)
	}

	disk, err := openDisk(o, o.Logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		disk:  disk,
		stats: newStatsCollector(o.Metrics),
		opt:   o,
		log:   o.Logger,
	}
	m.mem = newMemoryTier(o.MaxMemoryBytes, o.largeItemThreshold(), o.Policy)
	m.mem.ev = &evictor{
		mem:     m.mem,
		disk:    disk,
		demoter: o.Demoter,
		stats:   m.stats,
		clock:   o.Clock,
		log:     o.Logger,
	}

	m.mu.Lock()
	m.refreshGaugesLocked()
	m.mu.Unlock()
	return m, nil
}

// validate rejects values that have no sensible default.
func (o Options) validate() error {
	switch {
	case o.LargeItemFraction > 1:
		return errors.Newf(errors.CodeInvalidConfig, "LargeItemFraction must be in (0,1], got %g", o.LargeItemFraction)
	case o.MaxDiskBytes < 0:
		return errors.Newf(errors.CodeInvalidConfig, "MaxDiskBytes must be >= 0, got %d", o.MaxDiskBytes)
	case o.CompressionLevel > maxCompressionLevel:
		return errors.Newf(errors.CodeInvalidConfig, "CompressionLevel must be <= %d, got %d", maxCompressionLevel, o.CompressionLevel)
	case o.DiskFanout > 256:
		return errors.Newf(errors.CodeInvalidConfig, "DiskFanout must be <= 256, got %d", o.DiskFanout)
	}
	return nil
}

// ---- Cache implementation ----

// Get returns the value for key and a presence flag.
// Memory is checked first; a disk hit is promoted into memory unless the
// entry is above the large-item threshold.
func (m *Manager) Get(key string) (any, bool) {
	if m.closed.Load() {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		// Lost the race with Close.
		return nil, false
	}
	defer m.refreshGaugesLocked()

	now := m.opt.Clock.Now()
	e, st := m.mem.get(key, now)
	switch st {
	case lookupHit:
		m.stats.recordHit(TierMemory)
		return e.val, true
	case lookupExpired:
		// The disk copy, if any, shares the deadline; the key counts once.
		m.disk.remove(key)
		m.stats.recordEviction(EvictTTL)
		m.stats.recordMiss()
		return nil, false
	}

	v, meta, st := m.disk.get(key, now)
	switch st {
	case lookupHit:
		m.stats.recordHit(TierDisk)
		m.promoteLocked(key, v, meta, now)
		return v, true
	case lookupExpired:
		m.stats.recordExpiration()
	}
	m.stats.recordMiss()
	return nil, false
}

// promoteLocked copies a disk hit into memory. The disk copy stays behind
// as a passive backup.
func (m *Manager) promoteLocked(key string, v any, meta *diskMeta, now time.Time) {
	e := &entry{
		key:         key,
		identity:    meta.Identity,
		val:         v,
		createdAt:   meta.CreatedAt,
		expiresAt:   meta.ExpiresAt,
		lastAccess:  now,
		accessCount: 1,
		size:        meta.SizeBytes,
	}
	if err := m.mem.set(e); err != nil {
		m.log.Debug("served from disk without promotion", "key", key, "size", e.size)
		return
	}
	m.stats.recordPromotion()
	m.log.Debug("promoted entry", "key", key, "size", e.size)
}

// Set stores value under key for ttl (non-positive => DefaultTTL).
func (m *Manager) Set(key string, value any, ttl time.Duration) {
	m.store(key, "", value, ttl)
}

// store is Set with the memoized identity recorded on the entry.
func (m *Manager) store(key, identity string, value any, ttl time.Duration) {
	if m.closed.Load() {
		return
	}
	size := m.opt.Sizer(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return
	}
	defer m.refreshGaugesLocked()

	now := m.opt.Clock.Now()
	e := &entry{
		key:        key,
		identity:   identity,
		val:        value,
		createdAt:  now,
		expiresAt:  deadline(now, ttl, m.opt.DefaultTTL),
		lastAccess: now,
		size:       size,
	}

	if err := m.mem.set(e); err == nil {
		// Memory is authoritative; a stale disk copy must not resurface.
		m.disk.remove(key)
		return
	}

	m.mem.remove(key)
	if m.disk.set(e.info(), value) {
		m.log.Debug("stored large entry on disk", "key", key, "size", size)
	} else {
		// A failed write leaves no record; drop the previous one too.
		m.disk.remove(key)
	}
}

// Remove deletes key from both tiers and reports whether it was present.
func (m *Manager) Remove(key string) bool {
	if m.closed.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.refreshGaugesLocked()

	inMem := m.mem.remove(key)
	onDisk := m.disk.remove(key)
	return inMem || onDisk
}

// ClearAll empties both tiers and resets all statistics, counters included.
func (m *Manager) ClearAll() {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mem := m.mem.clear()
	disk := m.disk.clear()
	m.stats.reset()
	m.refreshGaugesLocked()
	m.log.Info("cache cleared", "memory", mem, "disk", disk)
}

// ClearIdentity removes every entry memoized under identity from both
// tiers and returns the number of records removed.
func (m *Manager) ClearIdentity(identity string) int {
	if m.closed.Load() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.refreshGaugesLocked()

	n := m.mem.removeIdentity(identity) + m.disk.removeIdentity(identity)
	if n > 0 {
		m.log.Info("identity cleared", "identity", identity, "removed", n)
	}
	return n
}

// IdentityInfo counts the entries memoized under identity per tier.
// A promoted entry is counted in both tiers.
func (m *Manager) IdentityInfo(identity string) IdentityInfo {
	info := IdentityInfo{Identity: identity}
	if m.closed.Load() {
		return info
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	info.MemoryItems = m.mem.countIdentity(identity)
	info.DiskItems = m.disk.countIdentity(identity)
	info.TotalItems = info.MemoryItems + info.DiskItems
	return info
}

// Cleanup removes expired entries from both tiers.
func (m *Manager) Cleanup() CleanupReport {
	if m.closed.Load() {
		return CleanupReport{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.refreshGaugesLocked()

	now := m.opt.Clock.Now()
	var r CleanupReport
	for _, key := range m.mem.sweep(now) {
		r.MemoryRemoved++
		m.stats.recordEviction(EvictTTL)
		// A promoted entry's disk backup shares its deadline; the key
		// has already been counted.
		if m.disk.remove(key) {
			r.DiskRemoved++
		}
	}
	diskOnly := m.disk.sweep(now)
	r.DiskRemoved += diskOnly
	for i := 0; i < diskOnly; i++ {
		m.stats.recordExpiration()
	}
	if r.MemoryRemoved+r.DiskRemoved > 0 {
		m.log.Info("expired entries removed", "memory", r.MemoryRemoved, "disk", r.DiskRemoved)
	}
	return r
}

// Entries returns metadata for every entry: memory (MRU first), then disk
// (oldest first). Expired entries not yet swept are included.
func (m *Manager) Entries() []EntryInfo {
	if m.closed.Load() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(m.mem.snapshot(), m.disk.scanMetadata()...)
}

// Stats returns a copy of the current statistics.
func (m *Manager) Stats() Stats { return m.stats.snapshot() }

// Close marks the cache closed and releases disk-tier resources. Records
// stay on disk for the next Manager. Future operations behave as if the
// cache were empty.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disk.close()
}

func (m *Manager) refreshGaugesLocked() {
	m.stats.updateGauges(m.mem.usage(), m.disk.usage(), m.mem.len(), m.disk.len())
}
