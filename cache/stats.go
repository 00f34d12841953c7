package cache

import "github.com/IvanBrykalov/tiercache/internal/util"

// Stats is a point-in-time copy of the cache statistics.
//
// Counters are cumulative since New or the last ClearAll; gauges describe
// the state after the most recent mutation.
type Stats struct {
	// Counters.
	Hits        uint64 // MemoryHits + DiskHits
	Misses      uint64
	Evictions   uint64 // every entry removed from memory by budget pressure or expiry
	Demotions   uint64 // evictions that were persisted to disk
	Promotions  uint64 // disk hits copied into memory
	Expirations uint64 // keys dropped because their TTL passed, once per key across tiers
	MemoryHits  uint64
	DiskHits    uint64

	// Gauges.
	MemoryUsageBytes int64
	DiskUsageBytes   int64
	MemoryItems      int
	DiskItems        int
	ItemCount        int // MemoryItems + DiskItems; promoted keys count in both

	// HitRatePercent is 100*Hits/max(1, Hits+Misses).
	HitRatePercent float64
}

// statsCollector holds hot counters on separate cache lines.
// Counters are atomics so Stats never takes the manager lock; gauges are
// written under the manager lock and read atomically.
type statsCollector struct {
	_           util.CacheLinePad
	memoryHits  util.PaddedAtomicUint64
	diskHits    util.PaddedAtomicUint64
	misses      util.PaddedAtomicUint64
	evictions   util.PaddedAtomicUint64
	demotions   util.PaddedAtomicUint64
	promotions  util.PaddedAtomicUint64
	expirations util.PaddedAtomicUint64

	memBytes  util.PaddedAtomicInt64
	diskBytes util.PaddedAtomicInt64
	memItems  util.PaddedAtomicInt64
	diskItems util.PaddedAtomicInt64

	sink Metrics
}

func newStatsCollector(sink Metrics) *statsCollector {
	if sink == nil {
		sink = NoopMetrics{}
	}
	return &statsCollector{sink: sink}
}

func (s *statsCollector) recordHit(t Tier) {
	if t == TierDisk {
		s.diskHits.Add(1)
	} else {
		s.memoryHits.Add(1)
	}
	s.sink.Hit(t)
}

func (s *statsCollector) recordMiss() {
	s.misses.Add(1)
	s.sink.Miss()
}

// recordEviction counts an entry leaving memory. Demotions and TTL drops
// are evictions too; they additionally bump their own counter.
func (s *statsCollector) recordEviction(r EvictReason) {
	s.evictions.Add(1)
	switch r {
	case EvictDemote:
		s.demotions.Add(1)
	case EvictTTL:
		s.expirations.Add(1)
	}
	s.sink.Evict(r)
}

// recordExpiration counts a TTL drop that is not a memory eviction
// (disk records).
func (s *statsCollector) recordExpiration() {
	s.expirations.Add(1)
}

func (s *statsCollector) recordPromotion() {
	s.promotions.Add(1)
	s.sink.Promote()
}

func (s *statsCollector) updateGauges(memBytes, diskBytes int64, memItems, diskItems int) {
	s.memBytes.Store(memBytes)
	s.diskBytes.Store(diskBytes)
	s.memItems.Store(int64(memItems))
	s.diskItems.Store(int64(diskItems))
	s.sink.Usage(memBytes, diskBytes, memItems, diskItems)
}

func (s *statsCollector) snapshot() Stats {
	st := Stats{
		Misses:           s.misses.Load(),
		Evictions:        s.evictions.Load(),
		Demotions:        s.demotions.Load(),
		Promotions:       s.promotions.Load(),
		Expirations:      s.expirations.Load(),
		MemoryHits:       s.memoryHits.Load(),
		DiskHits:         s.diskHits.Load(),
		MemoryUsageBytes: s.memBytes.Load(),
		DiskUsageBytes:   s.diskBytes.Load(),
		MemoryItems:      int(s.memItems.Load()),
		DiskItems:        int(s.diskItems.Load()),
	}
	st.Hits = st.MemoryHits + st.DiskHits
	st.ItemCount = st.MemoryItems + st.DiskItems
	st.HitRatePercent = hitRate(st.Hits, st.Misses)
	return st
}

// reset zeroes counters. Gauges are refreshed by the caller.
func (s *statsCollector) reset() {
	s.memoryHits.Store(0)
	s.diskHits.Store(0)
	s.misses.Store(0)
	s.evictions.Store(0)
	s.demotions.Store(0)
	s.promotions.Store(0)
	s.expirations.Store(0)
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		total = 1
	}
	return 100 * float64(hits) / float64(total)
}
