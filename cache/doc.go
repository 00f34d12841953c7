// Package cache provides a two-tier cache for a single process: a
// byte-bounded in-memory LRU tier backed by a persistent disk tier, with
// per-entry TTL, promotion and demotion between the tiers, and a
// memoization helper for expensive computations.
//
// # Design
//
//   - Memory tier: a map[string]*entry for lookups and an intrusive
//     MRU↔LRU doubly linked list for ordering, driven by the policy
//     package (strict LRU by default). Accounting is in estimated bytes
//     (Options.Sizer); the budget is Options.MaxMemoryBytes.
//
//   - Large items: entries bigger than LargeItemFraction*MaxMemoryBytes
//     (30% by default) never enter memory; they are written to disk
//     directly and served from there.
//
//   - Eviction: when a Set needs room, entries leave from the LRU end.
//     Entries with more than DemoteAccessThreshold hits (3 by default) are
//     demoted to disk; the rest are discarded.
//
//   - Promotion: a disk hit copies the entry back into memory with an
//     access count of one. The disk copy stays as a passive backup.
//
//   - Disk tier: one <name>.data payload plus a <name>.meta JSON sidecar per
//     key under a go-billy filesystem, fanned out over two-hex-digit
//     directories. Payloads are encoded by Options.Codec (gob by default)
//     and optionally zstd-compressed. Writes go through temp files and
//     renames; the metadata file commits a record.
//
//   - TTL: every entry expires (non-positive ttl means DefaultTTL).
//     Expiration is lazy on read in both tiers and eager in Cleanup.
//     RunJanitor calls Cleanup periodically from a goroutine the caller
//     owns; the package itself starts no goroutines.
//
//   - Failures: disk and codec errors are logged and degrade to a miss or
//     a skipped write. Only New returns errors, for invalid Options.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Promote/Usage
//     signals. By default NoopMetrics is used; see package metrics/prom.
//
// # Basic usage
//
//	m, err := cache.New(cache.Options{MaxMemoryBytes: 64 << 20})
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	m.Set("a", 123, time.Minute)
//	if v, ok := m.Get("a"); ok {
//	    _ = v.(int)
//	}
//
// # Memoization
//
//	v, err := m.Wrap("fib", []any{40}, time.Hour, func() (any, error) {
//	    return fib(40), nil
//	})
//
//	report, err := cache.Memoize(m, "report", []any{cache.Named("month", 3)}, time.Hour,
//	    func() (Report, error) { return buildReport(3) })
//
// Concurrent Wrap calls for the same missing key may each run compute;
// set Options.CoalesceWrap to share one computation per key.
//
// # Thread-safety
//
// All Manager methods are safe for concurrent use. A single mutex
// serializes tier mutations, so operations on one key are linearized.
// Lock order is Manager, then the disk index.
package cache
