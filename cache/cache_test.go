package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// newTestManager builds a Manager over an in-memory filesystem with a
// silent logger. Zero fields of o get test defaults.
func newTestManager(t testing.TB, o Options) *Manager {
	t.Helper()
	if o.DiskFS == nil {
		o.DiskFS = memfs.New()
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Clock == nil {
		o.Clock = newFakeClock()
	}
	m, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func payload(n int) string { return strings.Repeat("x", n) }

// Set followed by Get returns the stored value.
func TestManager_SetGet(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	m.Set("a", 123, 60*time.Second)

	v, ok := m.Get("a")
	if !ok || v != 123 {
		t.Fatalf("Get a: want 123, got %v ok=%v", v, ok)
	}
	if st := m.Stats(); st.Hits != 1 || st.MemoryHits != 1 || st.Misses != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

// Entries above 30% of the budget go straight to disk and are served from there.
func TestManager_LargeItemGoesToDisk(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	big := bytes.Repeat([]byte{7}, 400)
	m.Set("b", big, 60*time.Second)

	st := m.Stats()
	if st.MemoryItems != 0 || st.DiskItems != 1 {
		t.Fatalf("want entry on disk only, got %+v", st)
	}

	v, ok := m.Get("b")
	if !ok || !bytes.Equal(v.([]byte), big) {
		t.Fatalf("Get b: ok=%v", ok)
	}
	st = m.Stats()
	if st.DiskHits != 1 || st.MemoryHits != 0 || st.Hits != 1 {
		t.Fatalf("want one disk hit, got %+v", st)
	}
	if st.Promotions != 0 || st.MemoryItems != 0 {
		t.Fatalf("oversized entry must not be promoted: %+v", st)
	}
}

// Entries hit only once are discarded, not demoted, under budget pressure.
func TestManager_EvictionDiscardsColdEntries(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	for i := 0; i < 15; i++ {
		k := "k" + string(rune('a'+i))
		m.Set(k, payload(100), time.Minute)
		if _, ok := m.Get(k); !ok {
			t.Fatalf("fresh miss for %s", k)
		}
	}

	st := m.Stats()
	if st.Evictions != 5 {
		t.Fatalf("Evictions: want 5, got %d", st.Evictions)
	}
	if st.Demotions != 0 || st.DiskItems != 0 {
		t.Fatalf("cold entries must be discarded: %+v", st)
	}
	if st.MemoryUsageBytes != 1000 || st.MemoryItems != 10 {
		t.Fatalf("unexpected memory gauges: %+v", st)
	}
	// The five oldest are gone.
	if _, ok := m.Get("ka"); ok {
		t.Fatal("ka must be evicted")
	}
	if _, ok := m.Get("ko"); !ok {
		t.Fatal("ko must be resident")
	}
}

// Uses a fake clock to avoid timing flakiness.
func TestManager_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{Clock: clk})

	m.Set("c", "x", time.Second)
	clk.add(time.Second)
	if _, ok := m.Get("c"); !ok {
		t.Fatal("entry must be valid at exactly its deadline")
	}
	clk.add(time.Second)
	if _, ok := m.Get("c"); ok {
		t.Fatal("expired hit")
	}

	st := m.Stats()
	if st.Expirations != 1 || st.Evictions != 1 || st.Misses != 1 {
		t.Fatalf("expiry must be visible in stats: %+v", st)
	}
	if st.MemoryItems != 0 {
		t.Fatalf("expired entry must be removed: %+v", st)
	}
}

// A non-positive ttl falls back to DefaultTTL instead of living forever.
func TestManager_DefaultTTL(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{Clock: clk, DefaultTTL: time.Minute})

	m.Set("k", "v", 0)
	e := m.Entries()
	if len(e) != 1 || !e[0].ExpiresAt.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("unexpected entries: %+v", e)
	}
	clk.add(2 * time.Minute)
	if _, ok := m.Get("k"); ok {
		t.Fatal("entry must expire after DefaultTTL")
	}
}

// Two Gets in a row return the same value and leave the deadline alone.
func TestManager_GetIsIdempotent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{Clock: clk})
	m.Set("k", "v", time.Minute)
	before := m.Entries()[0].ExpiresAt

	v1, ok1 := m.Get("k")
	clk.add(time.Second)
	v2, ok2 := m.Get("k")
	if !ok1 || !ok2 || v1 != v2 {
		t.Fatalf("Get not idempotent: %v/%v %v/%v", v1, ok1, v2, ok2)
	}

	info := m.Entries()[0]
	if !info.ExpiresAt.Equal(before) {
		t.Fatalf("Get changed expiresAt: %v -> %v", before, info.ExpiresAt)
	}
	if info.AccessCount != 2 || !info.LastAccess.Equal(clk.Now()) {
		t.Fatalf("Get must touch access metadata: %+v", info)
	}
}

// Memory usage never exceeds the budget after a Set.
func TestManager_BudgetInvariant(t *testing.T) {
	t.Parallel()

	const budget = 4096
	m := newTestManager(t, Options{MaxMemoryBytes: budget})

	sizes := []int{1, 700, 1228, 1229, 5000, 64, 900, 1000, 3, 1200}
	for i := 0; i < 300; i++ {
		n := sizes[i%len(sizes)] + i%17
		m.Set("k"+payload(i%40), payload(n), time.Minute)
		if i%3 == 0 {
			m.Get("k" + payload((i/2)%40))
		}
		if used := m.Stats().MemoryUsageBytes; used > budget {
			t.Fatalf("step %d: memory usage %d exceeds budget %d", i, used, budget)
		}
	}
}

// A demoted entry is promoted on the next Get and then served from memory.
func TestManager_DemotionAndPromotion(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})

	m.Set("hot", payload(100), time.Minute)
	for i := 0; i < 4; i++ { // accessCount 4 > 3
		m.Get("hot")
	}
	for i := 0; i < 10; i++ {
		m.Set("f"+string(rune('0'+i)), payload(100), time.Minute)
	}

	st := m.Stats()
	if st.Demotions != 1 || st.Evictions != 1 || st.DiskItems != 1 {
		t.Fatalf("hot entry must be demoted: %+v", st)
	}

	if v, ok := m.Get("hot"); !ok || v != payload(100) {
		t.Fatalf("demoted entry lost: ok=%v", ok)
	}
	st = m.Stats()
	if st.DiskHits != 1 || st.Promotions != 1 {
		t.Fatalf("want disk hit + promotion, got %+v", st)
	}
	// Promotion made room by discarding the coldest filler.
	if st.Evictions != 2 || st.Demotions != 1 {
		t.Fatalf("unexpected eviction counters: %+v", st)
	}

	if _, ok := m.Get("hot"); !ok {
		t.Fatal("promoted entry missing")
	}
	st = m.Stats()
	if st.DiskHits != 1 || st.MemoryHits != 5 {
		t.Fatalf("second Get must be served from memory: %+v", st)
	}
}

// failingFS makes every temp-file creation fail while fail is set, the way
// a full or read-only disk would.
type failingFS struct {
	billy.Filesystem
	fail atomic.Bool
}

func (f *failingFS) TempFile(dir, prefix string) (billy.File, error) {
	if f.fail.Load() {
		return nil, errors.New("no space left on device")
	}
	return f.Filesystem.TempFile(dir, prefix)
}

// Disk write failures degrade to a miss (oversized Set) or a discard
// (demotion) and are never surfaced to the caller.
func TestManager_DiskWriteFailure(t *testing.T) {
	t.Parallel()

	fs := &failingFS{Filesystem: memfs.New()}
	fs.fail.Store(true)
	m := newTestManager(t, Options{MaxMemoryBytes: 1000, DiskFS: fs})

	m.Set("big", payload(500), time.Minute)
	if _, ok := m.Get("big"); ok {
		t.Fatal("oversized value must be a miss when the disk write fails")
	}

	m.Set("hot", payload(100), time.Minute)
	for i := 0; i < 4; i++ {
		m.Get("hot")
	}
	for i := 0; i < 10; i++ {
		m.Set("f"+string(rune('0'+i)), payload(100), time.Minute)
	}
	st := m.Stats()
	if st.Evictions != 1 || st.Demotions != 0 || st.DiskItems != 0 {
		t.Fatalf("failed demotion must count as a discard: %+v", st)
	}
	if _, ok := m.Get("hot"); ok {
		t.Fatal("discarded entry must be a miss")
	}

	// The disk tier recovers once writes succeed again.
	fs.fail.Store(false)
	m.Set("big", payload(500), time.Minute)
	if v, ok := m.Get("big"); !ok || v != payload(500) {
		t.Fatalf("disk tier must recover: ok=%v", ok)
	}
}

// Records on disk survive a restart and are promoted by the new Manager.
func TestManager_PersistenceAcrossRestart(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	clk := newFakeClock()
	logger := log.New(io.Discard)

	m1, err := New(Options{MaxMemoryBytes: 1000, DiskFS: fs, Clock: clk, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	m1.Set("big", payload(400), time.Hour)
	created := m1.Entries()[0].CreatedAt
	if err := m1.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := m1.Get("big"); ok {
		t.Fatal("closed manager must behave as empty")
	}

	clk.add(time.Minute)
	m2 := newTestManager(t, Options{MaxMemoryBytes: 10_000, DiskFS: fs, Clock: clk})
	if st := m2.Stats(); st.DiskItems != 1 || st.DiskUsageBytes == 0 {
		t.Fatalf("index not rebuilt: %+v", st)
	}

	if v, ok := m2.Get("big"); !ok || v != payload(400) {
		t.Fatalf("persisted entry lost: ok=%v", ok)
	}
	if _, ok := m2.Get("big"); !ok {
		t.Fatal("promoted entry missing")
	}
	st := m2.Stats()
	if st.DiskHits != 1 || st.MemoryHits != 1 || st.Promotions != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	for _, e := range m2.Entries() {
		if !e.CreatedAt.Equal(created) {
			t.Fatalf("%s copy lost createdAt: %v != %v", e.Tier, e.CreatedAt, created)
		}
	}
}

// A memory Set invalidates the disk copy so the old value cannot come back.
func TestManager_SetInvalidatesDiskCopy(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	m.Set("k", payload(400), time.Minute) // disk
	m.Set("k", "small", time.Minute)      // memory

	entries := m.Entries()
	if len(entries) != 1 || entries[0].Tier != TierMemory {
		t.Fatalf("want a single memory entry, got %+v", entries)
	}

	m.Set("k", payload(400), time.Minute) // back to disk
	entries = m.Entries()
	if len(entries) != 1 || entries[0].Tier != TierDisk {
		t.Fatalf("want a single disk entry, got %+v", entries)
	}
	if v, _ := m.Get("k"); v != payload(400) {
		t.Fatal("stale value returned")
	}
}

// Deterministic LRU eviction: accessing "a" protects it; "b" is evicted.
func TestManager_EvictionLRU(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 300, LargeItemFraction: 1})
	m.Set("a", payload(100), time.Minute)
	m.Set("b", payload(100), time.Minute)
	m.Set("c", payload(100), time.Minute)

	if _, ok := m.Get("a"); !ok { // promote a -> MRU
		t.Fatal("expect hit for a")
	}
	m.Set("d", payload(100), time.Minute) // overflow -> evict LRU (b)

	if _, ok := m.Get("b"); ok {
		t.Fatal("b must be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := m.Get(k); !ok {
			t.Fatalf("%s must survive", k)
		}
	}
}

func TestManager_Remove(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	m.Set("mem", "v", time.Minute)
	m.Set("disk", payload(500), time.Minute)

	if !m.Remove("mem") || !m.Remove("disk") {
		t.Fatal("Remove must report present keys")
	}
	if m.Remove("mem") {
		t.Fatal("second Remove must be false")
	}
	if st := m.Stats(); st.ItemCount != 0 || st.DiskUsageBytes != 0 {
		t.Fatalf("tiers not empty: %+v", st)
	}
}

// Two sequential Wraps compute once; a failure is returned verbatim and retried.
func TestManager_WrapMemoizes(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	var calls int
	compute := func() (any, error) {
		calls++
		return calls * 10, nil
	}

	for i := 0; i < 2; i++ {
		v, err := m.Wrap("calc", []any{5}, time.Minute, compute)
		if err != nil || v != 10 {
			t.Fatalf("Wrap #%d: v=%v err=%v", i, v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("compute must run once, ran %d", calls)
	}

	// Different args are a different key.
	if v, _ := m.Wrap("calc", []any{6}, time.Minute, compute); v != 20 {
		t.Fatalf("want fresh compute for other args, got %v", v)
	}
}

func TestManager_WrapErrorIsNotCached(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	boom := errors.New("boom")
	var calls int

	_, err := m.Wrap("f", nil, time.Minute, func() (any, error) {
		calls++
		return nil, boom
	})
	if err != boom {
		t.Fatalf("error must be returned verbatim, got %v", err)
	}
	if st := m.Stats(); st.ItemCount != 0 {
		t.Fatalf("failure must not be cached: %+v", st)
	}

	v, err := m.Wrap("f", nil, time.Minute, func() (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil || v != "ok" || calls != 2 {
		t.Fatalf("retry: v=%v err=%v calls=%d", v, err, calls)
	}
}

// Concurrent Wraps on an uncomputed key may both compute; exactly one value
// ends up stored and the next Wrap hits.
func TestManager_WrapConcurrentDuplicateCompute(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	var calls atomic.Int32
	var started sync.WaitGroup
	started.Add(2)
	compute := func() (any, error) {
		n := calls.Add(1)
		started.Done()
		started.Wait() // both callers are past their Get
		return int(n), nil
	}

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := m.Wrap("calc", []any{5}, time.Minute, compute)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("both callers must compute, got %d", calls.Load())
	}

	key := DeriveKey("calc", []any{5})
	var stored int
	for _, e := range m.Entries() {
		if e.Key == key {
			stored++
		}
	}
	if stored != 1 {
		t.Fatalf("want exactly one stored value, got %d", stored)
	}

	if _, err := m.Wrap("calc", []any{5}, time.Minute, func() (any, error) {
		t.Fatal("third Wrap must hit")
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestManager_WrapCoalesce(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{CoalesceWrap: true})
	var calls atomic.Int32
	release := make(chan struct{})

	const callers = 16
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			v, err := m.Wrap("slow", nil, time.Minute, func() (any, error) {
				calls.Add(1)
				<-release
				return "v", nil
			})
			if err == nil && v != "v" {
				return errors.New("unexpected value")
			}
			return err
		})
	}
	// Every caller has missed; let the followers queue behind the leader.
	for m.Stats().Misses < callers || m.sf.InFlight() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("compute must be shared, ran %d times", got)
	}
}

func TestMemoize_Typed(t *testing.T) {
	t.Parallel()

	type point struct{ X, Y int }
	m := newTestManager(t, Options{})
	var calls int
	compute := func() (point, error) {
		calls++
		return point{1, 2}, nil
	}

	for i := 0; i < 2; i++ {
		p, err := Memoize(m, "point", []any{Named("id", 7)}, time.Minute, compute)
		if err != nil || p != (point{1, 2}) {
			t.Fatalf("Memoize: %v %v", p, err)
		}
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times", calls)
	}

	// A value of another type under the same key counts as a miss.
	m.Set(DeriveKey("point", []any{Named("id", 7)}), "not a point", time.Minute)
	if p, err := Memoize(m, "point", []any{Named("id", 7)}, time.Minute, compute); err != nil || p.X != 1 {
		t.Fatalf("Memoize after type change: %v %v", p, err)
	}
	if calls != 2 {
		t.Fatalf("want recompute, calls=%d", calls)
	}
}

func TestMemoize_NilInterfaceResult(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	var calls int
	compute := func() (io.Reader, error) {
		calls++
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		r, err := Memoize(m, "reader", nil, time.Minute, compute)
		if err != nil || r != nil {
			t.Fatalf("Memoize: %v %v", r, err)
		}
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times over 3 calls", calls)
	}

	var anyCalls int
	for i := 0; i < 2; i++ {
		v, err := Memoize(m, "any", nil, time.Minute, func() (any, error) {
			anyCalls++
			return nil, nil
		})
		if err != nil || v != nil {
			t.Fatalf("Memoize[any]: %v %v", v, err)
		}
	}
	if anyCalls != 1 {
		t.Fatalf("compute ran %d times over 2 calls", anyCalls)
	}
}

func TestManager_ClearIdentity(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	for i := 0; i < 3; i++ {
		i := i
		_, _ = m.Wrap("load", []any{i}, time.Minute, func() (any, error) { return i, nil })
	}
	_, _ = m.Wrap("load", []any{"big"}, time.Minute, func() (any, error) { return payload(500), nil })
	_, _ = m.Wrap("other", nil, time.Minute, func() (any, error) { return 1, nil })
	m.Set("plain", 1, time.Minute)

	info := m.IdentityInfo("load")
	if info.MemoryItems != 3 || info.DiskItems != 1 || info.TotalItems != 4 {
		t.Fatalf("unexpected identity info: %+v", info)
	}

	if n := m.ClearIdentity("load"); n != 4 {
		t.Fatalf("ClearIdentity: want 4, got %d", n)
	}
	if info := m.IdentityInfo("load"); info.TotalItems != 0 {
		t.Fatalf("identity not cleared: %+v", info)
	}
	if info := m.IdentityInfo("other"); info.TotalItems != 1 {
		t.Fatalf("other identity touched: %+v", info)
	}
	if _, ok := m.Get("plain"); !ok {
		t.Fatal("plain entry touched")
	}
}

func TestManager_Cleanup(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{MaxMemoryBytes: 1000, Clock: clk})
	m.Set("short-mem", "v", time.Second)
	m.Set("short-disk", payload(500), time.Second)
	m.Set("long", "v", time.Hour)

	if r := m.Cleanup(); r != (CleanupReport{}) {
		t.Fatalf("nothing is expired yet: %+v", r)
	}

	clk.add(time.Minute)
	r := m.Cleanup()
	if r.MemoryRemoved != 1 || r.DiskRemoved != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	st := m.Stats()
	if st.ItemCount != 1 || st.Expirations != 2 || st.DiskUsageBytes != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if _, ok := m.Get("long"); !ok {
		t.Fatal("live entry swept")
	}
}

// A promoted entry lives in both tiers but expires as one key.
func TestManager_CleanupCountsPromotedKeyOnce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{MaxMemoryBytes: 1000, Clock: clk})

	m.Set("hot", payload(100), time.Second)
	for i := 0; i < 4; i++ {
		m.Get("hot")
	}
	for i := 0; i < 10; i++ { // demotes "hot"
		m.Set("f"+string(rune('0'+i)), payload(100), time.Hour)
	}
	if _, ok := m.Get("hot"); !ok { // promotes, disk copy stays
		t.Fatal("hot entry missing")
	}
	if st := m.Stats(); st.Promotions != 1 {
		t.Fatalf("want one promotion: %+v", st)
	}

	clk.add(time.Minute)
	r := m.Cleanup()
	if r.MemoryRemoved != 1 || r.DiskRemoved != 1 {
		t.Fatalf("both copies must be removed: %+v", r)
	}
	if st := m.Stats(); st.Expirations != 1 || st.DiskItems != 0 {
		t.Fatalf("expired key must count once: %+v", st)
	}
}

// Get on an expired promoted entry removes both copies and counts once.
func TestManager_ExpiredPromotedEntryCountsOnce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{MaxMemoryBytes: 1000, Clock: clk})

	m.Set("hot", payload(100), time.Second)
	for i := 0; i < 4; i++ {
		m.Get("hot")
	}
	for i := 0; i < 10; i++ { // demotes "hot"
		m.Set("f"+string(rune('0'+i)), payload(100), time.Hour)
	}
	if _, ok := m.Get("hot"); !ok { // promotes, disk copy stays
		t.Fatal("hot entry missing")
	}

	clk.add(time.Minute)
	if _, ok := m.Get("hot"); ok {
		t.Fatal("expired entry served")
	}
	if r := m.Cleanup(); r != (CleanupReport{}) {
		t.Fatalf("nothing left to sweep: %+v", r)
	}
	if st := m.Stats(); st.Expirations != 1 || st.DiskItems != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestManager_ClearAllResetsStats(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	m.Set("a", "v", time.Minute)
	m.Set("b", payload(500), time.Minute)
	m.Get("a")
	m.Get("missing")

	m.ClearAll()
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("stats must be zero after ClearAll: %+v", st)
	}
	if _, ok := m.Get("b"); ok {
		t.Fatal("disk tier not cleared")
	}
}

func TestManager_HitRate(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	if st := m.Stats(); st.HitRatePercent != 0 {
		t.Fatalf("empty hit rate: %v", st.HitRatePercent)
	}
	m.Set("a", 1, time.Minute)
	m.Get("a")
	m.Get("a")
	m.Get("a")
	m.Get("b")
	if st := m.Stats(); st.HitRatePercent != 75 {
		t.Fatalf("want 75%%, got %v", st.HitRatePercent)
	}
}

func TestManager_CorruptRecordIsAMiss(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	m := newTestManager(t, Options{MaxMemoryBytes: 1000, DiskFS: fs})
	m.Set("b", payload(500), time.Minute)

	corrupt(t, fs, "b")
	if _, ok := m.Get("b"); ok {
		t.Fatal("corrupt record must be a miss")
	}
	st := m.Stats()
	if st.Misses != 1 || st.DiskItems != 0 {
		t.Fatalf("corrupt record must be dropped: %+v", st)
	}
}

// Values the codec cannot encode stay in memory but are never persisted.
func TestManager_UnencodableValue(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{MaxMemoryBytes: 1000})
	ch := make(chan int)

	m.Set("ch", ch, time.Minute) // sized at the 1024-byte fallback: disk path
	if _, ok := m.Get("ch"); ok {
		t.Fatal("unencodable oversized value must not be stored")
	}

	m2 := newTestManager(t, Options{
		MaxMemoryBytes: 1000,
		Sizer:          func(any) int64 { return 10 },
	})
	m2.Set("ch", ch, time.Minute)
	if v, ok := m2.Get("ch"); !ok || v != ch {
		t.Fatal("memory tier must hold unencodable values")
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	m.Set("a", 1, time.Minute)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	m.Set("b", 1, time.Minute)
	if _, ok := m.Get("a"); ok {
		t.Fatal("closed manager must miss")
	}
	if v, err := m.Wrap("f", nil, time.Minute, func() (any, error) { return 1, nil }); err != nil || v != 1 {
		t.Fatalf("Wrap on closed manager must still compute: %v %v", v, err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()

	for name, o := range map[string]Options{
		"fraction": {LargeItemFraction: 1.5},
		"disk":     {MaxDiskBytes: -1},
		"level":    {CompressionLevel: 30},
		"fanout":   {DiskFanout: 1024},
	} {
		o.DiskFS = memfs.New()
		if _, err := New(o); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestRunJanitor(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := newTestManager(t, Options{Clock: clk})
	m.Set("k", "v", time.Second)
	clk.add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().MemoryItems != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not sweep")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}

// corrupt overwrites the payload file of key with garbage.
func corrupt(t *testing.T, fs billy.Filesystem, key string) {
	t.Helper()
	name := recordName(key)
	path := fs.Join(recordDir(name, DefaultDiskFanout), name+dataExt)
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("corrupt %s: %v", path, err)
	}
	_, _ = f.Write([]byte("definitely not gob"))
	_ = f.Close()
}
