package cache

import (
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/IvanBrykalov/tiercache/policy"
)

// errOversized is returned by memoryTier.set for entries that must be
// routed to the disk tier instead.
var errOversized = errors.New(errors.CodeInvalidInput, "entry exceeds the large-item threshold")

// memoryTier is a bounded store with an intrusive doubly linked list
// (head=MRU, tail=LRU) and byte-budget accounting.
//
// It does not lock: every method runs under the Manager mutex, which also
// covers the disk writes an eviction may trigger.
type memoryTier struct {
	m    map[string]*entry
	head *entry // MRU
	tail *entry // LRU
	n    int    // resident entries
	used int64  // sum of entry sizes

	budget  int64 // MaxMemoryBytes
	maxItem int64 // entries above this go to disk

	rec policy.Recency
	ev  *evictor
}

func newMemoryTier(budget, maxItem int64, pol policy.Policy) *memoryTier {
	t := &memoryTier{
		m:       make(map[string]*entry),
		budget:  budget,
		maxItem: maxItem,
	}
	t.rec = pol.New(memoryHooks{t: t})
	return t
}

// get returns the live entry for key and records the hit.
// An expired entry is unlinked and reported as lookupExpired.
func (t *memoryTier) get(key string, now time.Time) (*entry, lookupStatus) {
	e, ok := t.m[key]
	if !ok {
		return nil, lookupMiss
	}
	if isExpired(now, e.expiresAt) {
		t.unlink(e)
		return nil, lookupExpired
	}
	e.touch(now)
	t.rec.OnGet(e)
	return e, lookupHit
}

// peek returns the entry without touching recency or counters.
func (t *memoryTier) peek(key string) (*entry, bool) {
	e, ok := t.m[key]
	return e, ok
}

// set admits e, replacing an older entry with the same key and evicting
// as needed. Entries above the large-item threshold are refused.
func (t *memoryTier) set(e *entry) error {
	if e.size > t.maxItem {
		return errOversized
	}
	if old, ok := t.m[e.key]; ok {
		t.unlink(old)
	}
	t.ev.makeRoom(e.size)
	t.m[e.key] = e
	t.rec.OnAdd(e)
	return nil
}

// remove deletes key and reports whether it was resident.
func (t *memoryTier) remove(key string) bool {
	e, ok := t.m[key]
	if ok {
		t.unlink(e)
	}
	return ok
}

// snapshot returns entry metadata from MRU to LRU.
func (t *memoryTier) snapshot() []EntryInfo {
	out := make([]EntryInfo, 0, t.n)
	for e := t.head; e != nil; e = e.next {
		out = append(out, e.info())
	}
	return out
}

// sweep removes every expired entry and returns how many were removed.
// sweep removes expired entries and returns their keys.
func (t *memoryTier) sweep(now time.Time) []string {
	var keys []string
	t.removeWhere(func(e *entry) bool {
		if !isExpired(now, e.expiresAt) {
			return false
		}
		keys = append(keys, e.key)
		return true
	})
	return keys
}

func (t *memoryTier) removeIdentity(identity string) int {
	return t.removeWhere(func(e *entry) bool { return e.identity == identity })
}

func (t *memoryTier) countIdentity(identity string) int {
	n := 0
	for e := t.head; e != nil; e = e.next {
		if e.identity == identity {
			n++
		}
	}
	return n
}

func (t *memoryTier) removeWhere(match func(*entry) bool) int {
	n := 0
	for e := t.head; e != nil; {
		next := e.next
		if match(e) {
			t.unlink(e)
			n++
		}
		e = next
	}
	return n
}

func (t *memoryTier) clear() int {
	n := t.n
	for e := t.head; e != nil; {
		next := e.next
		e.prev, e.next = nil, nil
		e = next
	}
	t.m = make(map[string]*entry)
	t.head, t.tail = nil, nil
	t.n, t.used = 0, 0
	return n
}

func (t *memoryTier) usage() int64 { return t.used }
func (t *memoryTier) len() int     { return t.n }

// -------------------- internals --------------------

// unlink removes e from the policy, the list and the map.
func (t *memoryTier) unlink(e *entry) {
	t.rec.OnRemove(e)
	t.removeNode(e)
	delete(t.m, e.key)
}

// insertFront inserts e at MRU in O(1).
func (t *memoryTier) insertFront(e *entry) {
	e.prev = nil
	e.next = t.head
	if t.head != nil {
		t.head.prev = e
	}
	t.head = e
	if t.tail == nil {
		t.tail = e
	}
	t.n++
	t.used += e.size
}

// moveToFront promotes e to MRU in O(1).
func (t *memoryTier) moveToFront(e *entry) {
	if e == t.head {
		return
	}
	// detach
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if t.tail == e {
		t.tail = e.prev
	}
	// insert at head
	e.prev = nil
	e.next = t.head
	if t.head != nil {
		t.head.prev = e
	}
	t.head = e
	if t.tail == nil {
		t.tail = e
	}
}

// removeNode removes e from the list and updates counters in O(1).
func (t *memoryTier) removeNode(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if t.head == e {
		t.head = e.next
	}
	if t.tail == e {
		t.tail = e.prev
	}
	e.prev, e.next = nil, nil
	t.n--
	t.used -= e.size
	if t.used < 0 {
		t.used = 0
	}
}

// back returns the current LRU entry in O(1).
func (t *memoryTier) back() *entry { return t.tail }

// -------------------- policy hooks --------------------

// memoryHooks adapts the tier's list operations to policy.Hooks.
type memoryHooks struct{ t *memoryTier }

func (h memoryHooks) MoveToFront(x policy.Node) { h.t.moveToFront(x.(*entry)) }
func (h memoryHooks) PushFront(x policy.Node)   { h.t.insertFront(x.(*entry)) }
func (h memoryHooks) Remove(x policy.Node) {
	// Map bookkeeping is performed by the tier itself.
	h.t.removeNode(x.(*entry))
}
func (h memoryHooks) Back() policy.Node {
	if h.t.tail == nil {
		return nil
	}
	return h.t.tail
}
func (h memoryHooks) Len() int { return h.t.n }
