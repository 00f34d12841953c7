// Package lru implements the strict LRU recency policy.
package lru

import "github.com/IvanBrykalov/tiercache/policy"

// lru is a classic "move-to-front" Least-Recently-Used policy.
// It delegates list manipulation to policy.Hooks provided by the tier,
// so the list tail is always the least recently accessed entry.
// Entries with equal access times keep their relative list order.
type lru struct {
	h policy.Hooks
}

type lruPolicy struct{}

// New returns a Policy factory that constructs LRU instances.
func New() policy.Policy { return lruPolicy{} }

// New implements policy.Policy by binding tier hooks.
func (lruPolicy) New(h policy.Hooks) policy.Recency {
	return &lru{h: h}
}

// OnAdd places the new entry at MRU. LRU itself doesn't choose evictions;
// the evictor walks the tail when the byte budget is exceeded.
func (p *lru) OnAdd(n policy.Node) { p.h.PushFront(n) }

// OnGet promotes the entry to MRU.
func (p *lru) OnGet(n policy.Node) { p.h.MoveToFront(n) }

// OnRemove is a no-op for pure LRU (nothing to clean up in policy state).
func (p *lru) OnRemove(_ policy.Node) {}
