// Package policy defines the contracts the memory tier uses to order entries
// by recency and to decide whether an evicted entry is demoted to disk.
package policy

import "time"

// Node is the minimal view of a memory-tier entry that a policy may inspect.
type Node interface {
	Key() string
	// AccessCount is the number of Get hits since the entry entered memory.
	AccessCount() int
	// LastAccess is the time of the most recent hit (or insertion).
	LastAccess() time.Time
	// Size is the estimated footprint in bytes.
	Size() int64
}

// Hooks expose O(1) list operations that a policy can use to manipulate
// the tier's intrusive MRU/LRU list. Implementations are provided by the tier.
//
// Concurrency: all hook calls happen under the cache manager lock.
// Important: hooks manage only the list; the tier owns the key->node map
// and the byte accounting.
type Hooks interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node)
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node)
	// Remove detaches the node from the list.
	Remove(Node)
	// Back returns the current LRU node (or nil if empty).
	Back() Node
	// Len returns the number of resident nodes.
	Len() int
}

// Recency is a tier-local ordering policy bound to tier hooks.
// All methods are invoked under the cache manager lock.
//
// Semantics:
//   - OnAdd places a new node; the evictor later picks victims from Back().
//   - OnGet typically promotes the node (e.g., move to MRU).
//   - OnRemove is a notification to update policy-internal state.
//     The tier performs the actual unlinking.
type Recency interface {
	OnAdd(Node)
	OnGet(Node)
	OnRemove(Node)
}

// Policy is a factory that creates a Recency instance bound to a tier's hooks.
type Policy interface {
	New(Hooks) Recency
}

// Demoter decides whether an entry leaving memory is worth persisting
// to the disk tier instead of being discarded.
type Demoter interface {
	ShouldDemote(Node) bool
}

// DemoterFunc adapts a function to Demoter.
type DemoterFunc func(Node) bool

// ShouldDemote calls f(n).
func (f DemoterFunc) ShouldDemote(n Node) bool { return f(n) }

// AccessThreshold demotes entries that were hit more than n times.
// Entries at or below the threshold are not worth the disk I/O.
func AccessThreshold(n int) Demoter {
	return DemoterFunc(func(x Node) bool { return x.AccessCount() > n })
}

// Never discards every evicted entry.
var Never Demoter = DemoterFunc(func(Node) bool { return false })
