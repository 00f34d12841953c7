package cache

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/IvanBrykalov/tiercache/policy"
)

// evictor enforces the memory budget. Victims are taken from the LRU end
// of the memory list; entries the Demoter accepts are persisted to the
// disk tier before they leave memory, the rest are discarded.
type evictor struct {
	mem     *memoryTier
	disk    *diskTier
	demoter policy.Demoter
	stats   *statsCollector
	clock   Clock
	log     *log.Logger
}

// makeRoom evicts until required more bytes fit the budget or memory is
// empty. Each iteration removes one entry, so the loop always terminates.
func (ev *evictor) makeRoom(required int64) {
	now := ev.clock.Now()
	for ev.mem.used+required > ev.mem.budget {
		victim := ev.mem.back()
		if victim == nil {
			return
		}
		ev.mem.unlink(victim)
		ev.stats.recordEviction(ev.dispose(victim, now))
	}
}

// dispose decides the fate of an entry that already left memory.
func (ev *evictor) dispose(e *entry, now time.Time) EvictReason {
	if isExpired(now, e.expiresAt) {
		ev.log.Debug("evicted expired entry", "key", e.key)
		// Drop the promoted backup too so the key is not counted twice.
		ev.disk.remove(e.key)
		return EvictTTL
	}
	if !ev.demoter.ShouldDemote(e) {
		ev.log.Debug("evicted entry", "key", e.key, "hits", e.accessCount)
		return EvictDiscard
	}
	if !ev.disk.set(e.info(), e.val) {
		// Already logged by the disk tier.
		return EvictDiscard
	}
	ev.log.Debug("demoted entry", "key", e.key, "hits", e.accessCount, "size", e.size)
	return EvictDemote
}
