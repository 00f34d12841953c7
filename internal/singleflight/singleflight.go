// Package singleflight coalesces concurrent computations for the same key.
package singleflight

import (
	"fmt"
	"sync"
)

// Group coalesces concurrent calls for the same key K so that the supplied
// fn is executed at most once per flight. Other concurrent callers wait for
// the shared result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - A panic in fn is re-raised in the leader; followers receive an error
//     instead of blocking forever.
//   - Results are not remembered: once the flight lands, the next call for
//     the same key starts a new flight.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
	dups int
}

// Do runs fn once for all concurrent callers of key. The shared result
// reports whether the value was handed to more than one caller.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		<-c.done
		return c.val, c.err, true
	}

	// We are the leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	g.run(key, c, fn)
	return c.val, c.err, c.dups > 0
}

// InFlight reports how many keys currently have a running leader.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *Group[K, V]) run(key K, c *call[V], fn func() (V, error)) {
	normalReturn := false
	defer func() {
		if !normalReturn {
			r := recover()
			c.err = fmt.Errorf("singleflight: computation panicked: %v", r)
			g.land(key, c)
			panic(r)
		}
		g.land(key, c)
	}()

	c.val, c.err = fn()
	normalReturn = true
}

// land publishes the result, wakes followers and removes the in-flight marker.
func (g *Group[K, V]) land(key K, c *call[V]) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
	close(c.done)
}
