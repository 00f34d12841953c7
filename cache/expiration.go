package cache

import (
	"context"
	"time"
)

// isExpired reports whether an entry with the given deadline is expired at now.
// An entry is still valid at exactly expiresAt.
func isExpired(now, expiresAt time.Time) bool {
	return now.After(expiresAt)
}

// deadline converts a relative ttl into an absolute expiration time.
// A non-positive ttl falls back to def; entries never live forever.
func deadline(now time.Time, ttl, def time.Duration) time.Time {
	if ttl <= 0 {
		ttl = def
	}
	return now.Add(ttl)
}

// RunJanitor calls Cleanup every interval until ctx is done.
// It blocks; the caller decides which goroutine runs it and for how long,
// so no background work outlives the embedding application's control.
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go m.RunJanitor(ctx, time.Minute)
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.closed.Load() {
				return
			}
			m.Cleanup()
		}
	}
}
