package cache

import "time"

// Wrap memoizes compute under the key derived from identity and args.
//
// On a hit the cached value is returned and compute is not called. On a
// miss compute runs outside the cache lock; a successful result is stored
// for ttl and returned, an error is returned verbatim and nothing is cached.
//
// Concurrent callers for the same uncomputed key may each run compute
// unless Options.CoalesceWrap is set; the last result stored wins.
func (m *Manager) Wrap(identity string, args []any, ttl time.Duration, compute func() (any, error)) (any, error) {
	key := DeriveKey(identity, args)
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	if !m.opt.CoalesceWrap {
		return m.computeAndStore(key, identity, ttl, compute)
	}
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.computeAndStore(key, identity, ttl, compute)
	})
	return v, err
}

func (m *Manager) computeAndStore(key, identity string, ttl time.Duration, compute func() (any, error)) (any, error) {
	v, err := compute()
	if err != nil {
		return nil, err
	}
	m.store(key, identity, v, ttl)
	return v, nil
}

// Memoize is the typed form of Wrap. A cached value of another dynamic
// type (for example one decoded by a different codec) counts as a miss:
// compute runs and its result replaces the cached value.
//
//	users, err := cache.Memoize(m, "loadUsers", []any{orgID}, time.Minute,
//		func() ([]User, error) { return db.LoadUsers(ctx, orgID) })
func Memoize[T any](m *Manager, identity string, args []any, ttl time.Duration, compute func() (T, error)) (T, error) {
	v, err := m.Wrap(identity, args, ttl, func() (any, error) {
		t, err := compute()
		return t, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil {
		// A nil interface T was computed and cached; it is a hit.
		var zero T
		if any(zero) == nil {
			return zero, nil
		}
	}

	t, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	m.store(DeriveKey(identity, args), identity, t, ttl)
	return t, nil
}
