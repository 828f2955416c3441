package engine

import "sync"

// =============================================================================
// KEYED LOCKS - Per-record serialization
// =============================================================================

// keyedLocks serializes lifecycle operations per commission record so two
// concurrent approvals on the same id cannot both pass the status check.
// Distinct ids lock independently, which keeps bulk operations parallel.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns the release func. Entries are
// reference-counted and removed once unused, so the map stays bounded by
// the number of in-flight operations.
func (k *keyedLocks) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
