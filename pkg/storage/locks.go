package storage

import (
	"slices"
	"sync"
)

// KeyLocks serializes work on individual keys within one process. Keys are
// acquired in sorted order, so callers locking overlapping sets cannot
// deadlock. The zero value is ready to use.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until every key is held and returns the release func.
// Calling release more than once is a no-op.
func (l *KeyLocks) Lock(keys ...string) (release func()) {
	sorted := slices.Compact(slices.Sorted(slices.Values(keys)))

	held := make([]*keyLock, len(sorted))
	for i, key := range sorted {
		held[i] = l.acquire(key)
		held[i].mu.Lock()
	}

	return sync.OnceFunc(func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(sorted[i])
		}
	})
}

func (l *KeyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	return k
}

func (l *KeyLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.locks[key]
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
