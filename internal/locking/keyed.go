// Package locking provides a keyed mutex used for per-network and
// per-subnet critical sections.
package locking

import "sync"

// Keyed hands out one mutex per key so independent keys proceed in
// parallel while operations on the same key serialize.
type Keyed[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed creates an empty keyed mutex.
func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{locks: make(map[K]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (k *Keyed[K]) Lock(key K) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

// Unlock releases the mutex for key. The entry is dropped once no
// goroutine holds or waits on it, so the map does not grow unbounded.
func (k *Keyed[K]) Unlock(key K) {
	k.mu.Lock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}
