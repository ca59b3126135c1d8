// Package keylock provides per-key mutexes so services can serialize
// read-modify-write cycles on a single entity without blocking unrelated
// entities. Long I/O must not be performed while holding a key.
package keylock

import "sync"

// KeyLock is a set of named mutexes. The zero value is not usable; use New.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyLock) Lock(key string) {
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

// Unlock releases the mutex for key. Entries are reclaimed once uncontended.
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}

// LockPair acquires two keys in a canonical order to avoid lock inversion
// when an operation spans two entities (e.g. linking a task to a session).
func (k *KeyLock) LockPair(a, b string) {
	if a == b {
		k.Lock(a)
		return
	}
	if a > b {
		a, b = b, a
	}
	k.Lock(a)
	k.Lock(b)
}

// UnlockPair releases two keys acquired with LockPair.
func (k *KeyLock) UnlockPair(a, b string) {
	if a == b {
		k.Unlock(a)
		return
	}
	if a > b {
		a, b = b, a
	}
	k.Unlock(b)
	k.Unlock(a)
}
