package store

import "sync"

// keyLock hands out one mutex per record id. Entries are reference counted
// and dropped when the last holder unlocks, so the table only holds ids that
// are being written right now.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *keyLock) Lock(id string) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
