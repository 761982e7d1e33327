package services

import "sync"

// identityLocks hands out one mutex per identity. Entries are reference counted
// and removed when the last holder unlocks, so the map only holds identities
// with a call in flight.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[string]*identityLock)}
}

// lock blocks until identity is free and returns the matching unlock func
func (l *identityLocks) lock(identity string) func() {
	l.mu.Lock()
	entry, ok := l.locks[identity]
	if !ok {
		entry = &identityLock{}
		l.locks[identity] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}

func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
