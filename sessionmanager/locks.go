package sessionmanager

import "sync"

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// idLocks serializes work on a single session id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*lockEntry)}
}

// lock blocks until the caller owns id and returns the matching unlock.
func (l *idLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	entry, exists := l.locks[id]
	if !exists {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.release(id)
	}
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *idLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, id)
	}
}

func (l *idLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
