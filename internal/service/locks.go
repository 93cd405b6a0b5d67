package service

import "sync"

// LockMap serializes mutations per hardware address. A grant racing a
// restore or an expiry sweep on the same device must queue; different
// devices proceed fully concurrently.
type LockMap struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLockMap() *LockMap {
	return &LockMap{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for a key and returns the release func.
func (l *LockMap) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockPair acquires both keys in sorted order so two concurrent migrations
// between the same devices cannot deadlock.
func (l *LockMap) LockPair(a, b string) func() {
	if a == b {
		return l.Lock(a)
	}
	if b < a {
		a, b = b, a
	}
	unlockA := l.Lock(a)
	unlockB := l.Lock(b)
	return func() {
		unlockB()
		unlockA()
	}
}
