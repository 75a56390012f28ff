package monitor

import "sync"

// TradeLocks serializes work on a single trade across the sweeps that can
// touch it. Entries are dropped once no goroutine holds or waits on them.
type TradeLocks struct {
	mu    sync.Mutex
	locks map[string]*tradeLock
}

type tradeLock struct {
	mu   sync.Mutex
	refs int
}

// NewTradeLocks creates an empty lock table.
func NewTradeLocks() *TradeLocks {
	return &TradeLocks{locks: make(map[string]*tradeLock)}
}

// Lock acquires the lock for id and returns its release function.
func (l *TradeLocks) Lock(id string) func() {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &tradeLock{}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of live lock entries.
func (l *TradeLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
