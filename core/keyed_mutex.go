package core

import "sync"

// KeyedMutex serializes work per key while letting different keys proceed in parallel.
// Entries are dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (km *KeyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = new(keyedLock)
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
