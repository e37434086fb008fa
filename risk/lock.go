package risk

import "sync"

// KeyedMutex serializes work per key. Entries are dropped once no holder
// or waiter remains, so the map stays as small as the set of busy keys.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
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

// Guard locks key when k is set and is a no-op on a nil KeyedMutex, so
// callers need not check whether locking is enabled.
func (k *KeyedMutex) Guard(key string) (unlock func()) {
	if k == nil {
		return func() {}
	}
	return k.Lock(key)
}
