// Package utils - shared helpers
package utils

import "sync"

// KeyedMutex a set of mutexes, one per key, created on demand and released once unused
type KeyedMutex struct {
	lock  sync.Mutex
	locks map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mutex sync.Mutex
	users int
}

// NewKeyedMutex define a new keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedMutexEntry)}
}

/*
Lock acquire the mutex of a key. Different keys never block each other.

	@param key string - the key
	@returns function releasing the mutex
*/
func (m *KeyedMutex) Lock(key string) func() {
	m.lock.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedMutexEntry{}
		m.locks[key] = entry
	}
	entry.users++
	m.lock.Unlock()

	entry.mutex.Lock()

	return func() {
		entry.mutex.Unlock()

		m.lock.Lock()
		entry.users--
		if entry.users == 0 {
			delete(m.locks, key)
		}
		m.lock.Unlock()
	}
}

// Size number of keys currently held or waited on
func (m *KeyedMutex) Size() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.locks)
}
