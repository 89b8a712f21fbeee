package ota

import "sync"

// keyMutex — взаимное исключение по строковому ключу (device_id / group_id).
// Нужен, чтобы два одновременных check-in одного устройства не потеряли
// инкремент connection_count на общем устаревшем чтении.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLockEntry)}
}

// Lock блокирует ключ и возвращает функцию разблокировки.
func (k *keyMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyLockEntry{}
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
