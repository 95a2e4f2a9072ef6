// Package decaymap is a generic map whose entries decay after a deadline.
package decaymap

import (
	"sync"
	"time"
)

func zilch[T any]() T {
	var zero T
	return zero
}

type entry[V any] struct {
	value   V
	expires time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Impl is a mutex-guarded map from K to V where every entry can carry its
// own expiry deadline. Expired entries are invisible to Get and are reaped
// by Cleanup.
type Impl[K comparable, V any] struct {
	data map[K]entry[V]
	lock sync.Mutex
}

func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: map[K]entry[V]{},
	}
}

// Get returns the live value for key. An entry past its deadline is deleted
// on the spot and reported as absent.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.data[key]
	if !ok {
		return zilch[V](), false
	}

	if e.expired(time.Now()) {
		delete(m.data, key)
		return zilch[V](), false
	}

	return e.value, true
}

// Set stores value under key. A ttl of zero means the entry never decays.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e := entry[V]{value: value}
	if ttl != 0 {
		e.expires = time.Now().Add(ttl)
	}

	m.data[key] = e
}

// Delete removes key and reports whether a live entry was present.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.data[key]
	delete(m.data, key)

	return ok && !e.expired(time.Now())
}

// Cleanup reaps every expired entry.
func (m *Impl[K, V]) Cleanup() {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	for key, e := range m.data {
		if e.expired(now) {
			delete(m.data, key)
		}
	}
}

// Len counts live entries.
func (m *Impl[K, V]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	var n int
	for _, e := range m.data {
		if !e.expired(now) {
			n++
		}
	}

	return n
}


