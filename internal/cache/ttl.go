// Package cache provides a concurrency-safe in-memory TTL store with an
// injectable clock.
package cache

import (
	"sync"
	"time"

	"researchEngine/internal/ports"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a TTL keyed cache. Entries past their expiry are treated as absent.
type Store[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	ttl   time.Duration
	clock ports.Clock
}

// New creates a store. A nil clock uses the system clock.
func New[K comparable, V any](ttl time.Duration, clock ports.Clock) *Store[K, V] {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Store[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		clock: clock,
	}
}

// Get returns the value for key if present and not expired.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || !s.clock.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the store's TTL.
func (s *Store[K, V]) Set(key K, value V) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (s *Store[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: s.clock.Now().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes key.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// DeleteFunc removes every key for which match returns true.
func (s *Store[K, V]) DeleteFunc(match func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.items {
		if match(k) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// Purge drops expired entries and returns how many were removed.
func (s *Store[K, V]) Purge() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.items {
		if !now.Before(e.expiresAt) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
