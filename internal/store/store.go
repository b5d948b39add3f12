package store

import "sync"

// KV is the minimal contract the in-memory transfer stores are built on.
// Every method is atomic with respect to the key it touches, so callers can
// rely on it for check-then-act operations (single-use token redemption,
// chunk-index insertion) without taking their own per-key locks.
//
// The in-memory implementation is the only one shipped; a shared store
// (e.g. a distributed key-value cache) can replace it behind this interface
// without touching call sites.
type KV[K comparable, V any] interface {
	// Get returns the value stored under k, reporting whether it was present.
	Get(k K) (V, bool)
	// View runs fn on the value stored under k while holding the store lock
	// for reading, reporting whether k was present. Callers use it to take
	// consistent snapshots of values that Update mutates in place. fn must
	// not mutate v or retain references past its return.
	View(k K, fn func(v V)) bool
	// Set stores v under k, replacing any previous value.
	Set(k K, v V)
	// SetIfAbsent stores v under k only if no value is present,
	// reporting whether the value was stored.
	SetIfAbsent(k K, v V) bool
	// Take atomically removes and returns the value stored under k.
	// Under concurrent calls for the same key, exactly one caller
	// receives the value.
	Take(k K) (V, bool)
	// Update replaces the value under k with fn(v) while holding the store
	// lock, reporting whether k was present. fn must be cheap, it runs
	// with the lock held.
	Update(k K, fn func(v V) V) bool
	// Delete removes the value stored under k, reporting whether it was present.
	Delete(k K) bool
	// Sweep removes every entry for which expired returns true and reports
	// the number removed. The predicate runs with the lock held and must
	// not block; callers that need the expired entries capture them inside
	// the predicate.
	Sweep(expired func(k K, v V) bool) int
	// Len returns the number of stored entries.
	Len() int
}

// Memory is a mutex-guarded map satisfying KV. The zero value is not usable,
// use NewMemory.
type Memory[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMemory returns an empty in-memory KV store.
func NewMemory[K comparable, V any]() *Memory[K, V] {
	return &Memory[K, V]{m: make(map[K]V)}
}

func (s *Memory[K, V]) Get(k K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

func (s *Memory[K, V]) View(k K, fn func(v V)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	if ok {
		fn(v)
	}
	return ok
}

func (s *Memory[K, V]) Set(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

func (s *Memory[K, V]) SetIfAbsent(k K, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = v
	return true
}

func (s *Memory[K, V]) Take(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return v, ok
}

func (s *Memory[K, V]) Update(k K, fn func(v V) V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if !ok {
		return false
	}
	s.m[k] = fn(v)
	return true
}

func (s *Memory[K, V]) Delete(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[k]
	delete(s.m, k)
	return ok
}

func (s *Memory[K, V]) Sweep(expired func(k K, v V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, v := range s.m {
		if expired(k, v) {
			delete(s.m, k)
			removed++
		}
	}
	return removed
}

func (s *Memory[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
