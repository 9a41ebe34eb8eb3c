// Package store provides the bounded, insertion-ordered event stores shared
// by the ingestion, aggregation, and retention paths. Each store is a ring
// buffer with FIFO eviction and mutex-serialized structural mutation; reads
// hand out defensive copies so long aggregation passes never observe a torn
// record.
package store

import "sync"

// Store is a fixed-capacity, insertion-ordered collection of records.
// Appending beyond capacity evicts the oldest record in O(1). A capacity of
// zero or less means unbounded (the alert store relies on retention instead
// of eviction).
type Store[T any] struct {
	mu       sync.RWMutex
	buf      []T
	head     int // index of the oldest record once the ring is full
	capacity int
}

// New creates a store with the given capacity.
func New[T any](capacity int) *Store[T] {
	s := &Store[T]{capacity: capacity}
	if capacity > 0 {
		s.buf = make([]T, 0, capacity)
	}
	return s
}

// Append adds a record, evicting the oldest one if the store is at capacity.
func (s *Store[T]) Append(rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity <= 0 || len(s.buf) < s.capacity {
		s.buf = append(s.buf, rec)
		return
	}
	// Ring is full: overwrite the oldest slot.
	s.buf[s.head] = rec
	s.head = (s.head + 1) % s.capacity
}

// Len returns the number of stored records.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length()
}

func (s *Store[T]) length() int {
	if s.capacity <= 0 {
		return len(s.buf)
	}
	if len(s.buf) < s.capacity {
		return len(s.buf)
	}
	return s.capacity
}

// Snapshot returns up to limit of the most recent records matching keep, in
// insertion order, as a copy. A nil keep matches everything; limit <= 0
// means no limit.
func (s *Store[T]) Snapshot(limit int, keep func(T) bool) []T {
	all := s.All()
	if keep != nil {
		filtered := all[:0]
		for _, rec := range all {
			if keep(rec) {
				filtered = append(filtered, rec)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// All returns every stored record in insertion order as a copy.
func (s *Store[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, s.length())
	s.appendOrdered(&out)
	return out
}

// appendOrdered writes the ring contents oldest-first. Caller holds a lock.
func (s *Store[T]) appendOrdered(out *[]T) {
	if s.capacity <= 0 || len(s.buf) < s.capacity {
		*out = append(*out, s.buf...)
		return
	}
	*out = append(*out, s.buf[s.head:]...)
	*out = append(*out, s.buf[:s.head]...)
}

// Mutate applies fn to each record in insertion order until fn reports it
// has made its change, and returns whether any record was changed. This is
// the one in-place mutation path (alert acknowledgment).
func (s *Store[T]) Mutate(fn func(*T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.length()
	for i := 0; i < n; i++ {
		idx := i
		if s.capacity > 0 && len(s.buf) == s.capacity {
			idx = (s.head + i) % s.capacity
		}
		if fn(&s.buf[idx]) {
			return true
		}
	}
	return false
}

// Prune removes every record for which keep returns false, preserving the
// relative order of survivors. It returns the number of records removed.
func (s *Store[T]) Prune(keep func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ordered []T
	s.appendOrdered(&ordered)

	survivors := ordered[:0]
	for _, rec := range ordered {
		if keep(rec) {
			survivors = append(survivors, rec)
		}
	}
	removed := len(ordered) - len(survivors)
	if removed == 0 {
		return 0
	}

	s.buf = s.buf[:0]
	s.buf = append(s.buf, survivors...)
	s.head = 0
	return removed
}
