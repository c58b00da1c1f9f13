// Package safeset provides a small concurrent set. The serve engine uses it
// to track connections that are accepted but not yet established, so a
// shutdown can close sockets that no session owns yet.
package safeset

import "sync"

// SafeSet is a thread-safe set of comparable elements.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds an element to the set.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was not already present
func (s *SafeSet[T]) Add(value T) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes an element from the set.
//
// Parameters:
//   - value: The element to remove
//
// Returns:
//   - true if value was present
func (s *SafeSet[T]) Remove(value T) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.m[value]; !ok {
		return false
	}

	delete(s.m, value)
	return true
}

// Contains reports whether the set contains the given element.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Drain empties the set in one step and returns what it held. Elements
// added after Drain returns belong to the next Drain.
//
// Returns:
//   - The removed elements, in no particular order
func (s *SafeSet[T]) Drain() []T {
	s.Lock()
	old := s.m
	s.m = make(map[T]struct{})
	s.Unlock()

	out := make([]T, 0, len(old))
	for k := range old {
		out = append(out, k)
	}

	return out
}

// Range calls f for each element in the set under a read lock. Iteration
// stops if f returns false. f must not modify the set.
//
// Parameters:
//   - f: Function called for each element; return false to stop iteration
func (s *SafeSet[T]) Range(f func(value T) bool) {
	s.RLock()
	defer s.RUnlock()
	for k := range s.m {
		if !f(k) {
			break
		}
	}
}
