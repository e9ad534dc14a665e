// Package repository provides the generic keyed entity store backing the caches.
//
// A Store keeps one table of rows indexed by a primary key and, optionally,
// a secondary unique key (e.g. problem name). Writers are expected to be
// serialized by the owning cache; the store itself only guarantees that every
// read observes either the fully-old or fully-new table around a replace.
package repository

import (
	"sync"

	"github.com/okian/cfcache/pkg/metrics"
)

// Store is an in-memory keyed table of V.
type Store[V any] struct {
	mu        sync.RWMutex
	name      string
	primary   func(V) string
	secondary func(V) string // nil when the table has no secondary key
	byID      map[string]V
	byKey     map[string]string // secondary key -> primary key
}

// New creates a store named name, keyed by primary.
func New[V any](name string, primary func(V) string, opts ...Option[V]) *Store[V] {
	s := &Store[V]{
		name:    name,
		primary: primary,
		byID:    make(map[string]V),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secondary != nil {
		s.byKey = make(map[string]string)
	}
	return s
}

// Upsert inserts or replaces a single row. A secondary key already mapped to
// a different row is re-pointed to the new one (re-fetch overwrites).
func (s *Store[V]) Upsert(v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.primary(v)
	if s.secondary != nil {
		if old, ok := s.byID[id]; ok {
			if k := s.secondary(old); k != s.secondary(v) {
				delete(s.byKey, k)
			}
		}
		s.byKey[s.secondary(v)] = id
	}
	s.byID[id] = v
	metrics.UpdateStoreRecords(s.name, len(s.byID))
}

// Get returns the row with the given primary key.
func (s *Store[V]) Get(id string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byID[id]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// GetBySecondary returns the row with the given secondary key.
// It returns ErrNoSecondaryKey if the store was built without one.
func (s *Store[V]) GetBySecondary(key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero V
	if s.secondary == nil {
		return zero, ErrNoSecondaryKey
	}
	id, ok := s.byKey[key]
	if !ok {
		return zero, ErrNotFound
	}
	return s.byID[id], nil
}

// All returns a snapshot of every row. Order is unspecified.
func (s *Store[V]) All() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]V, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	return out
}

// Count returns the number of stored rows.
func (s *Store[V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ReplaceAll swaps the whole table for rows. Readers see either the old or
// the new table, never a mix.
func (s *Store[V]) ReplaceAll(rows []V) {
	byID := make(map[string]V, len(rows))
	var byKey map[string]string
	if s.secondary != nil {
		byKey = make(map[string]string, len(rows))
	}
	for _, v := range rows {
		id := s.primary(v)
		byID[id] = v
		if byKey != nil {
			byKey[s.secondary(v)] = id
		}
	}

	s.mu.Lock()
	s.byID = byID
	s.byKey = byKey
	s.mu.Unlock()
	metrics.UpdateStoreRecords(s.name, len(byID))
}

// ReplaceScope atomically deletes every row matching in and inserts rows.
// Rows outside the scope are untouched. The caller is responsible for rows
// actually belonging to the scope.
func (s *Store[V]) ReplaceScope(in func(V) bool, rows []V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range s.byID {
		if !in(v) {
			continue
		}
		if s.secondary != nil {
			delete(s.byKey, s.secondary(v))
		}
		delete(s.byID, id)
	}
	for _, v := range rows {
		id := s.primary(v)
		s.byID[id] = v
		if s.secondary != nil {
			s.byKey[s.secondary(v)] = id
		}
	}
	metrics.UpdateStoreRecords(s.name, len(s.byID))
}
