// Package cache holds identity-scoped domain data that must not outlive the
// user's session.
package cache

import (
	"context"
	"sync"

	"github.com/kochabx/sessionkeeper/session"
)

// Store caches a list of T per user. Reads return copies so callers cannot
// alter the cached list.
type Store[T any] struct {
	mu      sync.RWMutex
	entries map[string][]T
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{entries: make(map[string][]T)}
}

func (s *Store[T]) Set(userID string, items []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = append([]T(nil), items...)
}

func (s *Store[T]) Get(userID string) ([]T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.entries[userID]
	if !ok {
		return nil, false
	}
	return append([]T(nil), items...), true
}

// Len returns the number of cached users.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

// Invalidate drops the ended session's user from the cache.
func (s *Store[T]) Invalidate(_ context.Context, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sess.UserID)
}

var _ session.Invalidator = (*Store[Category])(nil)
