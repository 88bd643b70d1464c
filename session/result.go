package session

import (
	"context"
	"sync"

	"github.com/kochabx/sessionkeeper/errors"
)

// State is the outcome of one verification.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticatedValid
	StateAuthenticatedRefreshed
)

func (s State) String() string {
	switch s {
	case StateAuthenticatedValid:
		return "valid"
	case StateAuthenticatedRefreshed:
		return "refreshed"
	default:
		return "unauthenticated"
	}
}

// Result is what route guards and page loaders consume.
type Result struct {
	State   State
	Error   ErrorTag
	Session *Session
}

func (r Result) IsAuthenticated() bool {
	return r.State != StateUnauthenticated
}

// Err maps an unauthenticated result to its typed kind: ErrSessionExpired
// for a session that died, ErrUnauthorized for one that never existed.
func (r Result) Err() error {
	switch {
	case r.IsAuthenticated():
		return nil
	case r.Error == TagSessionExpired:
		return errors.ErrSessionExpired
	default:
		return errors.ErrUnauthorized
	}
}

type memoKey struct{}

type memoEntry struct {
	once sync.Once
	res  Result
	err  error
}

type memo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

// WithMemo scopes verification results to ctx: Verify runs at most once per
// session ID for the lifetime of the returned context.
func WithMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(memoKey{}).(*memo); ok {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &memo{entries: make(map[string]*memoEntry)})
}

func (m *memo) do(id string, fn func() (Result, error)) (Result, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &memoEntry{}
		m.entries[id] = e
	}
	m.mu.Unlock()

	e.once.Do(func() { e.res, e.err = fn() })
	return e.res, e.err
}
