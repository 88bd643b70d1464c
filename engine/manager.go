package engine

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/keepalive"
	"github.com/kochabx/sessionkeeper/session"
)

const DefaultPoolSize = 64

var ErrManagerClosed = errors.ServiceUnavailable("engine: manager closed")

// Manager hosts one SessionContext per open session. Contexts share a
// goroutine pool that bounds concurrent provider calls. A context closes
// itself when its scheduler finds the session expired or gone.
type Manager struct {
	verifier *session.Verifier
	pool     *ants.Pool
	ownPool  bool
	logger   zerolog.Logger
	base     context.Context
	cancel   context.CancelFunc
	o        *options

	mu       sync.Mutex
	contexts map[string]*SessionContext
	closed   bool
}

// NewManager creates a pool of poolSize workers unless WithPool is given.
// The manager registers itself as an invalidator on v.
func NewManager(v *session.Verifier, poolSize int, opts ...Option) (*Manager, error) {
	o := newOptions(opts)

	m := &Manager{
		verifier: v,
		pool:     o.pool,
		logger:   o.logger.Component("engine"),
		contexts: make(map[string]*SessionContext),
		o:        o,
	}
	if m.pool == nil {
		if poolSize <= 0 {
			poolSize = DefaultPoolSize
		}
		pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
		if err != nil {
			return nil, err
		}
		m.pool, m.ownPool = pool, true
	}
	m.base, m.cancel = context.WithCancel(context.Background())

	v.AddInvalidator(m)
	return m, nil
}

// Open verifies the session and starts its context. An already open context
// is returned as is.
func (m *Manager) Open(ctx context.Context, id string) (*SessionContext, error) {
	if sc, ok := m.Get(id); ok {
		return sc, nil
	}

	res, err := m.verifier.Verify(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.IsAuthenticated() {
		return nil, res.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if sc, ok := m.contexts[id]; ok {
		return sc, nil
	}

	o := *m.o
	o.pool = m.pool
	o.notifier = keepalive.NewQueue(keepalive.DefaultQueueSize)
	o.onOutcome = func(outcome keepalive.Outcome) {
		if outcome == keepalive.OutcomeExpired || outcome == keepalive.OutcomeNoSession {
			m.Close(id)
		}
	}

	sc, err := newSessionContext(id, m.verifier, &o)
	if err != nil {
		return nil, err
	}
	if err := sc.Start(m.base); err != nil {
		sc.Stop()
		return nil, err
	}

	m.contexts[id] = sc
	m.o.metrics.SessionOpened()
	m.logger.Debug().Str("session_id", id).Msg("session context opened")
	return sc, nil
}

func (m *Manager) Get(id string) (*SessionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[id]
	return sc, ok
}

// Close stops and removes the context of id. It reports whether one was open.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	sc, ok := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	sc.Stop()
	m.o.metrics.SessionClosed()
	m.logger.Debug().Str("session_id", id).Msg("session context closed")
	return true
}

// Invalidate closes the context of an ended session.
func (m *Manager) Invalidate(_ context.Context, s *session.Session) {
	m.Close(s.ID)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// Shutdown stops every context and waits for running jobs until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	contexts := m.contexts
	m.contexts = make(map[string]*SessionContext)
	m.mu.Unlock()

	m.cancel()
	waits := make([]context.Context, 0, len(contexts))
	for _, sc := range contexts {
		waits = append(waits, sc.Stop())
		m.o.metrics.SessionClosed()
	}

	for _, w := range waits {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.ownPool {
		m.pool.Release()
	}
	m.logger.Info().Int("sessions", len(contexts)).Msg("engine shut down")
	return nil
}
