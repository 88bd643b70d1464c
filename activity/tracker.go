package activity

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultIdleTimeout = 30 * time.Minute

// Tracker records the last interaction and derives idleness from it. The
// idle flag is only recomputed by Check, so detection lags by at most the
// caller's check interval.
type Tracker struct {
	clock       clockwork.Clock
	idleTimeout time.Duration

	mu     sync.Mutex
	last   time.Time
	idle   bool
	unsubs []func()
	closed bool
}

type Option func(*Tracker)

func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idleTimeout = d
		}
	}
}

// NewTracker starts active, as if the user had just interacted.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:       clockwork.NewRealClock(),
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last = t.clock.Now()
	return t
}

// Attach subscribes to every signal of src. Attaching after Close is a no-op.
func (t *Tracker) Attach(src Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, sig := range signals {
		t.unsubs = append(t.unsubs, src.Subscribe(sig, func() { t.Touch(sig) }))
	}
}

// Touch records an interaction. Last activity never moves backwards.
func (t *Tracker) Touch(Signal) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.last) {
		t.last = now
	}
	t.idle = false
}

// Check recomputes and returns the idle flag.
func (t *Tracker) Check() bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = now.Sub(t.last) >= t.idleTimeout
	return t.idle
}

func (t *Tracker) IsIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// SetLastActivity overrides the last interaction time, e.g. when restoring a
// tracker. Unlike Touch it may move backwards.
func (t *Tracker) SetLastActivity(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = at
}

func (t *Tracker) IdleTimeout() time.Duration {
	return t.idleTimeout
}

// Close removes every subscription made by Attach.
func (t *Tracker) Close() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.closed = true
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
