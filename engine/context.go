// Package engine hosts the per-browser session runtime: the activity
// tracker and keep-alive scheduler bound to one session ID.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"

	"github.com/kochabx/sessionkeeper/activity"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/keepalive"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/metrics"
	"github.com/kochabx/sessionkeeper/session"
)

var (
	ErrAlreadyStarted = errors.New(409, "engine: session context already started")
	ErrStopped        = errors.New(409, "engine: session context stopped")
)

// SessionContext ties a session to its activity tracker and keep-alive
// scheduler. Lifecycle: New, Start, Stop.
type SessionContext struct {
	id        string
	verifier  *session.Verifier
	bus       *activity.Bus
	tracker   *activity.Tracker
	scheduler *keepalive.Scheduler
	notifier  keepalive.Notifier

	mu      sync.Mutex
	started bool
	stopped bool
	stop    context.Context
}

type options struct {
	keepAlive   *keepalive.Config
	idleTimeout time.Duration
	notifier    keepalive.Notifier
	pool        *ants.Pool
	clock       clockwork.Clock
	logger      *log.Logger
	metrics     *metrics.Metrics
	onOutcome   func(keepalive.Outcome)
}

type Option func(*options)

func WithKeepAlive(c *keepalive.Config) Option {
	return func(o *options) { o.keepAlive = c }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

func WithNotifier(n keepalive.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithPool(p *ants.Pool) Option {
	return func(o *options) { o.pool = p }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) *options {
	o := &options{
		keepAlive: &keepalive.Config{},
		clock:     clockwork.NewRealClock(),
		logger:    log.G,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.notifier == nil {
		o.notifier = keepalive.NewQueue(keepalive.DefaultQueueSize)
	}
	return o
}

func New(id string, v *session.Verifier, opts ...Option) (*SessionContext, error) {
	return newSessionContext(id, v, newOptions(opts))
}

func newSessionContext(id string, v *session.Verifier, o *options) (*SessionContext, error) {
	bus := activity.NewBus()
	tracker := activity.NewTracker(activity.WithClock(o.clock), activity.WithIdleTimeout(o.idleTimeout))
	tracker.Attach(bus)

	// Each session gets its own copy so defaults never leak between them.
	cfg := *o.keepAlive
	schedOpts := []keepalive.Option{
		keepalive.WithConfig(&cfg),
		keepalive.WithClock(o.clock),
		keepalive.WithNotifier(o.notifier),
		keepalive.WithPool(o.pool),
		keepalive.WithLogger(o.logger),
		keepalive.WithMetrics(o.metrics),
	}
	if o.onOutcome != nil {
		schedOpts = append(schedOpts, keepalive.OnOutcome(o.onOutcome))
	}
	scheduler, err := keepalive.New(id, v, tracker, schedOpts...)
	if err != nil {
		tracker.Close()
		return nil, err
	}

	return &SessionContext{
		id:        id,
		verifier:  v,
		bus:       bus,
		tracker:   tracker,
		scheduler: scheduler,
		notifier:  o.notifier,
	}, nil
}

func (c *SessionContext) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stopped:
		return ErrStopped
	case c.started:
		return ErrAlreadyStarted
	}
	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop halts the scheduler and detaches the tracker. It is idempotent and
// returns the scheduler's drain context.
func (c *SessionContext) Stop() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		c.stopped = true
		c.stop = c.scheduler.Stop()
		c.tracker.Close()
	}
	return c.stop
}

func (c *SessionContext) ID() string {
	return c.id
}

// Verify runs the authoritative check for this session.
func (c *SessionContext) Verify(ctx context.Context) (session.Result, error) {
	return c.verifier.Verify(ctx, c.id)
}

// Touch reports a user interaction.
func (c *SessionContext) Touch(sig activity.Signal) {
	c.bus.Publish(sig)
}

// Notifications drains pending notifications when the notifier is a
// keepalive.Queue, and returns nil otherwise.
func (c *SessionContext) Notifications() []keepalive.Notification {
	if q, ok := c.notifier.(*keepalive.Queue); ok {
		return q.Drain()
	}
	return nil
}

func (c *SessionContext) Tracker() *activity.Tracker {
	return c.tracker
}

func (c *SessionContext) Scheduler() *keepalive.Scheduler {
	return c.scheduler
}
