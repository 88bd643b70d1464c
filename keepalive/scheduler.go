// Package keepalive keeps an active user's session alive by refreshing it on
// a fixed interval while the user is interacting with the app.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/core/validator"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/metrics"
	"github.com/kochabx/sessionkeeper/session"
)

// Outcome is the result of one tick or refresh attempt.
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
	OutcomeIdle      Outcome = "idle"
	OutcomeThrottled Outcome = "throttled"
	OutcomeStopped   Outcome = "stopped"
	OutcomeNoSession Outcome = "no_session"
)

var (
	ErrAlreadyStarted = errors.New(409, "keepalive: scheduler already started")
	ErrStopped        = errors.New(409, "keepalive: scheduler stopped")

	errPoolRejected = errors.ServiceUnavailable("keepalive: refresh pool rejected the task")
)

// Extender performs the non-destructive refresh. *session.Verifier
// implements it.
type Extender interface {
	Extend(ctx context.Context, id string) (*session.Session, error)
}

// ActivityTracker recomputes and reports idleness. *activity.Tracker
// implements it.
type ActivityTracker interface {
	Check() bool
}

// Scheduler runs the idle check and the refresh tick of one session.
type Scheduler struct {
	sessionID string
	extender  Extender
	tracker   ActivityTracker
	config    *Config
	clock     clockwork.Clock
	notifier  Notifier
	pool      *ants.Pool
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onOutcome func(Outcome)

	mu          sync.Mutex
	started     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	chain       cron.Chain
	loops       sync.WaitGroup
	timer       clockwork.Timer
	lastAttempt time.Time
	session     *session.Session
	inflight    sync.WaitGroup
}

type Option func(*Scheduler)

func WithConfig(c *Config) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.config = c
		}
	}
}

// WithClock sets the clock behind the initial timer, both periodic jobs and
// the refresh throttle.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithPool runs provider calls on p, bounding concurrent refreshes across
// schedulers sharing it.
func WithPool(p *ants.Pool) Option {
	return func(s *Scheduler) { s.pool = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l.Component("keepalive") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// OnOutcome registers fn to observe the outcome of every refresh attempt.
func OnOutcome(fn func(Outcome)) Option {
	return func(s *Scheduler) { s.onOutcome = fn }
}

func New(sessionID string, extender Extender, tracker ActivityTracker, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		sessionID: sessionID,
		extender:  extender,
		tracker:   tracker,
		config:    &Config{},
		clock:     clockwork.NewRealClock(),
		notifier:  Noop,
		logger:    log.G.Component("keepalive"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := tag.ApplyDefaults(s.config); err != nil {
		return nil, errors.ErrConfiguration.WithCause(err)
	}
	if err := validator.Validate.Struct(s.config); err != nil {
		return nil, errors.ErrConfiguration.WithMessage("keepalive: %v", err).WithCause(err)
	}
	s.logger = s.logger.With().Str("session_id", sessionID).Logger()
	return s, nil
}

// Start schedules the idle check and the refresh tick, and arms the initial
// refresh. A scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return ErrStopped
	case s.started:
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	logger := cronLogger{logger: s.logger}
	s.chain = cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))
	s.every(s.config.ActivityCheckInterval, cron.FuncJob(func() {
		s.tracker.Check()
	}))
	s.every(s.config.RefreshInterval, cron.FuncJob(func() {
		s.Tick(s.ctx)
	}))

	s.timer = s.clock.AfterFunc(s.config.InitialDelay, func() {
		s.RefreshNow(s.ctx)
	})

	s.started = true
	s.logger.Debug().
		Dur("refresh_interval", s.config.RefreshInterval).
		Dur("check_interval", s.config.ActivityCheckInterval).
		Msg("keepalive started")
	return nil
}

// Stop cancels all timers. The returned context is done once running jobs
// have returned; their results are discarded. Stop never blocks, so it may
// be called from within a job.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, finish := context.WithCancel(context.Background())
	if s.stopped || !s.started {
		s.stopped = true
		finish()
		return done
	}
	s.stopped = true

	s.timer.Stop()
	s.cancel()

	go func() {
		s.loops.Wait()
		s.inflight.Wait()
		finish()
	}()

	s.logger.Debug().Msg("keepalive stopped")
	return done
}

// every runs job through the chain on each tick of the scheduler's clock
// until the scheduler's context ends. Callers hold s.mu.
func (s *Scheduler) every(interval time.Duration, job cron.Job) {
	job = s.chain.Then(job)
	ticker := s.clock.NewTicker(interval)
	ctx := s.ctx

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.loops.Add(1)
				go func() {
					defer s.loops.Done()
					job.Run()
				}()
			}
		}
	}()
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Tick refreshes the session if the user has been active within the idle
// timeout.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	if s.isStopped() {
		return OutcomeStopped
	}
	if s.tracker.Check() {
		s.metrics.Tick(string(OutcomeIdle))
		s.logger.Debug().Msg("user idle, skipping refresh")
		return OutcomeIdle
	}
	return s.RefreshNow(ctx)
}

// RefreshNow extends the session unless the previous attempt started less
// than half a refresh interval ago.
func (s *Scheduler) RefreshNow(ctx context.Context) Outcome {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return OutcomeStopped
	}
	now := s.clock.Now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.config.RefreshInterval/2 {
		s.mu.Unlock()
		s.metrics.Tick(string(OutcomeThrottled))
		return OutcomeThrottled
	}
	previous := s.lastAttempt
	s.lastAttempt = now
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	sess, err := s.extend(ctx)
	if errors.Is(err, errPoolRejected) {
		s.logger.Warn().Err(err).Msg("refresh pool saturated, skipping tick")
		s.mu.Lock()
		if s.lastAttempt.Equal(now) {
			s.lastAttempt = previous
		}
		s.mu.Unlock()
		s.metrics.Tick(string(OutcomeThrottled))
		return OutcomeThrottled
	}

	if s.isStopped() {
		return OutcomeStopped
	}

	outcome := classify(err)
	s.report(ctx, outcome, sess, err)
	return outcome
}

// extend calls the extender, on the pool when one is configured.
func (s *Scheduler) extend(ctx context.Context) (*session.Session, error) {
	if s.pool == nil {
		return s.extender.Extend(ctx, s.sessionID)
	}

	type result struct {
		sess *session.Session
		err  error
	}
	ch := make(chan result, 1)
	if err := s.pool.Submit(func() {
		sess, err := s.extender.Extend(ctx, s.sessionID)
		ch <- result{sess, err}
	}); err != nil {
		return nil, errPoolRejected.WithCause(err)
	}

	select {
	case r := <-ch:
		return r.sess, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeRefreshed
	case errors.IsSessionExpired(err):
		return OutcomeExpired
	case errors.IsUnauthorized(err):
		return OutcomeNoSession
	default:
		return OutcomeFailed
	}
}

func (s *Scheduler) report(ctx context.Context, outcome Outcome, sess *session.Session, err error) {
	s.metrics.Tick(string(outcome))

	n := Notification{SessionID: s.sessionID, Outcome: outcome, At: s.clock.Now()}
	switch outcome {
	case OutcomeRefreshed:
		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()
		s.logger.Debug().Str("outcome", string(outcome)).Msg("session extended")
		if s.config.NotifySuccess {
			n.Level, n.Message = LevelInfo, MessageRefreshed
			s.notifier.Notify(ctx, n)
		}
	case OutcomeFailed:
		s.logger.Warn().Err(err).Str("outcome", string(outcome)).Msg("session refresh failed")
		n.Level, n.Message = LevelWarning, MessageExpiring
		s.notifier.Notify(ctx, n)
	case OutcomeExpired:
		s.logger.Info().Str("outcome", string(outcome)).Msg("refresh token expired")
		n.Level, n.Message = LevelError, MessageExpired
		s.notifier.Notify(ctx, n)
	default:
		s.logger.Debug().Str("outcome", string(outcome)).Msg("no session to refresh")
	}

	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
}

// Session returns the session as of the last successful refresh, or nil.
func (s *Scheduler) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *Scheduler) SessionID() string {
	return s.sessionID
}

func (s *Scheduler) Config() Config {
	return *s.config
}
