package session

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/auth/token"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/metrics"
)

// Forced logout reasons.
const (
	ReasonRefreshFailed   = "refresh_failed"
	ReasonMissingTokens   = "missing_tokens"
	ReasonRefreshDeclined = "refresh_declined"
	ReasonExpiredIssue    = "expired_on_issue"
	ReasonDomainRejected  = "domain_rejected"
	ReasonUserLogout      = "user_logout"
)

// Refresher performs the refresh grant. *oidc.Client implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oidc.RefreshResult, error)
	EndSession(ctx context.Context, refreshToken string) error
}

// Invalidator drops state bound to a session's identity when it ends.
type Invalidator interface {
	Invalidate(ctx context.Context, s *Session)
}

type InvalidatorFunc func(ctx context.Context, s *Session)

func (f InvalidatorFunc) Invalidate(ctx context.Context, s *Session) { f(ctx, s) }

// Verifier decides, on every navigation or tick, whether a session is still
// usable, refreshing it or ending it as needed. It is the only component that
// terminates sessions on authentication failure.
type Verifier struct {
	store        Store
	inspector    *token.Inspector
	refresher    Refresher
	invalidators []Invalidator
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	clock        clockwork.Clock
	flight       singleflight.Group
}

type Option func(*Verifier)

func WithInvalidators(inv ...Invalidator) Option {
	return func(v *Verifier) { v.invalidators = append(v.invalidators, inv...) }
}

func WithLogger(l *log.Logger) Option {
	return func(v *Verifier) { v.logger = l.Component("session") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

func NewVerifier(store Store, inspector *token.Inspector, refresher Refresher, opts ...Option) *Verifier {
	v := &Verifier{
		store:     store,
		inspector: inspector,
		refresher: refresher,
		logger:    log.G.Component("session"),
		clock:     inspector.Clock(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddInvalidator registers inv after construction.
func (v *Verifier) AddInvalidator(inv Invalidator) {
	v.invalidators = append(v.invalidators, inv)
}

func (v *Verifier) Store() Store {
	return v.store
}

func (v *Verifier) Inspector() *token.Inspector {
	return v.inspector
}

// Verify loads the session and returns its state, refreshing expired access
// tokens and forcing a logout when the session cannot be recovered. The error
// is reserved for infrastructure failures; authentication failures are
// reported through the Result.
func (v *Verifier) Verify(ctx context.Context, id string) (Result, error) {
	if m, ok := ctx.Value(memoKey{}).(*memo); ok {
		return m.do(id, func() (Result, error) { return v.verify(ctx, id) })
	}
	return v.verify(ctx, id)
}

func (v *Verifier) verify(ctx context.Context, id string) (Result, error) {
	res, err := v.evaluate(ctx, id)
	if err == nil {
		v.metrics.Verify(res.State.String())
	}
	return res, err
}

func (v *Verifier) evaluate(ctx context.Context, id string) (Result, error) {
	if id == "" {
		return Result{State: StateUnauthenticated}, nil
	}

	s, err := v.store.Load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return Result{State: StateUnauthenticated}, nil
	}

	if s.Error == TagRefreshFailed {
		return v.expire(ctx, s, ReasonRefreshFailed), nil
	}
	if !s.HasTokens() {
		return v.expire(ctx, s, ReasonMissingTokens), nil
	}
	if !v.inspector.IsAccessTokenExpired(s.AccessToken) {
		return Result{State: StateAuthenticatedValid, Session: s}, nil
	}

	next, err := v.refresh(ctx, s, metrics.SourceVerify)
	switch {
	case err == nil:
		return Result{State: StateAuthenticatedRefreshed, Session: next}, nil
	case errors.IsSessionExpired(err):
		return v.expire(ctx, s, ReasonExpiredIssue), nil
	case errors.IsRefreshDeclined(err):
		return v.expire(ctx, s, ReasonRefreshDeclined), nil
	case errors.IsUnauthorized(err):
		// ended by someone else while the grant was in flight
		return Result{State: StateUnauthenticated}, nil
	default:
		return Result{}, err
	}
}

// refresh runs one refresh grant per session ID at a time. Callers arriving
// while a grant is in flight share its result. Inside the flight the session
// is reloaded, and a session another caller already rotated is returned
// without contacting the provider. A session deleted before the rotated
// tokens are stored stays deleted and errors.ErrUnauthorized is returned.
func (v *Verifier) refresh(ctx context.Context, seen *Session, source string) (*Session, error) {
	ch := v.flight.DoChan(seen.ID, func() (any, error) {
		fctx := context.WithoutCancel(ctx)

		current, err := v.store.Load(fctx, seen.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, errors.ErrUnauthorized
		}
		if current.AccessToken != seen.AccessToken && !v.inspector.IsAccessTokenExpired(current.AccessToken) {
			v.metrics.Refresh(source, "reused")
			return current, nil
		}

		res, err := v.refresher.Refresh(fctx, current.RefreshToken)
		if err != nil {
			if v.ended(fctx, current.ID) {
				v.metrics.Refresh(source, "discarded")
				return nil, errors.ErrUnauthorized
			}
			v.metrics.Refresh(source, "declined")
			return nil, err
		}
		if v.inspector.IsAccessTokenExpired(res.AccessToken) {
			v.metrics.Refresh(source, "expired")
			return nil, errors.ErrSessionExpired.WithMessage("provider issued an expired access token")
		}

		next := current.Clone()
		next.AccessToken = res.AccessToken
		next.RefreshToken = res.RefreshToken
		if res.SessionState != "" {
			next.SessionState = res.SessionState
		}
		next.Error = TagNone
		next.UpdatedAt = v.clock.Now()
		ok, err := v.store.Update(fctx, next)
		if err != nil {
			return nil, err
		}
		if !ok {
			// terminated while the grant was in flight
			v.metrics.Refresh(source, "discarded")
			v.logger.Debug().Str("session_id", next.ID).Str("source", source).Msg("refresh discarded, session ended")
			return nil, errors.ErrUnauthorized
		}

		v.metrics.Refresh(source, "refreshed")
		v.logger.Debug().Str("session_id", next.ID).Str("source", source).Msg("session refreshed")
		return next, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Session).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ended reports whether the session was deleted, e.g. by a logout that
// revoked the refresh token the grant was using.
func (v *Verifier) ended(ctx context.Context, id string) bool {
	s, err := v.store.Load(ctx, id)
	return err == nil && s == nil
}

// Extend is the keep-alive refresh. It always performs a refresh grant so the
// provider's SSO session stays alive, and never ends the session: a declined
// grant returns errors.ErrRefreshDeclined. A refresh token that is itself past
// expiry tags the session so the next Verify ends it, and returns
// errors.ErrSessionExpired. A session ended meanwhile returns
// errors.ErrUnauthorized.
func (v *Verifier) Extend(ctx context.Context, id string) (*Session, error) {
	s, err := v.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.ErrUnauthorized
	}
	if s.Error == TagRefreshFailed {
		return nil, errors.ErrSessionExpired
	}

	if !s.HasTokens() || v.inspector.IsRefreshTokenExpired(s.RefreshToken) {
		s.Error = TagRefreshFailed
		s.UpdatedAt = v.clock.Now()
		ok, err := v.store.Update(ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.ErrUnauthorized
		}
		v.metrics.Refresh(metrics.SourceKeepAlive, "expired")
		v.logger.Info().Str("session_id", id).Msg("refresh token expired, session marked for logout")
		return nil, errors.ErrSessionExpired.WithMessage("refresh token expired")
	}

	next, err := v.refresh(ctx, s, metrics.SourceKeepAlive)
	switch {
	case err == nil:
		return next, nil
	case errors.IsRefreshDeclined(err):
		return nil, err
	case errors.IsUnauthorized(err):
		return nil, err
	case errors.IsSessionExpired(err):
		return nil, errors.ErrRefreshDeclined.WithCause(err)
	default:
		return nil, err
	}
}

// Logout ends the session at the user's request.
func (v *Verifier) Logout(ctx context.Context, id string) error {
	return v.ForceLogout(ctx, id, ReasonUserLogout)
}

// ForceLogout ends the session for reason. Unknown sessions are ignored.
func (v *Verifier) ForceLogout(ctx context.Context, id string, reason string) error {
	s, err := v.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return v.terminate(ctx, s, reason)
}

func (v *Verifier) expire(ctx context.Context, s *Session, reason string) Result {
	_ = v.terminate(ctx, s, reason)
	return Result{State: StateUnauthenticated, Error: TagSessionExpired}
}

// terminate deletes the session, clears identity-bound caches and ends the
// provider session when its refresh token is still good. It never redirects.
func (v *Verifier) terminate(ctx context.Context, s *Session, reason string) error {
	ctx = context.WithoutCancel(ctx)

	err := v.store.Delete(ctx, s.ID)
	if err != nil {
		v.logger.Error().Err(err).Str("session_id", s.ID).Msg("delete session")
	}

	for _, inv := range v.invalidators {
		inv.Invalidate(ctx, s)
	}

	if s.RefreshToken != "" && !v.inspector.IsRefreshTokenExpired(s.RefreshToken) {
		if endErr := v.refresher.EndSession(ctx, s.RefreshToken); endErr != nil {
			v.logger.Warn().Err(endErr).Str("session_id", s.ID).Msg("end provider session")
		}
	}

	if reason != ReasonUserLogout {
		v.metrics.ForcedLogout(reason)
	}
	v.logger.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Str("reason", reason).Msg("session ended")
	return err
}
