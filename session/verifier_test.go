package session_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/auth/oidc/oidctest"
	"github.com/kochabx/sessionkeeper/core/auth/token"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/metrics"
	"github.com/kochabx/sessionkeeper/session"
)

type fixture struct {
	clock       *clockwork.FakeClock
	idp         *oidctest.Provider
	store       *session.MemoryStore
	verifier    *session.Verifier
	registry    *prometheus.Registry
	invalidated []string
	mu          sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clockwork.NewFakeClockAt(time.Now().Truncate(time.Second)),
		store:    session.NewMemoryStore(),
		registry: prometheus.NewRegistry(),
	}
	f.idp = oidctest.New(t, oidctest.WithClock(f.clock))

	inspector := token.NewInspector(token.WithClock(f.clock))
	client, err := oidc.New(context.Background(), f.idp.Config(false),
		oidc.WithHTTPClient(f.idp.HTTPClient()),
		oidc.WithInspector(inspector),
	)
	require.NoError(t, err)

	f.verifier = session.NewVerifier(f.store, inspector, client,
		session.WithMetrics(metrics.New(f.registry)),
		session.WithInvalidators(session.InvalidatorFunc(func(_ context.Context, s *session.Session) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.invalidated = append(f.invalidated, s.UserID)
		})),
	)
	return f
}

func (f *fixture) login(t *testing.T, id string) *session.Session {
	t.Helper()
	access, refresh := f.idp.Pair("user-" + id)
	s := &session.Session{
		ID:           id,
		UserID:       "user-" + id,
		AccessToken:  access,
		RefreshToken: refresh,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.store.Save(context.Background(), s))
	return s
}

func (f *fixture) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

func (f *fixture) forcedLogouts(t *testing.T) int {
	t.Helper()
	n, err := testutil.GatherAndCount(f.registry, "sessionkeeper_forced_logout_total")
	require.NoError(t, err)
	return n
}

func TestVerifyValidSession(t *testing.T) {
	f := newFixture(t)
	s := f.login(t, "s1")

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticatedValid, res.State)
	assert.Equal(t, s.AccessToken, res.Session.AccessToken)
	assert.NoError(t, res.Err())
	assert.Zero(t, f.idp.RefreshCalls())
}

func TestVerifyWithoutSession(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"", "unknown"} {
		res, err := f.verifier.Verify(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, session.StateUnauthenticated, res.State)
		assert.Equal(t, session.TagNone, res.Error)
		assert.True(t, errors.IsUnauthorized(res.Err()))
	}
	assert.Zero(t, f.idp.RefreshCalls())
}

func TestVerifyRefreshesExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	s := f.login(t, "s1")

	f.clock.Advance(4*time.Minute + 45*time.Second)

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticatedRefreshed, res.State)
	assert.NotEqual(t, s.AccessToken, res.Session.AccessToken)
	assert.NotEqual(t, s.RefreshToken, res.Session.RefreshToken)
	assert.Equal(t, 1, f.idp.RefreshCalls())

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, res.Session.AccessToken, stored.AccessToken)
	assert.Equal(t, "ss-user-s1", stored.SessionState)

	res, err = f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticatedValid, res.State)
	assert.Equal(t, 1, f.idp.RefreshCalls())
}

func TestVerifyForcesLogoutOnDecline(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.idp.FailWith(http.StatusBadRequest, `{"error":"invalid_grant"}`)
	f.clock.Advance(5 * time.Minute)

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateUnauthenticated, res.State)
	assert.Equal(t, session.TagSessionExpired, res.Error)
	assert.True(t, errors.IsSessionExpired(res.Err()))

	assert.Zero(t, f.store.Len())
	assert.Equal(t, []string{"user-s1"}, f.invalidations())
	assert.Equal(t, 1, f.idp.EndSessionCalls())
	assert.Equal(t, 1, f.forcedLogouts(t))
}

func TestVerifyForcesLogout(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*session.Session)
	}{
		{name: "refresh failed tag", mutate: func(s *session.Session) { s.Error = session.TagRefreshFailed }},
		{name: "missing access token", mutate: func(s *session.Session) { s.AccessToken = "" }},
		{name: "missing refresh token", mutate: func(s *session.Session) { s.RefreshToken = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.login(t, "s1")
			tc.mutate(s)
			require.NoError(t, f.store.Save(context.Background(), s))

			res, err := f.verifier.Verify(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, session.StateUnauthenticated, res.State)
			assert.Equal(t, session.TagSessionExpired, res.Error)
			assert.Zero(t, f.store.Len())
			assert.Zero(t, f.idp.RefreshCalls())
			assert.Equal(t, []string{"user-s1"}, f.invalidations())
		})
	}
}

func TestVerifyRejectsTokenExpiredOnIssue(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.clock.Advance(5 * time.Minute)
	f.idp.AccessTTL = 10 * time.Second

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateUnauthenticated, res.State)
	assert.Equal(t, session.TagSessionExpired, res.Error)
	assert.Equal(t, 1, f.idp.RefreshCalls())
	assert.Zero(t, f.store.Len())
}

func TestVerifySingleFlight(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.clock.Advance(5 * time.Minute)

	release := f.idp.Hold()
	defer release()

	const callers = 8
	results := make([]session.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.verifier.Verify(context.Background(), "s1")
		}()
	}

	require.Eventually(t, func() bool { return f.idp.RefreshCalls() == 1 }, time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, f.idp.RefreshCalls())
	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	for i := range callers {
		require.NoError(t, errs[i])
		assert.True(t, results[i].IsAuthenticated())
		assert.Equal(t, stored.AccessToken, results[i].Session.AccessToken)
	}
}

// staleStore serves a stale copy on the first Load, as if another replica
// rotated the tokens between the caller's read and its refresh.
type staleStore struct {
	*session.MemoryStore
	mu    sync.Mutex
	stale *session.Session
}

func (s *staleStore) Load(ctx context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	stale := s.stale
	s.stale = nil
	s.mu.Unlock()
	if stale != nil {
		return stale.Clone(), nil
	}
	return s.MemoryStore.Load(ctx, id)
}

func TestVerifyReusesRotatedSession(t *testing.T) {
	f := newFixture(t)
	stale := f.login(t, "s1")
	f.clock.Advance(5 * time.Minute)

	rotated := stale.Clone()
	rotated.AccessToken, rotated.RefreshToken = f.idp.Pair("user-s1")
	require.NoError(t, f.store.Save(context.Background(), rotated))

	store := &staleStore{MemoryStore: f.store, stale: stale}
	v := session.NewVerifier(store, f.verifier.Inspector(), nil)

	res, err := v.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticatedRefreshed, res.State)
	assert.Equal(t, rotated.AccessToken, res.Session.AccessToken)
	assert.Zero(t, f.idp.RefreshCalls())
}

func TestVerifyMemo(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.clock.Advance(5 * time.Minute)

	ctx := session.WithMemo(context.Background())
	assert.Equal(t, ctx, session.WithMemo(ctx))

	first, err := f.verifier.Verify(ctx, "s1")
	require.NoError(t, err)
	second, err := f.verifier.Verify(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, session.StateAuthenticatedRefreshed, first.State)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.idp.RefreshCalls())

	res, err := f.verifier.Verify(ctx, "other")
	require.NoError(t, err)
	assert.False(t, res.IsAuthenticated())
}

type failingStore struct{ session.Store }

func (failingStore) Load(context.Context, string) (*session.Session, error) {
	return nil, errors.ServiceUnavailable("store down")
}

func TestVerifyStoreFailure(t *testing.T) {
	f := newFixture(t)
	v := session.NewVerifier(failingStore{}, f.verifier.Inspector(), nil)

	_, err := v.Verify(context.Background(), "s1")
	assert.Error(t, err)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	s := f.login(t, "s1")

	next, err := f.verifier.Extend(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotEqual(t, s.AccessToken, next.AccessToken)
	assert.Equal(t, 1, f.idp.RefreshCalls())

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, next.RefreshToken, stored.RefreshToken)
}

func TestExtendDeclinedKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.idp.FailWith(http.StatusServiceUnavailable, "")

	_, err := f.verifier.Extend(context.Background(), "s1")
	assert.True(t, errors.IsRefreshDeclined(err))
	assert.Equal(t, 1, f.store.Len())
	assert.Empty(t, f.invalidations())
	assert.Zero(t, f.forcedLogouts(t))
}

func TestExtendExpiredRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.clock.Advance(30 * time.Minute)

	_, err := f.verifier.Extend(context.Background(), "s1")
	assert.True(t, errors.IsSessionExpired(err))
	assert.Zero(t, f.idp.RefreshCalls())

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.TagRefreshFailed, stored.Error)

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.TagSessionExpired, res.Error)
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.idp.EndSessionCalls(), "an expired refresh token cannot end the provider session")
}

func TestExtendUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.Extend(context.Background(), "nope")
	assert.True(t, errors.IsUnauthorized(err))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")

	require.NoError(t, f.verifier.Logout(context.Background(), "s1"))
	assert.Zero(t, f.store.Len())
	assert.Equal(t, 1, f.idp.EndSessionCalls())
	assert.Equal(t, []string{"user-s1"}, f.invalidations())
	assert.Zero(t, f.forcedLogouts(t))

	require.NoError(t, f.verifier.Logout(context.Background(), "s1"))
	assert.Equal(t, 1, f.idp.EndSessionCalls())
}

func TestForceLogoutCountsReason(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")

	require.NoError(t, f.verifier.ForceLogout(context.Background(), "s1", session.ReasonDomainRejected))
	assert.Zero(t, f.store.Len())
	assert.Equal(t, 1, f.idp.EndSessionCalls())
	assert.Equal(t, 1, f.forcedLogouts(t))

	expected := `
# HELP sessionkeeper_forced_logout_total Sessions terminated by the system, by reason
# TYPE sessionkeeper_forced_logout_total counter
sessionkeeper_forced_logout_total{reason="domain_rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "sessionkeeper_forced_logout_total"))
}

func TestLogoutDuringExtend(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")

	release := f.idp.Hold()
	defer release()

	errc := make(chan error, 1)
	go func() {
		_, err := f.verifier.Extend(context.Background(), "s1")
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.idp.RefreshCalls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.verifier.Logout(context.Background(), "s1"))
	release()

	err := <-errc
	assert.True(t, errors.IsUnauthorized(err))
	assert.Zero(t, f.store.Len(), "the rotated tokens are not written back")

	res, err := f.verifier.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateUnauthenticated, res.State)
	assert.Equal(t, 1, f.idp.EndSessionCalls())
	assert.Zero(t, f.forcedLogouts(t))
}

func TestLogoutDuringVerifyRefresh(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")
	f.clock.Advance(5 * time.Minute)

	release := f.idp.Hold()
	defer release()

	type verified struct {
		res session.Result
		err error
	}
	out := make(chan verified, 1)
	go func() {
		res, err := f.verifier.Verify(context.Background(), "s1")
		out <- verified{res, err}
	}()
	require.Eventually(t, func() bool { return f.idp.RefreshCalls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.verifier.Logout(context.Background(), "s1"))
	release()

	v := <-out
	require.NoError(t, v.err)
	assert.Equal(t, session.StateUnauthenticated, v.res.State)
	assert.Zero(t, f.store.Len())
	assert.Equal(t, 1, f.idp.EndSessionCalls(), "the provider session is ended once")
	assert.Equal(t, []string{"user-s1"}, f.invalidations())
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()

	ok, err := store.Update(ctx, &session.Session{ID: "s1", AccessToken: "a"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.Len())

	require.NoError(t, store.Save(ctx, &session.Session{ID: "s1", AccessToken: "a"}))
	ok, err = store.Update(ctx, &session.Session{ID: "s1", AccessToken: "b"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.AccessToken)
}

// heldRefresher grants every refresh, but only once released.
type heldRefresher struct {
	idp     *oidctest.Provider
	entered chan struct{}
	release chan struct{}
}

func (r *heldRefresher) Refresh(ctx context.Context, _ string) (*oidc.RefreshResult, error) {
	r.entered <- struct{}{}
	<-r.release
	access, refresh := r.idp.Pair("user-s1")
	return &oidc.RefreshResult{AccessToken: access, RefreshToken: refresh}, nil
}

func (r *heldRefresher) EndSession(context.Context, string) error { return nil }

func TestGrantAfterLogoutIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.login(t, "s1")

	refresher := &heldRefresher{idp: f.idp, entered: make(chan struct{}, 1), release: make(chan struct{})}
	v := session.NewVerifier(f.store, f.verifier.Inspector(), refresher)

	errc := make(chan error, 1)
	go func() {
		_, err := v.Extend(context.Background(), "s1")
		errc <- err
	}()
	<-refresher.entered

	require.NoError(t, v.Logout(context.Background(), "s1"))
	close(refresher.release)

	assert.True(t, errors.IsUnauthorized(<-errc))
	assert.Zero(t, f.store.Len())

	res, err := v.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, res.IsAuthenticated())
}
