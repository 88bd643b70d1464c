package oidc_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/auth/oidc/oidctest"
	"github.com/kochabx/sessionkeeper/core/auth/token"
	"github.com/kochabx/sessionkeeper/errors"
)

func newClient(t *testing.T, discovery bool) (*oidctest.Provider, *oidc.Client) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	idp := oidctest.New(t, oidctest.WithClock(clock))
	c, err := oidc.New(context.Background(), idp.Config(discovery),
		oidc.WithHTTPClient(idp.HTTPClient()),
		oidc.WithInspector(token.NewInspector(token.WithClock(clock))),
	)
	require.NoError(t, err)
	return idp, c
}

func TestRefresh(t *testing.T) {
	idp, c := newClient(t, false)
	_, refresh := idp.Pair("user-1")

	res, err := c.Refresh(context.Background(), refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, refresh, res.RefreshToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, "ss-user-1", res.SessionState)
	assert.EqualValues(t, 300, res.ExpiresIn)
	assert.Equal(t, 1, idp.RefreshCalls())
}

func TestRefreshCollapsesFailures(t *testing.T) {
	cases := []struct {
		name   string
		script func(*oidctest.Provider)
		stage  string
	}{
		{
			name:   "http 400",
			script: func(p *oidctest.Provider) { p.FailWith(http.StatusBadRequest, `{"error":"invalid_grant"}`) },
			stage:  oidc.StageStatus,
		},
		{
			name: "missing refresh_token",
			script: func(p *oidctest.Provider) {
				p.RespondWith(`{"access_token":"a","expires_in":300,"refresh_expires_in":1800,"token_type":"Bearer","session_state":"s"}`)
			},
			stage: oidc.StageSchema,
		},
		{
			name: "mistyped expires_in",
			script: func(p *oidctest.Provider) {
				p.RespondWith(`{"access_token":"a","refresh_token":"r","expires_in":"300","refresh_expires_in":1800,"token_type":"Bearer","session_state":"s"}`)
			},
			stage: oidc.StageSchema,
		},
		{
			name:   "not json",
			script: func(p *oidctest.Provider) { p.RespondWith(`<html>oops</html>`) },
			stage:  oidc.StageSchema,
		},
		{
			name:   "server error",
			script: func(p *oidctest.Provider) { p.FailWith(http.StatusBadGateway, ``) },
			stage:  oidc.StageStatus,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idp, c := newClient(t, false)
			_, refresh := idp.Pair("user-1")
			tc.script(idp)

			res, err := c.Refresh(context.Background(), refresh)
			assert.Nil(t, res)
			assert.True(t, errors.IsRefreshDeclined(err))
			assert.Equal(t, tc.stage, oidc.DeclineStage(err))
		})
	}
}

func TestRefreshExpiredTokenMakesNoCall(t *testing.T) {
	idp, c := newClient(t, false)
	stale := idp.Mint("user-1", "Refresh", 59*time.Second)

	res, err := c.Refresh(context.Background(), stale)
	assert.Nil(t, res)
	assert.True(t, errors.IsRefreshDeclined(err))
	assert.Equal(t, oidc.StageExpired, oidc.DeclineStage(err))
	assert.Zero(t, idp.RefreshCalls())

	res, err = c.Refresh(context.Background(), "garbage")
	assert.Nil(t, res)
	assert.True(t, errors.IsRefreshDeclined(err))
	assert.Zero(t, idp.RefreshCalls())
}

func TestRefreshTransportFailure(t *testing.T) {
	idp, c := newClient(t, false)
	_, refresh := idp.Pair("user-1")
	idp.Close()

	res, err := c.Refresh(context.Background(), refresh)
	assert.Nil(t, res)
	assert.Equal(t, oidc.StageTransport, oidc.DeclineStage(err))
}

func TestRefreshHonoursContext(t *testing.T) {
	idp, c := newClient(t, false)
	_, refresh := idp.Pair("user-1")
	release := idp.Hold()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Refresh(ctx, refresh)
	assert.True(t, errors.IsRefreshDeclined(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDiscovery(t *testing.T) {
	idp, c := newClient(t, true)
	assert.Equal(t, idp.TokenURL(), c.Endpoint().TokenURL)
	assert.Equal(t, idp.Issuer()+"/protocol/openid-connect/logout", c.EndSessionEndpoint())
}

func TestDefaultEndpoints(t *testing.T) {
	idp, c := newClient(t, false)
	assert.Equal(t, idp.TokenURL(), c.Endpoint().TokenURL)
	assert.Equal(t, idp.Issuer()+"/protocol/openid-connect/auth", c.Endpoint().AuthURL)
}

func TestConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	_, err := oidc.New(ctx, nil)
	assert.True(t, errors.IsConfiguration(err))

	_, err = oidc.New(ctx, &oidc.Config{Issuer: "https://idp.example.com"})
	assert.True(t, errors.IsConfiguration(err), "client id and secret are required")

	_, err = oidc.New(ctx, &oidc.Config{Issuer: "http://127.0.0.1:1/realms/x", ClientID: "a", ClientSecret: "b", Discovery: true, Timeout: time.Second})
	assert.True(t, errors.IsConfiguration(err), "unreachable discovery")
}

func TestEndSession(t *testing.T) {
	idp, c := newClient(t, false)
	_, refresh := idp.Pair("user-1")

	require.NoError(t, c.EndSession(context.Background(), refresh))
	assert.Equal(t, 1, idp.EndSessionCalls())

	_, err := c.Refresh(context.Background(), refresh)
	assert.True(t, errors.IsRefreshDeclined(err), "ended sessions cannot refresh")
}

func TestExchange(t *testing.T) {
	idp, c := newClient(t, true)

	authURL, err := url.Parse(c.OAuth2Config().AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, oidctest.ClientID, authURL.Query().Get("client_id"))

	login, err := c.Exchange(context.Background(), idp.IssueCode("ada"))
	require.NoError(t, err)
	assert.Equal(t, "ada", login.Identity.Subject)
	assert.Equal(t, "ada@example.com", login.Identity.Email)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, "ss-ada", login.SessionState)

	_, err = c.Exchange(context.Background(), "unknown-code")
	assert.True(t, errors.IsUnauthorized(err))
}
