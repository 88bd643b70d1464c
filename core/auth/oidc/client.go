package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/oauth2"

	"github.com/kochabx/sessionkeeper/core/auth/token"
	xhttp "github.com/kochabx/sessionkeeper/core/net/http"
	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/core/validator"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log"
)

// Decline stages, attached as metadata to errors.ErrRefreshDeclined.
const (
	StageExpired   = "expired"
	StageTransport = "transport"
	StageStatus    = "status"
	StageSchema    = "schema"
)

// RefreshResult is a validated refresh grant reply.
type RefreshResult struct {
	AccessToken      string  `json:"access_token"`
	RefreshToken     string  `json:"refresh_token"`
	ExpiresIn        float64 `json:"expires_in"`
	RefreshExpiresIn float64 `json:"refresh_expires_in"`
	TokenType        string  `json:"token_type"`
	SessionState     string  `json:"session_state"`
}

// Client is the relying party side of the identity provider.
type Client struct {
	config     *Config
	inspector  *token.Inspector
	httpClient *http.Client
	requests   *xhttp.Client
	logger     zerolog.Logger

	endpoint   oauth2.Endpoint
	endSession string
	verifier   *gooidc.IDTokenVerifier
}

type Option func(*Client)

func WithInspector(i *token.Inspector) Option {
	return func(c *Client) { c.inspector = i }
}

// WithHTTPClient sets the client used for discovery, JWKS and token calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.Component("oidc") }
}

// New validates cfg and resolves the provider endpoints. Any failure is an
// errors.ErrConfiguration.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.ErrConfiguration.WithMessage("identity provider config is missing")
	}
	if err := tag.ApplyDefaults(cfg); err != nil {
		return nil, errors.ErrConfiguration.WithCause(err)
	}
	if err := validator.Validate.Struct(cfg); err != nil {
		return nil, errors.ErrConfiguration.WithMessage("identity provider: %v", err).WithCause(err)
	}

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     log.G.Component("oidc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inspector == nil {
		c.inspector = token.NewInspector()
	}
	c.requests = xhttp.New(xhttp.WithDoer(c.httpClient), xhttp.WithTimeout(cfg.Timeout))

	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) resolve(ctx context.Context) error {
	cfg := c.config
	ctx = gooidc.ClientContext(ctx, c.httpClient)
	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	oidcConfig := &gooidc.Config{ClientID: cfg.ClientID, Now: c.inspector.Clock().Now}

	if cfg.Discovery {
		provider, err := gooidc.NewProvider(ctx, issuer)
		if err != nil {
			return errors.ErrConfiguration.WithMessage("oidc discovery for %s", issuer).WithCause(err)
		}
		var extra struct {
			EndSession string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&extra); err != nil {
			return errors.ErrConfiguration.WithMessage("oidc discovery document").WithCause(err)
		}
		c.endpoint = provider.Endpoint()
		c.endSession = extra.EndSession
		c.verifier = provider.Verifier(oidcConfig)
	} else {
		base := issuer + "/protocol/openid-connect"
		c.endpoint = oauth2.Endpoint{
			AuthURL:  xhttp.Join(base, "auth"),
			TokenURL: xhttp.Join(base, "token"),
		}
		c.endSession = xhttp.Join(base, "logout")
		jwks := xhttp.Join(base, "certs")
		if cfg.JWKSEndpoint != "" {
			jwks = cfg.JWKSEndpoint
		}
		c.verifier = gooidc.NewVerifier(issuer, gooidc.NewRemoteKeySet(ctx, jwks), oidcConfig)
	}

	if cfg.AuthEndpoint != "" {
		c.endpoint.AuthURL = cfg.AuthEndpoint
	}
	if cfg.TokenEndpoint != "" {
		c.endpoint.TokenURL = cfg.TokenEndpoint
	}
	if cfg.EndSessionEndpoint != "" {
		c.endSession = cfg.EndSessionEndpoint
	}
	if c.endpoint.TokenURL == "" {
		return errors.ErrConfiguration.WithMessage("identity provider has no token endpoint")
	}
	return nil
}

// Endpoint returns the resolved authorization and token endpoints.
func (c *Client) Endpoint() oauth2.Endpoint {
	return c.endpoint
}

func (c *Client) EndSessionEndpoint() string {
	return c.endSession
}

// Refresh exchanges refreshToken for a new token pair. Every failure is
// errors.ErrRefreshDeclined carrying the stage in its metadata and the
// underlying cause; a nil result always comes with a non-nil error.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if c.inspector.IsRefreshTokenExpired(refreshToken) {
		return nil, c.decline(StageExpired, nil)
	}

	form := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	resp, err := c.requests.PostForm(ctx, c.endpoint.TokenURL, form)
	if err != nil {
		return nil, c.decline(StageTransport, err)
	}
	if err := resp.Expect(); err != nil {
		return nil, c.decline(StageStatus, err)
	}

	result, err := refreshResponseSchema.Validate(gojsonschema.NewBytesLoader(resp.Body))
	if err != nil {
		return nil, c.decline(StageSchema, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, c.decline(StageSchema, errors.BadGateway("%s", strings.Join(msgs, "; ")))
	}

	var out RefreshResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, c.decline(StageSchema, err)
	}
	return &out, nil
}

func (c *Client) decline(stage string, cause error) error {
	c.logger.Warn().Str("stage", stage).AnErr("cause", cause).Msg("refresh declined")
	return errors.ErrRefreshDeclined.
		WithMessage("refresh declined at %s", stage).
		WithMetadata(map[string]string{"stage": stage}).
		WithCause(cause)
}

// DeclineStage returns the stage of a refresh decline, or "".
func DeclineStage(err error) string {
	if ge := errors.FromError(err); ge != nil && errors.IsRefreshDeclined(err) {
		return ge.GetMetadata()["stage"]
	}
	return ""
}

// EndSession asks the provider to end the SSO session bound to refreshToken.
// It is best effort: callers log the error and carry on.
func (c *Client) EndSession(ctx context.Context, refreshToken string) error {
	if c.endSession == "" || refreshToken == "" {
		return nil
	}
	form := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
	}
	resp, err := c.requests.PostForm(ctx, c.endSession, form)
	if err == nil {
		err = resp.Expect()
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("end session failed")
		return errors.BadGateway("end session").WithCause(err)
	}
	return nil
}

// OAuth2Config returns the authorization code flow settings for the login
// redirect.
func (c *Client) OAuth2Config() *oauth2.Config {
	scopes := c.config.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID}
	}
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  c.config.RedirectURL,
		Scopes:       scopes,
	}
}

// Identity is the verified subject of a login.
type Identity struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
}

// LoginResult is the outcome of a completed authorization code flow.
type LoginResult struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	SessionState string
	Expiry       time.Time
}

// Exchange redeems an authorization code and verifies the returned ID token.
func (c *Client) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*LoginResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	tok, err := c.OAuth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		return nil, errors.ErrUnauthorized.WithMessage("code exchange failed").WithCause(err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.ErrUnauthorized.WithMessage("token response has no id_token")
	}
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.ErrUnauthorized.WithMessage("id token verification failed").WithCause(err)
	}

	var ident Identity
	if err := idToken.Claims(&ident); err != nil {
		return nil, errors.ErrUnauthorized.WithMessage("id token claims").WithCause(err)
	}
	state, _ := tok.Extra("session_state").(string)

	return &LoginResult{
		Identity:     ident,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		SessionState: state,
		Expiry:       tok.Expiry,
	}, nil
}
