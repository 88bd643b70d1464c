// Package oidctest runs a scriptable fake identity provider on httptest.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/auth/token"
)

const (
	ClientID     = "finance-web"
	ClientSecret = "finance-web-secret"

	realmPath = "/realms/finance"
	keyID     = "test-key"
)

// Provider is a fake Keycloak-style realm. Tokens are signed with HS256 for
// access/refresh and RS256 for ID tokens, all on the provider's clock.
type Provider struct {
	server *httptest.Server
	clock  clockwork.Clock
	gen    *token.Generator
	key    *rsa.PrivateKey

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	status       int
	body         string
	hold         chan struct{}
	codes        map[string]string
	revoked      map[string]bool
	refreshCalls int
	endCalls     int
	codeCalls    int
}

type Option func(*Provider)

func WithClock(c clockwork.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

// New starts the provider and stops it when t finishes.
func New(t testing.TB, opts ...Option) *Provider {
	t.Helper()

	p := &Provider{
		clock:      clockwork.NewRealClock(),
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 30 * time.Minute,
		codes:      make(map[string]string),
		revoked:    make(map[string]bool),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("oidctest: rsa key: %v", err)
	}
	p.key = key

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+realmPath+"/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("GET "+realmPath+"/protocol/openid-connect/certs", p.certs)
	mux.HandleFunc("GET "+realmPath+"/protocol/openid-connect/auth", p.authorize)
	mux.HandleFunc("POST "+realmPath+"/protocol/openid-connect/token", p.token)
	mux.HandleFunc("POST "+realmPath+"/protocol/openid-connect/logout", p.logout)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.Close)

	p.gen, err = token.NewGenerator(&token.GeneratorConfig{
		Secret: "oidctest-signing-secret",
		Issuer: p.Issuer(),
	}, p.clock)
	if err != nil {
		t.Fatalf("oidctest: generator: %v", err)
	}
	return p
}

// Close releases any held request and stops the server.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.server.Close()
	})
}

func (p *Provider) Issuer() string {
	return p.server.URL + realmPath
}

func (p *Provider) TokenURL() string {
	return p.Issuer() + "/protocol/openid-connect/token"
}

func (p *Provider) HTTPClient() *http.Client {
	return p.server.Client()
}

// Config returns a client registration for this provider.
func (p *Provider) Config(discovery bool) *oidc.Config {
	return &oidc.Config{
		Issuer:       p.Issuer(),
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  "http://app.test/auth/callback",
		Discovery:    discovery,
	}
}

// Mint signs a token for subject expiring ttl from the provider clock.
func (p *Provider) Mint(subject, typ string, ttl time.Duration) string {
	raw, err := p.gen.Generate(token.Claims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: subject},
		Type:              typ,
		SessionState:      "ss-" + subject,
		PreferredUsername: subject,
	}, ttl)
	if err != nil {
		panic(err)
	}
	return raw
}

// Pair mints a fresh access and refresh token for subject.
func (p *Provider) Pair(subject string) (access, refresh string) {
	return p.Mint(subject, "Bearer", p.AccessTTL), p.Mint(subject, "Refresh", p.RefreshTTL)
}

// FailWith makes the token endpoint reply with status and body until Reset.
func (p *Provider) FailWith(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status, p.body = status, body
}

// RespondWith makes the token endpoint reply 200 with body until Reset.
func (p *Provider) RespondWith(body string) {
	p.FailWith(http.StatusOK, body)
}

// Revoke makes refresh grants with raw fail with invalid_grant.
func (p *Provider) Revoke(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[raw] = true
}

func (p *Provider) Reset() {
	p.FailWith(0, "")
}

// Hold blocks refresh grants until the returned release func is called.
func (p *Provider) Hold() (release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.hold = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.hold == ch {
				p.hold = nil
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *Provider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *Provider) EndSessionCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endCalls
}

func (p *Provider) CodeExchanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeCalls
}

// IssueCode registers an authorization code that logs in subject.
func (p *Provider) IssueCode(subject string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	code := uuid.NewString()
	p.codes[code] = subject
	return code
}

func (p *Provider) discovery(w http.ResponseWriter, r *http.Request) {
	base := p.Issuer() + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *Provider) certs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     keyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}})
}

// authorize skips the login page and redirects straight back with a code.
func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || q.Get("client_id") != ClientID {
		http.Error(w, "invalid client", http.StatusBadRequest)
		return
	}
	subject := q.Get("login_hint")
	if subject == "" {
		subject = "user-1"
	}
	v := redirect.Query()
	v.Set("code", p.IssueCode(subject))
	v.Set("state", q.Get("state"))
	redirect.RawQuery = v.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) authenticated(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if uid, err := url.QueryUnescape(id); err == nil {
		id = uid
	}
	if usecret, err := url.QueryUnescape(secret); err == nil {
		secret = usecret
	}
	return id == ClientID && secret == ClientSecret
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !p.authenticated(r) {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		p.refreshGrant(w, r)
	case "authorization_code":
		p.codeGrant(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (p *Provider) refreshGrant(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.refreshCalls++
	status, body, hold := p.status, p.body, p.hold
	p.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-p.done:
			return
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	raw := r.PostForm.Get("refresh_token")
	p.mu.Lock()
	revoked := p.revoked[raw]
	p.mu.Unlock()

	claims, err := p.gen.Parse(raw)
	if err != nil || revoked || claims.Type != "Refresh" {
		writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	access, refresh := p.Pair(claims.Subject)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       access,
		"refresh_token":      refresh,
		"expires_in":         int(p.AccessTTL.Seconds()),
		"refresh_expires_in": int(p.RefreshTTL.Seconds()),
		"token_type":         "Bearer",
		"session_state":      claims.SessionState,
		"scope":              "openid profile email",
	})
}

func (p *Provider) codeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	p.mu.Lock()
	p.codeCalls++
	subject, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	now := p.clock.Now()
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                p.Issuer(),
		"sub":                subject,
		"aud":                ClientID,
		"iat":                now.Unix(),
		"exp":                now.Add(p.AccessTTL).Unix(),
		"preferred_username": subject,
		"email":              subject + "@example.com",
		"name":               subject,
	})
	idToken.Header["kid"] = keyID
	rawID, err := idToken.SignedString(p.key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	access, refresh := p.Pair(subject)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       access,
		"refresh_token":      refresh,
		"id_token":           rawID,
		"expires_in":         int(p.AccessTTL.Seconds()),
		"refresh_expires_in": int(p.RefreshTTL.Seconds()),
		"token_type":         "Bearer",
		"session_state":      "ss-" + subject,
	})
}

func (p *Provider) logout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !p.authenticated(r) {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	p.mu.Lock()
	p.endCalls++
	p.revoked[r.PostForm.Get("refresh_token")] = true
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
