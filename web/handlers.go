// Package web serves the backend-for-frontend routes: login, logout and the
// session endpoints the browser polls.
package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kochabx/sessionkeeper/activity"
	"github.com/kochabx/sessionkeeper/cache"
	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/rate"
	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/engine"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/keepalive"
	"github.com/kochabx/sessionkeeper/log"
	middleware "github.com/kochabx/sessionkeeper/middleware/http"
	"github.com/kochabx/sessionkeeper/session"
	thttp "github.com/kochabx/sessionkeeper/transport/http"
)

// Authenticator runs the authorization code flow. *oidc.Client implements it.
type Authenticator interface {
	OAuth2Config() *oauth2.Config
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oidc.LoginResult, error)
}

type Handlers struct {
	verifier   *session.Verifier
	auth       Authenticator
	manager    *engine.Manager
	categories *cache.Categories
	loader     CategoryLoader
	limiter    rate.Limiter
	cookie     CookieConfig
	clock      clockwork.Clock
	logger     zerolog.Logger
}

type Option func(*Handlers)

func WithCookie(c CookieConfig) Option {
	return func(h *Handlers) { h.cookie = c }
}

func WithCategories(store *cache.Categories, loader CategoryLoader) Option {
	return func(h *Handlers) {
		h.categories = store
		h.loader = loader
	}
}

// WithActivityLimiter bounds how often a session may report activity.
func WithActivityLimiter(l rate.Limiter) Option {
	return func(h *Handlers) { h.limiter = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(h *Handlers) { h.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(h *Handlers) { h.logger = l.Component("web") }
}

func New(v *session.Verifier, auth Authenticator, m *engine.Manager, opts ...Option) (*Handlers, error) {
	h := &Handlers{
		verifier:   v,
		auth:       auth,
		manager:    m,
		categories: cache.NewCategories(),
		loader:     StaticCategories{},
		clock:      clockwork.NewRealClock(),
		logger:     log.G.Component("web"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := tag.ApplyDefaults(&h.cookie); err != nil {
		return nil, errors.ErrConfiguration.WithCause(err)
	}
	// Cached categories belong to the user and go with the session.
	v.AddInvalidator(h.categories)
	if f, ok := h.limiter.(interface{ Forget(string) }); ok {
		v.AddInvalidator(session.InvalidatorFunc(func(_ context.Context, s *session.Session) {
			f.Forget(s.ID)
		}))
	}
	return h, nil
}

// SessionID reads the session cookie.
func (h *Handlers) SessionID(c *gin.Context) (string, bool) {
	return middleware.CookieSessionID(h.cookie.Name)(c)
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	auth := r.Group("/auth")
	auth.GET("/login", h.Login)
	auth.GET("/callback", h.Callback)
	auth.POST("/logout", h.Logout)

	s := r.Group("/session")
	s.POST("/activity", h.Activity)
	s.GET("/status", h.Status)
	s.GET("/notifications", h.Notifications)

	app := r.Group("/app")
	app.GET("/session", h.AppSession)
	app.GET("/categories", h.AppCategories)
}

// Login redirects to the identity provider. The state and the page to
// return to are kept in short-lived cookies.
func (h *Handlers) Login(c *gin.Context) {
	state := uuid.NewString()
	http.SetCookie(c.Writer, h.cookie.cookie(stateCookie, state, h.cookie.StateTTL))
	if next := c.Query("next"); isLocalPath(next) {
		http.SetCookie(c.Writer, h.cookie.cookie(nextCookie, next, h.cookie.StateTTL))
	}
	c.Redirect(http.StatusFound, h.auth.OAuth2Config().AuthCodeURL(state))
}

// Callback completes the login: it redeems the code, stores the session and
// starts its keep-alive.
func (h *Handlers) Callback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		thttp.GinJSONE(c, http.StatusBadRequest, errors.BadRequest("login state mismatch"))
		return
	}
	http.SetCookie(c.Writer, h.cookie.expired(stateCookie))

	if e := c.Query("error"); e != "" {
		thttp.GinJSONE(c, http.StatusUnauthorized, errors.ErrUnauthorized.WithMessage("login failed: %s", e))
		return
	}

	ctx := c.Request.Context()
	res, err := h.auth.Exchange(ctx, c.Query("code"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("login exchange failed")
		thttp.GinError(c, err)
		return
	}

	now := h.clock.Now()
	s := &session.Session{
		ID:           uuid.NewString(),
		UserID:       res.Identity.Subject,
		Username:     res.Identity.PreferredUsername,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionState: res.SessionState,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.verifier.Store().Save(ctx, s); err != nil {
		h.logger.Error().Err(err).Msg("save session")
		thttp.GinError(c, err)
		return
	}
	if _, err := h.manager.Open(ctx, s.ID); err != nil {
		h.logger.Error().Err(err).Str("session_id", s.ID).Msg("open session context")
		thttp.GinError(c, err)
		return
	}

	http.SetCookie(c.Writer, h.cookie.cookie(h.cookie.Name, s.ID, h.cookie.MaxAge))
	next := "/"
	if v, err := c.Cookie(nextCookie); err == nil && isLocalPath(v) {
		next = v
		http.SetCookie(c.Writer, h.cookie.expired(nextCookie))
	}
	h.logger.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("user logged in")
	c.Redirect(http.StatusFound, next)
}

func (h *Handlers) Logout(c *gin.Context) {
	if id, ok := h.SessionID(c); ok {
		if err := h.verifier.Logout(c.Request.Context(), id); err != nil {
			h.logger.Error().Err(err).Str("session_id", id).Msg("logout")
		}
	}
	http.SetCookie(c.Writer, h.cookie.expired(h.cookie.Name))
	thttp.GinJSON(c, nil)
}

type activityRequest struct {
	Signal string `json:"signal" binding:"required"`
}

// Activity records a browser interaction on the session's tracker.
func (h *Handlers) Activity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		thttp.GinJSONE(c, http.StatusBadRequest, errors.BadRequest("invalid activity payload"))
		return
	}
	sig, err := activity.ParseSignal(req.Signal)
	if err != nil {
		thttp.GinJSONE(c, http.StatusBadRequest, errors.BadRequest("%v", err))
		return
	}

	id, ok := h.SessionID(c)
	if !ok {
		thttp.GinError(c, errors.ErrUnauthorized)
		return
	}
	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.Request.Context(), id)
		if err != nil {
			h.logger.Warn().Err(err).Str("session_id", id).Msg("activity rate limiter")
		} else if !allowed {
			thttp.GinJSONE(c, http.StatusTooManyRequests, errors.New(http.StatusTooManyRequests, "too many activity reports"))
			return
		}
	}

	sc, err := h.sessionContext(c, id)
	if err != nil {
		thttp.GinError(c, err)
		return
	}
	sc.Touch(sig)
	thttp.GinJSON(c, nil)
}

type statusResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Error           string `json:"error,omitempty"`
}

func (h *Handlers) Status(c *gin.Context) {
	id, _ := h.SessionID(c)
	res, err := h.verifier.Verify(c.Request.Context(), id)
	if err != nil {
		thttp.GinError(c, err)
		return
	}
	thttp.GinJSON(c, statusResponse{IsAuthenticated: res.IsAuthenticated(), Error: string(res.Error)})
}

// Notifications drains the keep-alive notifications of the session.
func (h *Handlers) Notifications(c *gin.Context) {
	id, ok := h.SessionID(c)
	if !ok {
		thttp.GinError(c, errors.ErrUnauthorized)
		return
	}
	sc, ok := h.manager.Get(id)
	if !ok {
		thttp.GinJSON(c, []keepalive.Notification{})
		return
	}
	notes := sc.Notifications()
	if notes == nil {
		notes = []keepalive.Notification{}
	}
	thttp.GinJSON(c, notes)
}

type identityResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	State    string `json:"state"`
}

// AppSession returns the identity verified by the access gate.
func (h *Handlers) AppSession(c *gin.Context) {
	res, ok := middleware.SessionFrom(c.Request.Context())
	if !ok || res.Session == nil {
		thttp.GinError(c, errors.ErrUnauthorized)
		return
	}
	thttp.GinJSON(c, identityResponse{
		UserID:   res.Session.UserID,
		Username: res.Session.Username,
		State:    res.State.String(),
	})
}

// AppCategories serves the user's categories from the cache, loading them
// from the domain backend on a miss. Auth failures are left to the error
// boundary.
func (h *Handlers) AppCategories(c *gin.Context) {
	res, ok := middleware.SessionFrom(c.Request.Context())
	if !ok || res.Session == nil {
		_ = c.Error(errors.ErrUnauthorized)
		return
	}

	if items, ok := h.categories.Get(res.Session.UserID); ok {
		thttp.GinJSON(c, items)
		return
	}

	items, err := h.loader.LoadCategories(c.Request.Context(), res.Session.ID)
	if err != nil {
		if errors.IsAuthFailure(err) {
			_ = c.Error(err)
			return
		}
		h.logger.Warn().Err(err).Msg("load categories")
		thttp.GinError(c, err)
		return
	}
	h.categories.Set(res.Session.UserID, items)
	thttp.GinJSON(c, items)
}

// sessionContext returns the open context of the request's session, opening
// one after a restart.
func (h *Handlers) sessionContext(c *gin.Context, id string) (*engine.SessionContext, error) {
	if sc, ok := h.manager.Get(id); ok {
		return sc, nil
	}
	return h.manager.Open(c.Request.Context(), id)
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
