// Package middleware guards routes with the session verifier.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/session"

	xhttp "github.com/kochabx/sessionkeeper/core/net/http"
)

const DefaultCookieName = "sid"

// Verifier is the part of *session.Verifier the gate needs.
type Verifier interface {
	Verify(ctx context.Context, id string) (session.Result, error)
}

// SessionIDFunc extracts the session ID from a request.
type SessionIDFunc func(c *gin.Context) (string, bool)

// CookieSessionID reads the session ID from the named cookie.
func CookieSessionID(name string) SessionIDFunc {
	return func(c *gin.Context) (string, bool) {
		id, err := c.Cookie(name)
		if err != nil || id == "" {
			return "", false
		}
		return id, true
	}
}

type GateConfig struct {
	// ProtectedPaths and PublicPaths use PathMatcher syntax. Public wins
	// when a path matches both; paths matching neither pass through.
	ProtectedPaths []string
	PublicPaths    []string
	LoginPath      string `default:"/auth/login"`
	SessionID      SessionIDFunc
	Verifier       Verifier
	Logger         *log.Logger
}

type resultKey struct{}

// SessionFrom returns the verification result the gate stored on ctx.
func SessionFrom(ctx context.Context) (session.Result, bool) {
	res, ok := ctx.Value(resultKey{}).(session.Result)
	return res, ok
}

// WithResult stores res on ctx as the gate does.
func WithResult(ctx context.Context, res session.Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// AccessGate verifies the session of every protected request. Unauthenticated
// requests and verification failures are redirected to the login page.
func AccessGate(cfg GateConfig) gin.HandlerFunc {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		panic(err)
	}
	if cfg.Verifier == nil {
		panic("middleware: AccessGate requires a Verifier")
	}
	if cfg.SessionID == nil {
		cfg.SessionID = CookieSessionID(DefaultCookieName)
	}

	logger := componentLogger(cfg.Logger, "gate")
	protected := NewPathMatcher(cfg.ProtectedPaths)
	public := NewPathMatcher(cfg.PublicPaths)

	return func(c *gin.Context) {
		ctx := session.WithMemo(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		p := c.Request.URL.Path
		if public.Match(p) || !protected.Match(p) {
			c.Next()
			return
		}

		id, _ := cfg.SessionID(c)
		res, err := safeVerify(ctx, cfg.Verifier, id)
		if err != nil {
			logger.Error().Err(err).Str("path", p).Msg("session verification failed")
			redirectToLogin(c, cfg.LoginPath, session.TagNone)
			return
		}
		if !res.IsAuthenticated() {
			logger.Debug().Str("path", p).Str("error", string(res.Error)).Msg("unauthenticated request")
			redirectToLogin(c, cfg.LoginPath, res.Error)
			return
		}

		c.Request = c.Request.WithContext(WithResult(ctx, res))
		c.Next()
	}
}

func safeVerify(ctx context.Context, v Verifier, id string) (res session.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Internal("verify panicked: %v", r)
		}
	}()
	return v.Verify(ctx, id)
}

// LoginURL builds loginPath?next=<next>[&error=<tag>].
func LoginURL(loginPath, next string, tag session.ErrorTag) string {
	b, err := xhttp.FromURL(loginPath)
	if err != nil {
		return loginPath
	}
	return b.SetQuery("next", next).SetQuery("error", string(tag)).String()
}

func redirectToLogin(c *gin.Context, loginPath string, tag session.ErrorTag) {
	c.Redirect(http.StatusFound, LoginURL(loginPath, c.Request.URL.Path, tag))
	c.Abort()
}

func componentLogger(l *log.Logger, name string) zerolog.Logger {
	if l == nil {
		l = log.G
	}
	return l.Component(name)
}
