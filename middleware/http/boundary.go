package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/session"
)

// Terminator ends a session for a reason. *session.Verifier implements it.
type Terminator interface {
	ForceLogout(ctx context.Context, id string, reason string) error
}

type BoundaryConfig struct {
	LoginPath  string `default:"/auth/login"`
	CookieName string `default:"sid"`
	SessionID  SessionIDFunc
	Terminator Terminator
	Logger     *log.Logger
}

// ErrorBoundary ends the session when a handler reports an authentication
// failure through c.Error, e.g. a domain API rejecting the access token.
// The request is redirected to the login page unless the handler already
// wrote a response.
func ErrorBoundary(cfg BoundaryConfig) gin.HandlerFunc {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		panic(err)
	}
	if cfg.Terminator == nil {
		panic("middleware: ErrorBoundary requires a Terminator")
	}
	if cfg.SessionID == nil {
		cfg.SessionID = CookieSessionID(cfg.CookieName)
	}
	logger := componentLogger(cfg.Logger, "boundary")

	return func(c *gin.Context) {
		c.Next()

		var authErr error
		for _, e := range c.Errors {
			if errors.IsAuthFailure(e.Err) {
				authErr = e.Err
				break
			}
		}
		if authErr == nil {
			return
		}

		if id, ok := cfg.SessionID(c); ok {
			if err := cfg.Terminator.ForceLogout(c.Request.Context(), id, session.ReasonDomainRejected); err != nil {
				logger.Error().Err(err).Msg("end session after auth failure")
			}
		}
		c.SetCookie(cfg.CookieName, "", -1, "/", "", false, true)
		logger.Info().Err(authErr).Str("path", c.Request.URL.Path).Msg("session ended by handler error")

		if c.Writer.Written() {
			return
		}
		c.Redirect(http.StatusFound, LoginURL(cfg.LoginPath, c.Request.URL.Path, session.TagSessionExpired))
	}
}
