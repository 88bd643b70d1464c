package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/sessionkeeper/log"
)

type RecoveryConfig struct {
	StackTrace bool
	Logger     *log.Logger
}

// Recovery turns a handler panic into a 500. Broken connections are logged
// at warn level without a response.
func Recovery(cfgs ...RecoveryConfig) gin.HandlerFunc {
	cfg := RecoveryConfig{StackTrace: true}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	logger := componentLogger(cfg.Logger, "recovery")

	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if isBrokenPipe(r) {
				logger.Warn().Str("error", fmt.Sprint(r)).Str("path", c.Request.URL.Path).Msg("broken pipe")
				_ = c.Error(fmt.Errorf("%v", r))
				c.Abort()
				return
			}

			event := logger.Error().
				Str("error", fmt.Sprint(r)).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path)
			if cfg.StackTrace {
				event = event.Bytes("stack", debug.Stack())
			}
			event.Msg("panic recovered")
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}

func isBrokenPipe(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var se *os.SyscallError
	var ne *net.OpError
	if !errors.As(err, &ne) || !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
