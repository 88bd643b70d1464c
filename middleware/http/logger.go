package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/sessionkeeper/log"
)

type LoggerConfig struct {
	RequestBody  bool
	ResponseBody bool
	Header       bool
	HandlerName  bool
	SkipPaths    []string
	SkipFunc     func(*gin.Context) bool
	// Logger should mask credentials, see log.WithDesensitize.
	Logger *log.Logger
}

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Logger logs one line per request with the verified session's state.
func Logger(cfgs ...LoggerConfig) gin.HandlerFunc {
	cfg := LoggerConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	logger := componentLogger(cfg.Logger, "access")
	matcher := NewPathMatcher(cfg.SkipPaths)

	return func(c *gin.Context) {
		if shouldSkip(c, matcher, cfg.SkipFunc) {
			c.Next()
			return
		}

		start := time.Now()

		var requestBody []byte
		if cfg.RequestBody {
			if body, err := c.GetRawData(); err == nil {
				requestBody = body
				c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
			}
		}

		var rw *responseWriter
		if cfg.ResponseBody {
			rw = &responseWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
			c.Writer = rw
		}

		c.Next()

		event := logger.Info().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if res, ok := SessionFrom(c.Request.Context()); ok {
			event = event.Str("state", res.State.String())
			if res.Session != nil {
				event = event.Str("session_id", res.Session.ID)
			}
		}
		if query := c.Request.URL.RawQuery; query != "" {
			event = event.Str("query", query)
		}
		if requestID := c.Request.Header.Get("X-Request-Id"); requestID != "" {
			event = event.Str("request_id", requestID)
		}
		if cfg.HandlerName {
			event = event.Str("handler", c.HandlerName())
		}
		if cfg.Header {
			event = event.Any("headers", c.Request.Header)
		}
		if len(requestBody) > 0 {
			event = event.Bytes("request_body", requestBody)
		}
		if rw != nil {
			event = event.Bytes("response_body", rw.body.Bytes())
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		}

		event.Send()
	}
}
