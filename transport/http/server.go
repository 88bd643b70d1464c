// Package http serves the BFF over HTTP and writes its JSON envelopes.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/transport"
)

var _ transport.Server = (*Server)(nil)

const (
	defaultName = "http"
	defaultAddr = ":8080"

	healthTimeout = 3 * time.Second
)

// Meta is the metadata of the server.
type Meta struct {
	Name string
}

type Server struct {
	meta    Meta
	options Options
	server  *http.Server
	logger  zerolog.Logger
}

type Option func(*Server)

func WithMeta(meta Meta) Option {
	return func(s *Server) {
		s.meta = meta
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l.Component("http") }
}

// WithMetricsOptions mounts promhttp for m.Registry on gin handlers.
func WithMetricsOptions(m MetricsOption) Option {
	return func(s *Server) {
		s.options.Metrics = m
	}
}

func WithHealthOptions(h HealthOption) Option {
	return func(s *Server) {
		s.options.Health = h
	}
}

// WithHealthCheck adds a named dependency check to the health endpoint.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if s.options.Health.Checks == nil {
			s.options.Health.Checks = make(map[string]HealthCheck)
		}
		s.options.Health.Checks[name] = check
	}
}

func NewServer(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		meta:   Meta{Name: defaultName},
		logger: log.G.Component("http"),
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	if err := tag.ApplyDefaults(&s.options); err != nil {
		s.logger.Error().Err(err).Msg("apply server defaults")
	}

	additionalHandlers(s)

	return s
}

func (s *Server) Run() error {
	if ok := transport.ValidateAddress(s.server.Addr); !ok {
		s.logger.Warn().Str("addr", s.server.Addr).Str("default", defaultAddr).Msg("invalid address, using default")
		s.server.Addr = defaultAddr
	}
	s.logger.Info().Str("name", s.meta.Name).Str("addr", s.server.Addr).Msg("server listening")

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, including the additional endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func additionalHandlers(s *Server) {
	if r, ok := s.server.Handler.(*gin.Engine); ok {
		handleMetrics(s, r)
		handleHealth(s, r)
	}
}

func handleMetrics(s *Server, r *gin.Engine) {
	m := s.options.Metrics
	if !m.Enabled || m.Registry == nil {
		return
	}
	r.GET(m.Path, gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))
}

func handleHealth(s *Server, r *gin.Engine) {
	h := s.options.Health
	if !h.Enabled {
		return
	}
	r.GET(h.Path, func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		failed := make(map[string]string)
		for name, check := range h.Checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			s.logger.Warn().Interface("checks", failed).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
