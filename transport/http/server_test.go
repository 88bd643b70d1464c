package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kochabx/sessionkeeper/metrics"
)

func TestServerAdditionalHandlers(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.New(reg).Verify("valid")

	s := NewServer(":0", gin.New(),
		WithMetricsOptions(MetricsOption{Enabled: true, Registry: reg}),
		WithHealthOptions(HealthOption{Enabled: true}),
	)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sessionkeeper_verify_total")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServerHealthCheckFailure(t *testing.T) {
	s := NewServer(":0", gin.New(),
		WithHealthOptions(HealthOption{Enabled: true, Path: "/healthz"}),
		WithHealthCheck("redis", func(context.Context) error { return stderrors.New("connection refused") }),
	)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestServerWithoutMetricsRegistry(t *testing.T) {
	s := NewServer(":0", gin.New())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", gin.New())
	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()

	assert.Eventually(t, func() bool {
		return s.Shutdown(context.Background()) == nil
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, <-errc, http.ErrServerClosed)
}
