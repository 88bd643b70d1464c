package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/config"
	"github.com/kochabx/sessionkeeper/core/auth/oidc/oidctest"
	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/log"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSettings(t *testing.T, idp *oidctest.Provider) *config.Settings {
	t.Helper()
	s := new(config.Settings)
	require.NoError(t, tag.ApplyDefaults(s))
	s.Provider = *idp.Config(false)
	s.Server.Addr = "127.0.0.1:0"
	s.Metrics.Enabled = true
	return s
}

func TestBuildRoutes(t *testing.T) {
	idp := oidctest.New(t)
	rt, err := build(context.Background(), testSettings(t, idp), log.NewWriter(io.Discard), idp.HTTPClient())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.manager.Shutdown(context.Background()) })

	tests := []struct {
		method, path string
		status       int
		location     string
	}{
		{http.MethodGet, "/health", http.StatusOK, ""},
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodGet, "/app/session", http.StatusFound, "/auth/login"},
		{http.MethodGet, "/auth/login", http.StatusFound, idp.Issuer()},
		{http.MethodGet, "/session/status", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rt.server.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.location != "" {
				assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), tt.location), rec.Header().Get("Location"))
			}
		})
	}
}

func TestBuildRejectsBadProvider(t *testing.T) {
	idp := oidctest.New(t)
	s := testSettings(t, idp)
	s.Provider.ClientSecret = ""

	_, err := build(context.Background(), s, log.NewWriter(io.Discard), idp.HTTPClient())
	require.Error(t, err)
}

func TestApplicationStops(t *testing.T) {
	idp := oidctest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	rt, err := build(ctx, testSettings(t, idp), log.NewWriter(io.Discard), idp.HTTPClient())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.app.Start() }()
	assert.Eventually(t, func() bool { return rt.app.Info().Started }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.Zero(t, rt.manager.Len())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "sessionkeeper dev\n", out.String())
}
