package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/log/desensitize"
)

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, WithLevel(zerolog.InfoLevel), WithField("app", "test"))

	l.Debug().Msg("dropped")
	l.Info().Err(errors.ErrSessionExpired).Msg("logout")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"app":"test"`)
	assert.Contains(t, out, "reason=SessionExpired")
}

func TestDesensitizedLogger(t *testing.T) {
	var buf bytes.Buffer
	hook := desensitize.NewHook(desensitize.BuiltinRules()...)
	l := NewWriter(&buf, WithDesensitize(hook), WithField("app", "test"))

	l.Info().Str("access_token", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.").Msg("refreshed")

	out := buf.String()
	assert.Contains(t, out, `"access_token":"******"`)
	assert.Contains(t, out, `"app":"test"`, "options survive the rebuild")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	c := NewWriter(&buf).Component("keepalive")
	c.Info().Msg("tick")
	assert.Contains(t, buf.String(), `"component":"keepalive"`)
}

func TestNewFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFromConfig(Config{
		Output: "file",
		File:   FileConfig{Dir: dir, Name: "test"},
	})
	require.NoError(t, err)

	l.Info().Str("refresh_token", "r-1").Msg("file log")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file log")
	assert.NotContains(t, string(data), "r-1")
}

func TestNewFromConfigInvalidLevel(t *testing.T) {
	_, err := NewFromConfig(Config{Level: "loud"})
	assert.Error(t, err)
}
