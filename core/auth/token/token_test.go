package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/errors"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixture(t *testing.T) (*clockwork.FakeClock, *Generator, *Inspector) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	gen, err := NewGenerator(&GeneratorConfig{Secret: "0123456789abcdef", Issuer: "https://idp.test"}, clock)
	require.NoError(t, err)
	return clock, gen, NewInspector(WithClock(clock))
}

func TestExpiryThreshold(t *testing.T) {
	_, gen, insp := fixture(t)

	soon, err := gen.Generate(Claims{}, 29*time.Second)
	require.NoError(t, err)
	later, err := gen.Generate(Claims{}, 31*time.Second)
	require.NoError(t, err)

	assert.True(t, insp.IsExpired(soon, 30*time.Second))
	assert.False(t, insp.IsExpired(later, 30*time.Second))
	assert.True(t, insp.IsAccessTokenExpired(soon))
	assert.False(t, insp.IsAccessTokenExpired(later))
	assert.True(t, insp.IsRefreshTokenExpired(later), "refresh threshold is 60s")
}

func TestExactlyAtThresholdIsExpired(t *testing.T) {
	_, gen, insp := fixture(t)
	tok, err := gen.Generate(Claims{}, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, insp.IsExpired(tok, 30*time.Second))
}

func TestExpiryFollowsClock(t *testing.T) {
	clock, gen, insp := fixture(t)
	tok, err := gen.Generate(Claims{}, 5*time.Minute)
	require.NoError(t, err)

	assert.False(t, insp.IsAccessTokenExpired(tok))
	clock.Advance(4*time.Minute + 31*time.Second)
	assert.True(t, insp.IsAccessTokenExpired(tok))
}

func TestFailClosedDecoding(t *testing.T) {
	_, _, insp := fixture(t)

	for _, raw := range []string{
		"",
		"not-a-token",
		"a.b.c",
		"eyJhbGciOiJIUzI1NiJ9.not-base64!.sig",
		"eyJhbGciOiJIUzI1NiJ9.eyJleHAiOiJzb29uIn0.sig",
	} {
		assert.True(t, insp.IsExpired(raw, 0), raw)
		_, err := insp.Decode(raw)
		assert.True(t, errors.IsDecode(err), raw)
	}
}

func TestMissingExpIsDecodeError(t *testing.T) {
	_, _, insp := fixture(t)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = insp.Decode(raw)
	assert.True(t, errors.IsDecode(err))
	assert.True(t, insp.IsAccessTokenExpired(raw))
}

func TestExpRoundTrip(t *testing.T) {
	_, gen, insp := fixture(t)
	exp := epoch.Add(17 * time.Minute).Unix()

	raw, err := gen.Generate(Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0))},
	}, 0)
	require.NoError(t, err)

	got, err := insp.ExpiresAt(raw)
	require.NoError(t, err)
	assert.Equal(t, exp, got.Unix())
}

func TestGeneratorClaims(t *testing.T) {
	_, gen, insp := fixture(t)
	raw, err := gen.Generate(Claims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: "user-1"},
		SessionState:      "ss-1",
		PreferredUsername: "ada",
	}, time.Hour)
	require.NoError(t, err)

	claims, err := insp.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ss-1", claims.SessionState)
	assert.Equal(t, "https://idp.test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)

	verified, err := gen.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ada", verified.PreferredUsername)
}

func TestGeneratorConfigValidation(t *testing.T) {
	_, err := NewGenerator(&GeneratorConfig{Secret: "short"}, nil)
	assert.Error(t, err)

	_, err = NewGenerator(&GeneratorConfig{Secret: "0123456789abcdef", SigningMethod: "RS256"}, nil)
	assert.Error(t, err)
}
