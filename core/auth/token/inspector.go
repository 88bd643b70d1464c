package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/kochabx/sessionkeeper/errors"
)

const (
	DefaultAccessThreshold  = 30 * time.Second
	DefaultRefreshThreshold = 60 * time.Second
)

// Inspector reads token expiry without verifying signatures. Verification is
// the resource server's job; the inspector only decides when to refresh.
type Inspector struct {
	clock            clockwork.Clock
	parser           *jwt.Parser
	accessThreshold  time.Duration
	refreshThreshold time.Duration
}

type InspectorOption func(*Inspector)

func WithClock(c clockwork.Clock) InspectorOption {
	return func(i *Inspector) { i.clock = c }
}

func WithAccessThreshold(d time.Duration) InspectorOption {
	return func(i *Inspector) { i.accessThreshold = d }
}

func WithRefreshThreshold(d time.Duration) InspectorOption {
	return func(i *Inspector) { i.refreshThreshold = d }
}

func NewInspector(opts ...InspectorOption) *Inspector {
	i := &Inspector{
		clock:            clockwork.NewRealClock(),
		parser:           jwt.NewParser(),
		accessThreshold:  DefaultAccessThreshold,
		refreshThreshold: DefaultRefreshThreshold,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Decode returns the unverified claims of a compact JWT. Malformed tokens and
// tokens without an exp claim are errors.ErrDecode.
func (i *Inspector) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := i.parser.ParseUnverified(raw, claims); err != nil {
		return nil, errors.ErrDecode.WithCause(err)
	}
	if claims.ExpiresAt == nil {
		return nil, errors.ErrDecode.WithMessage("token has no exp claim")
	}
	return claims, nil
}

func (i *Inspector) ExpiresAt(raw string) (time.Time, error) {
	claims, err := i.Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether raw expires within threshold from now. Tokens that
// cannot be decoded count as expired.
func (i *Inspector) IsExpired(raw string, threshold time.Duration) bool {
	exp, err := i.ExpiresAt(raw)
	if err != nil {
		return true
	}
	return !exp.After(i.clock.Now().Add(threshold))
}

func (i *Inspector) IsAccessTokenExpired(raw string) bool {
	return i.IsExpired(raw, i.accessThreshold)
}

func (i *Inspector) IsRefreshTokenExpired(raw string) bool {
	return i.IsExpired(raw, i.refreshThreshold)
}

func (i *Inspector) Clock() clockwork.Clock {
	return i.clock
}
