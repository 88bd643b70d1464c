package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/core/validator"
)

// GeneratorConfig configures HMAC token minting.
type GeneratorConfig struct {
	Secret        string   `json:"secret" validate:"required,min=16"`
	SigningMethod string   `json:"signing_method" default:"HS256" validate:"oneof=HS256 HS384 HS512"`
	Issuer        string   `json:"issuer"`
	Audience      []string `json:"audience"`
}

func (c *GeneratorConfig) method() jwt.SigningMethod {
	switch c.SigningMethod {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// Generator mints signed tokens, for the fake identity provider and fixtures.
type Generator struct {
	config *GeneratorConfig
	clock  clockwork.Clock
}

func NewGenerator(cfg *GeneratorConfig, clock clockwork.Clock) (*Generator, error) {
	if err := tag.ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := validator.Validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("token generator config: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Generator{config: cfg, clock: clock}, nil
}

// Generate signs claims expiring ttl from now. A zero ttl keeps a preset
// ExpiresAt. The jti defaults to a random UUID.
func (g *Generator) Generate(claims Claims, ttl time.Duration) (string, error) {
	now := g.clock.Now()

	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if ttl != 0 || claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = g.config.Issuer
	}
	if len(claims.Audience) == 0 && len(g.config.Audience) > 0 {
		claims.Audience = g.config.Audience
	}

	return jwt.NewWithClaims(g.config.method(), claims).SignedString([]byte(g.config.Secret))
}

// Parse verifies the signature of raw and returns its claims.
func (g *Generator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != g.config.method() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(g.config.Secret), nil
	}, jwt.WithTimeFunc(g.clock.Now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
