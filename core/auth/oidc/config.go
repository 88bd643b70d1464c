// Package oidc talks to the OpenID Connect identity provider: the refresh
// grant, the authorization code login and RP-initiated logout.
package oidc

import (
	"time"
)

// Config holds the client registration. Without Discovery the endpoints default
// to the Keycloak layout under Issuer.
type Config struct {
	Issuer             string        `json:"issuer" mapstructure:"issuer" validate:"required,url"`
	ClientID           string        `json:"client_id" mapstructure:"client_id" validate:"required"`
	ClientSecret       string        `json:"-" mapstructure:"client_secret" validate:"required"`
	RedirectURL        string        `json:"redirect_url" mapstructure:"redirect_url" validate:"omitempty,url"`
	Scopes             []string      `json:"scopes" mapstructure:"scopes" default:"openid,profile,email"`
	Discovery          bool          `json:"discovery" mapstructure:"discovery"`
	AuthEndpoint       string        `json:"auth_endpoint" mapstructure:"auth_endpoint" validate:"omitempty,url"`
	TokenEndpoint      string        `json:"token_endpoint" mapstructure:"token_endpoint" validate:"omitempty,url"`
	EndSessionEndpoint string        `json:"end_session_endpoint" mapstructure:"end_session_endpoint" validate:"omitempty,url"`
	JWKSEndpoint       string        `json:"jwks_endpoint" mapstructure:"jwks_endpoint" validate:"omitempty,url"`
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout" default:"10s" validate:"gt=0"`
}
