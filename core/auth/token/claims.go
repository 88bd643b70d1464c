// Package token decodes bearer tokens and decides whether they are still usable.
package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of identity provider claims the session engine reads.
type Claims struct {
	jwt.RegisteredClaims
	Type              string `json:"typ,omitempty"`
	SessionState      string `json:"session_state,omitempty"`
	SID               string `json:"sid,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
}
