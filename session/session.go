// Package session owns the authenticated session and the verification state
// machine that keeps its tokens usable.
package session

import (
	"time"
)

// ErrorTag marks a session that can no longer be trusted.
type ErrorTag string

const (
	TagNone           ErrorTag = ""
	TagRefreshFailed  ErrorTag = "RefreshFailed"
	TagSessionExpired ErrorTag = "SessionExpired"
)

// Session is a server-side login bound to a browser by its ID.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionState string    `json:"session_state,omitempty"`
	Error        ErrorTag  `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// HasTokens reports whether both tokens are present.
func (s *Session) HasTokens() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}
