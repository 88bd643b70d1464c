package web

import (
	"net/http"
	"time"
)

// CookieConfig controls the session and login-state cookies.
type CookieConfig struct {
	Name     string        `json:"name" mapstructure:"name" default:"sid"`
	Path     string        `json:"path" mapstructure:"path" default:"/"`
	Domain   string        `json:"domain" mapstructure:"domain"`
	Secure   bool          `json:"secure" mapstructure:"secure"`
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age"`
	StateTTL time.Duration `json:"state_ttl" mapstructure:"state_ttl" default:"10m"`
}

const (
	stateCookie = "oauth_state"
	nextCookie  = "oauth_next"
)

func (c CookieConfig) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) expired(name string) *http.Cookie {
	ck := c.cookie(name, "", 0)
	ck.MaxAge = -1
	return ck
}
