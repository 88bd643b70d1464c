package config

import (
	"time"

	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/rate"
	"github.com/kochabx/sessionkeeper/keepalive"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/store/redis"
	"github.com/kochabx/sessionkeeper/web"
)

// Store backends of Session.Store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Settings is the configuration tree of the sessionkeeper server.
type Settings struct {
	Server    ServerSettings    `json:"server" mapstructure:"server"`
	Provider  oidc.Config       `json:"provider" mapstructure:"provider"`
	Session   SessionSettings   `json:"session" mapstructure:"session"`
	KeepAlive keepalive.Config  `json:"keepalive" mapstructure:"keepalive"`
	Activity  ActivitySettings  `json:"activity" mapstructure:"activity"`
	Gate      GateSettings      `json:"gate" mapstructure:"gate"`
	Cookie    web.CookieConfig  `json:"cookie" mapstructure:"cookie"`
	Redis     redis.Config      `json:"redis" mapstructure:"redis"`
	Log       log.Config        `json:"log" mapstructure:"log"`
	Pool      PoolSettings      `json:"pool" mapstructure:"pool"`
	Metrics   MetricsSettings   `json:"metrics" mapstructure:"metrics"`
	DomainAPI DomainAPISettings `json:"domain_api" mapstructure:"domain_api"`
}

type ServerSettings struct {
	Addr            string        `json:"addr" mapstructure:"addr" default:":8080"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" default:"30s" validate:"gt=0"`
}

// SessionSettings holds the token expiry margins and the session store.
type SessionSettings struct {
	AccessThreshold  time.Duration `json:"access_threshold" mapstructure:"access_threshold" default:"30s" validate:"gte=0"`
	RefreshThreshold time.Duration `json:"refresh_threshold" mapstructure:"refresh_threshold" default:"60s" validate:"gte=0"`
	Store            string        `json:"store" mapstructure:"store" default:"memory" validate:"oneof=memory redis"`
	KeyPrefix        string        `json:"key_prefix" mapstructure:"key_prefix" default:"sessionkeeper"`
}

type ActivitySettings struct {
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" default:"30m" validate:"gte=1s"`
	// RateLimit bounds activity reports per session. A zero limit disables it.
	RateLimit rate.Config `json:"rate_limit" mapstructure:"rate_limit"`
}

// GateSettings lists route patterns in PathMatcher syntax.
type GateSettings struct {
	Protected []string `json:"protected" mapstructure:"protected" default:"/app/**"`
	Public    []string `json:"public" mapstructure:"public" default:"/auth/**,/session/**"`
	LoginPath string   `json:"login_path" mapstructure:"login_path" default:"/auth/login"`
}

type PoolSettings struct {
	Size int `json:"size" mapstructure:"size" default:"64" validate:"gte=1"`
}

type MetricsSettings struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Path       string `json:"path" mapstructure:"path" default:"/metrics"`
	HealthPath string `json:"health_path" mapstructure:"health_path" default:"/health"`
}

// DomainAPISettings points at the finance API. Without a base URL the
// categories are served from a static list.
type DomainAPISettings struct {
	BaseURL string `json:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// LoadSettings reads file and the environment into a Settings.
func LoadSettings(file string, opts ...Option) (*Settings, *Config, error) {
	s := new(Settings)
	c := New(s, append([]Option{WithFile(file)}, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}
	return s, c, nil
}
