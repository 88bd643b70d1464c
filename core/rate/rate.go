// Package rate limits how often a key may act within a sliding window.
package rate

import (
	"context"
	"time"
)

// Limiter reports whether one more event for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config is shared by the local and Redis limiters.
type Config struct {
	Window time.Duration `json:"window" mapstructure:"window" default:"1m" validate:"gte=1s"`
	Limit  int           `json:"limit" mapstructure:"limit" default:"120" validate:"gte=0"`
}

// Enabled reports whether limiting is on. A zero limit disables it.
func (c Config) Enabled() bool {
	return c.Limit > 0
}
