package rate

import (
	"context"
	_ "embed"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/sessionkeeper/errors"
)

var (
	//go:embed slidingwindow.lua
	slidingWindowLua       string
	slidingWindowLuaScript = redis.NewScript(slidingWindowLua)
)

var _ Limiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter keeps one sorted set of event times per key, so every
// replica shares the same window.
type SlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	config Config
	clock  clockwork.Clock
	script *redis.Script
}

func NewSlidingWindowLimiter(client redis.UniversalClient, prefix string, cfg Config, clock clockwork.Clock) *SlidingWindowLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SlidingWindowLimiter{
		client: client,
		prefix: prefix,
		config: cfg,
		clock:  clock,
		script: slidingWindowLuaScript,
	}
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.config.Enabled() {
		return true, nil
	}
	now := l.clock.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.client, []string{l.prefix + ":" + key},
		l.config.Window.Milliseconds(), l.config.Limit, now, uuid.NewString()).Int64()
	if err != nil {
		return false, errors.ServiceUnavailable("rate limiter").WithCause(err)
	}
	return res == 1, nil
}
