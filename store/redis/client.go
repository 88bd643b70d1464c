// Package redis builds the shared go-redis client.
package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/log"
)

// ErrNil is returned by reads of a missing key.
var ErrNil = redis.Nil

// Client wraps a redis.UniversalClient.
type Client struct {
	redis.UniversalClient
	config *Config
	logger zerolog.Logger
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.Component("redis") }
}

// New connects and pings. The client is closed again if the ping fails.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis: nil config")
	}
	if err := tag.ApplyDefaults(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		logger: log.G.Component("redis"),
		UniversalClient: redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:           cfg.Addrs,
			MasterName:      cfg.MasterName,
			Username:        cfg.Username,
			Password:        cfg.Password,
			DB:              cfg.DB,
			Protocol:        cfg.Protocol,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			PoolSize:        cfg.PoolSize,
			MinIdleConns:    cfg.MinIdleConns,
			ConnMaxIdleTime: cfg.MaxIdleTime,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.SlowQuery > 0 {
		c.AddHook(&slowQueryHook{logger: c.logger, threshold: cfg.SlowQuery})
	}

	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.UniversalClient.Close()
		return nil, err
	}

	c.logger.Debug().Str("mode", cfg.Mode()).Strs("addrs", cfg.Addrs).Msg("redis connected")
	return c, nil
}

func (c *Client) Close() error {
	err := c.UniversalClient.Close()
	c.logger.Debug().Msg("redis closed")
	return err
}
