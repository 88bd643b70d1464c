package redis

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slowQueryHook logs commands and pipelines exceeding threshold. Arguments are
// never logged since they carry session tokens.
type slowQueryHook struct {
	logger    zerolog.Logger
	threshold time.Duration
}

func (h *slowQueryHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Error().Err(err).Str("addr", addr).Msg("redis dial failed")
		}
		return conn, err
	}
}

func (h *slowQueryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if d := time.Since(start); d > h.threshold {
			h.logger.Warn().Str("cmd", cmd.FullName()).Dur("duration", d).Msg("slow redis command")
		}
		return err
	}
}

func (h *slowQueryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if d := time.Since(start); d > h.threshold {
			h.logger.Warn().Int("commands", len(cmds)).Dur("duration", d).Msg("slow redis pipeline")
		}
		return err
	}
}
