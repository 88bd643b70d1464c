package log

import (
	"github.com/rs/zerolog"

	"github.com/kochabx/sessionkeeper/log/desensitize"
)

type Option func(*Logger)

func WithLevel(level zerolog.Level) Option {
	return func(l *Logger) {
		l.Logger = l.Logger.Level(level)
	}
}

func WithCaller() Option {
	return func(l *Logger) {
		l.Logger = l.Logger.With().Caller().Logger()
	}
}

// WithDesensitize masks credentials before they reach the writer.
func WithDesensitize(hook *desensitize.Hook) Option {
	return func(l *Logger) {
		l.hook = hook
	}
}

// WithField attaches a constant string field to every event.
func WithField(key, value string) Option {
	return func(l *Logger) {
		l.Logger = l.Logger.With().Str(key, value).Logger()
	}
}
