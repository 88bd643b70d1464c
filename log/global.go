package log

import (
	"github.com/rs/zerolog"
)

// G is the process-wide logger. Components receive child loggers derived from
// it instead of reading it directly where they can.
var G = New()

func SetGlobalLogger(l *Logger) {
	G = l
}

func SetGlobalLevel(level zerolog.Level) {
	G.Logger = G.Logger.Level(level)
}

func Debug() *zerolog.Event { return G.Debug() }
func Info() *zerolog.Event  { return G.Info() }
func Warn() *zerolog.Event  { return G.Warn() }

// Error returns an error event with the stack of wrapped pkg/errors causes.
func Error() *zerolog.Event { return G.Error().Stack() }

func Fatal() *zerolog.Event { return G.Fatal().Stack() }
