package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/kochabx/sessionkeeper/core/tag"
	"github.com/kochabx/sessionkeeper/log/desensitize"
	"github.com/kochabx/sessionkeeper/log/writer"
)

// Logger is a zerolog logger that owns its output.
type Logger struct {
	zerolog.Logger
	hook   *desensitize.Hook
	closer io.Closer
}

func init() {
	zerolog.TimeFieldFormat = time.DateTime
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// build applies options twice when a desensitize hook is set: once to find the
// hook, then again on a logger that writes through it.
func build(w io.Writer, opts ...Option) *Logger {
	l := &Logger{Logger: zerolog.New(w).With().Timestamp().Logger()}
	for _, opt := range opts {
		opt(l)
	}

	if l.hook != nil {
		l.Logger = zerolog.New(desensitize.NewWriter(w, l.hook)).With().Timestamp().Logger()
		for _, opt := range opts {
			opt(l)
		}
	}
	return l
}

// New returns a console logger on stdout.
func New(opts ...Option) *Logger {
	return build(writer.Console(), opts...)
}

// NewWriter returns a JSON logger on w.
func NewWriter(w io.Writer, opts ...Option) *Logger {
	return build(w, opts...)
}

// NewFromConfig builds the logger described by c.
func NewFromConfig(c Config) (*Logger, error) {
	if err := tag.ApplyDefaults(&c); err != nil {
		return nil, fmt.Errorf("log config defaults: %w", err)
	}

	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := []Option{WithLevel(level)}
	if c.Caller {
		opts = append(opts, WithCaller())
	}
	if !c.Plain {
		opts = append(opts, WithDesensitize(desensitize.NewHook(desensitize.BuiltinRules()...)))
	}

	var console io.Writer = writer.Console()
	if c.Format == "json" {
		console = os.Stdout
	}

	if c.Output == "stdout" {
		return build(console, opts...), nil
	}

	file, err := writer.File(c.File.options())
	if err != nil {
		return nil, err
	}

	var out io.Writer = file
	if c.Output == "multi" {
		out = zerolog.MultiLevelWriter(file, console)
	}
	l := build(out, opts...)
	l.closer = file
	return l, nil
}
