// Package config loads application settings from a file and the environment.
package config

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/kochabx/sessionkeeper/core/validator"
	"github.com/kochabx/sessionkeeper/log"
)

// Config binds a loader to a target struct.
type Config struct {
	mu       sync.RWMutex
	viper    *viper.Viper
	validate *validator.Validator
	target   any
	loader   Loader
	file     string
	onChange []func()
}

type Option func(*Config)

func WithViper(v *viper.Viper) Option {
	return func(c *Config) { c.viper = v }
}

func WithValidator(v *validator.Validator) Option {
	return func(c *Config) { c.validate = v }
}

func WithLoader(l Loader) Option {
	return func(c *Config) { c.loader = l }
}

// WithFile sets the config file path. Defaults to config.yaml.
func WithFile(path string) Option {
	return func(c *Config) { c.file = path }
}

// OnChange registers fn to run after a successful reload.
func OnChange(fn func()) Option {
	return func(c *Config) { c.onChange = append(c.onChange, fn) }
}

func New(target any, opts ...Option) *Config {
	c := &Config{
		viper:    viper.New(),
		validate: validator.Validate,
		target:   target,
		file:     "config.yaml",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		c.loader = NewFileLoader(c.file, c.viper, c.validate)
	}
	return c
}

// Load fills the target. Any failure is an errors.ErrConfiguration.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loader.Load(c.target)
}

func (c *Config) Reload() error {
	return c.Load()
}

// Watch reloads the target whenever the file changes.
func (c *Config) Watch() error {
	return c.loader.Watch(func() {
		if err := c.Reload(); err != nil {
			log.Error().Err(err).Msg("config reload failed")
			return
		}
		log.Info().Str("file", c.file).Msg("config reloaded")
		for _, fn := range c.onChange {
			fn()
		}
	})
}

// RLock guards reads of the target against a concurrent reload.
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

func (c *Config) Viper() *viper.Viper {
	return c.viper
}
