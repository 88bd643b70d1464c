package http

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	Metrics MetricsOption `mapstructure:"metrics"`
	Health  HealthOption  `mapstructure:"health"`
}

type MetricsOption struct {
	Enabled  bool                 `json:"enabled" mapstructure:"enabled"`
	Path     string               `json:"path" mapstructure:"path" default:"/metrics"`
	Registry *prometheus.Registry `json:"-" mapstructure:"-"`
}

// HealthCheck reports an unhealthy dependency by returning an error.
type HealthCheck func(ctx context.Context) error

type HealthOption struct {
	Enabled bool                   `json:"enabled" mapstructure:"enabled"`
	Path    string                 `json:"path" mapstructure:"path" default:"/health"`
	Checks  map[string]HealthCheck `json:"-" mapstructure:"-"`
}
