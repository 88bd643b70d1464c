package keepalive

import (
	"time"
)

type Config struct {
	RefreshInterval       time.Duration `json:"refresh_interval" mapstructure:"refresh_interval" default:"5m" validate:"gte=1s"`
	ActivityCheckInterval time.Duration `json:"activity_check_interval" mapstructure:"activity_check_interval" default:"30s" validate:"gte=1s"`
	InitialDelay          time.Duration `json:"initial_delay" mapstructure:"initial_delay" default:"2s" validate:"gte=0"`
	NotifySuccess         bool          `json:"notify_success" mapstructure:"notify_success"`
}
