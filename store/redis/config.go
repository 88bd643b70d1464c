package redis

import (
	"time"
)

// Config selects standalone, cluster or sentinel mode from Addrs and
// MasterName, as redis.UniversalClient does.
type Config struct {
	Addrs      []string `json:"addrs" mapstructure:"addrs" default:"localhost:6379"`
	MasterName string   `json:"master_name" mapstructure:"master_name"`
	Username   string   `json:"username" mapstructure:"username"`
	Password   string   `json:"-" mapstructure:"password"`
	DB         int      `json:"db" mapstructure:"db"`
	Protocol   int      `json:"protocol" mapstructure:"protocol" default:"3"`

	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout" default:"3s"`

	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxIdleTime  time.Duration `json:"max_idle_time" mapstructure:"max_idle_time" default:"5m"`

	// SlowQuery logs commands slower than this at warn level. Zero disables it.
	SlowQuery time.Duration `json:"slow_query" mapstructure:"slow_query"`
}

func (c *Config) Mode() string {
	switch {
	case c.MasterName != "":
		return "sentinel"
	case len(c.Addrs) > 1:
		return "cluster"
	default:
		return "single"
	}
}
