package log

import (
	"github.com/kochabx/sessionkeeper/log/writer"
)

// Config selects the level, format and destination of the application log.
type Config struct {
	Level  string     `json:"level" mapstructure:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string     `json:"format" mapstructure:"format" default:"console" validate:"oneof=console json"`
	Output string     `json:"output" mapstructure:"output" default:"stdout" validate:"oneof=stdout file multi"`
	Caller bool       `json:"caller" mapstructure:"caller"`
	Plain  bool       `json:"plain" mapstructure:"plain"`
	File   FileConfig `json:"file" mapstructure:"file"`
}

// FileConfig describes the rotating log file used by the file and multi outputs.
type FileConfig struct {
	Dir        string            `json:"dir" mapstructure:"dir" default:"log"`
	Name       string            `json:"name" mapstructure:"name" default:"sessionkeeper"`
	Ext        string            `json:"ext" mapstructure:"ext" default:"log"`
	RotateMode writer.RotateMode `json:"rotate_mode" mapstructure:"rotate_mode" default:"size"`

	// time rotation
	MaxAgeHours      int `json:"max_age_hours" mapstructure:"max_age_hours" default:"24"`
	RotationInterval int `json:"rotation_interval" mapstructure:"rotation_interval" default:"1"`

	// size rotation
	MaxSizeMB  int  `json:"max_size_mb" mapstructure:"max_size_mb" default:"100"`
	MaxBackups int  `json:"max_backups" mapstructure:"max_backups" default:"5"`
	MaxAgeDays int  `json:"max_age_days" mapstructure:"max_age_days" default:"30"`
	Compress   bool `json:"compress" mapstructure:"compress"`
}

func (c FileConfig) options() writer.FileOptions {
	return writer.FileOptions{
		Mode:        c.RotateMode,
		Dir:         c.Dir,
		Name:        c.Name,
		Ext:         c.Ext,
		MaxAgeHours: c.MaxAgeHours,
		RotateEvery: c.RotationInterval,
		MaxSizeMB:   c.MaxSizeMB,
		MaxBackups:  c.MaxBackups,
		MaxAgeDays:  c.MaxAgeDays,
		Compress:    c.Compress,
	}
}
