package writer

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateMode selects how log files are rotated.
type RotateMode string

const (
	RotateByTime RotateMode = "time"
	RotateBySize RotateMode = "size"
)

// FileOptions describes a rotating log file.
type FileOptions struct {
	Mode RotateMode
	Dir  string
	Name string
	Ext  string

	// time rotation, in hours
	MaxAgeHours int
	RotateEvery int

	// size rotation
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (o FileOptions) path(pattern string) string {
	name := o.Name
	if pattern != "" {
		name += "." + pattern
	}
	return filepath.Join(o.Dir, name+"."+o.Ext)
}

// File opens a rotating file writer. The returned writer also implements
// io.Closer.
func File(o FileOptions) (io.WriteCloser, error) {
	switch o.Mode {
	case RotateByTime:
		w, err := rotatelogs.New(
			o.path("%Y%m%d%H%M"),
			rotatelogs.WithLinkName(o.path("")),
			rotatelogs.WithMaxAge(time.Duration(o.MaxAgeHours)*time.Hour),
			rotatelogs.WithRotationTime(time.Duration(o.RotateEvery)*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("time rotated writer: %w", err)
		}
		return w, nil
	case RotateBySize:
		return &lumberjack.Logger{
			Filename:   o.path(""),
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported rotate mode %q", o.Mode)
	}
}
