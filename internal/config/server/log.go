package server

import (
	"fmt"
	"strings"
)

type LogServerConfig struct {
	Level      string                  `mapstructure:"level"       yaml:"level"`
	TimeFormat string                  `mapstructure:"time_format" yaml:"time_format"`
	File       string                  `mapstructure:"file"        yaml:"file"`
	NoColor    bool                    `mapstructure:"no_color"    yaml:"no_color"`
	JSON       bool                    `mapstructure:"json"        yaml:"json"`
	NoTerminal bool                    `mapstructure:"no_terminal" yaml:"no_terminal"`
	Rotation   LogServerRotationConfig `mapstructure:"rotation"    yaml:"rotation"`
}

// LogServerRotationConfig is handed to lumberjack when File is set.
// Sizes are megabytes, ages are days.
type LogServerRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"     yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"      yaml:"max_age"`
	Compress   bool `mapstructure:"compress"     yaml:"compress"`
}

func (c LogServerConfig) Validate() error {
	switch strings.ToUpper(c.Level) {
	case "DEBUG", "TRACE", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
	default:
		return fmt.Errorf("unknown log level '%s'", c.Level)
	}

	if c.File != "" && c.Rotation.MaxSize <= 0 {
		return fmt.Errorf("log rotation max_size must be positive when a log file is set")
	}
	return nil
}
