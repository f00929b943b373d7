package app

import (
	"io"
	"time"

	"suitectl/internal/config"
	"suitectl/pkg/logging"
)

// Config holds the application configuration
type Config struct {
	// Path to an explicit configuration file, layered on top of the defaults
	ConfigPath string

	// Debug settings
	Debug     bool
	LogFormat logging.Format

	// Stabilize overrides the configured stabilization delay when set
	Stabilize *time.Duration

	// LogDir sends service output to files so services outlive the command
	LogDir string

	// Output receives log lines; defaults to stderr
	Output io.Writer

	// Exit is called by the signal hook; defaults to os.Exit
	Exit func(code int)

	// Loaded suitectl configuration
	SuitectlConfig *config.SuitectlConfig
}

// NewConfig creates a new application configuration
func NewConfig(configPath string, debug bool, logFormat logging.Format) *Config {
	return &Config{
		ConfigPath: configPath,
		Debug:      debug,
		LogFormat:  logFormat,
	}
}
