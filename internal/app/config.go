package app

import (
	"io"

	"qguard/internal/config"
)

// Config holds the runtime options of the application, as opposed to the
// file-based configuration in internal/config.
type Config struct {
	// Debug forces debug logging regardless of logging.level.
	Debug bool

	// Silent discards log output.
	Silent bool

	// ConfigPath is the directory containing config.yaml. Empty means the
	// default user directory.
	ConfigPath string

	// EnvFile is loaded into the process environment before the
	// configuration is read. Empty means .env in the working directory.
	EnvFile string

	// LogOutput defaults to stdout.
	LogOutput io.Writer

	// QGuardConfig is filled during bootstrap. When set beforehand, loading
	// is skipped.
	QGuardConfig *config.Config
}

// NewConfig creates the runtime options.
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
