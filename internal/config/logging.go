package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rshade/gruf/internal/logging"
)

// LoggingConfig is the logging section of the config file.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Validate checks the level and format names.
func (lc *LoggingConfig) Validate() error {
	if lc.Level != "" {
		if _, err := zerolog.ParseLevel(lc.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	switch lc.Format {
	case "", logging.FormatJSON, logging.FormatConsole:
		return nil
	default:
		return fmt.Errorf("logging.format: unknown format %q (want %s or %s)",
			lc.Format, logging.FormatJSON, logging.FormatConsole)
	}
}

// ToLoggingConfig converts config.LoggingConfig to logging.Config for use with
// the internal/logging package.
//
// The conversion applies these rules:
//   - Level, Format are copied directly
//   - If File is set, Output becomes "file" and File is passed through
//   - If File is empty, Output defaults to "stderr"
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = logging.OutputFile
	}

	return logging.Config{
		Level:  lc.Level,
		Format: lc.Format,
		Output: output,
		File:   lc.File,
	}
}
