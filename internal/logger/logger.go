// Package logger provides a configured zerolog instance.
package logger

import (
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/rs/zerolog"
	"io"
	"os"
)

// NewLogger creates a new configured instance of zerolog.Logger.
// It reads the log level from the config and adds default fields like service name and caller.
func NewLogger(cfg *config.Config) (*zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Logger.Level)
	if err != nil || cfg.Logger.Level == "" {
		// Default to info level if config is invalid or missing
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Logger.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("service", "notification-scheduler").
		Caller().
		Logger().
		Level(level)

	return &logger, nil
}
