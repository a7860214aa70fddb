package transport

import (
	"context"
	"github.com/rs/zerolog"
)

// LogTransport is a stand-in provider that logs the envelope instead of delivering.
// It is only selected in dry-run mode when no real provider is configured.
type LogTransport struct {
	logger zerolog.Logger
}

// NewLogTransport creates a new instance of LogTransport.
func NewLogTransport(logger *zerolog.Logger) *LogTransport {
	return &LogTransport{
		logger: logger.With().Str("component", "log_transport").Logger(),
	}
}

// Name implements Transport.
func (t *LogTransport) Name() string {
	return "log"
}

// Send implements Transport. Body contents are never logged.
func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.logger.Info().
		Str("recipient", msg.To).
		Str("subject", msg.Subject).
		Str("tag", msg.Tag).
		Msg(">>> DRY RUN: message not delivered")
	return nil
}
