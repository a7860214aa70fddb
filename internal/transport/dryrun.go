package transport

import (
	"context"
	"github.com/rs/zerolog"
)

// DryRun wraps the relay provider in dry-run mode: provider errors are logged and reported as success.
type DryRun struct {
	next   Transport
	logger zerolog.Logger
}

// NewDryRun wraps next.
func NewDryRun(next Transport, logger *zerolog.Logger) *DryRun {
	return &DryRun{
		next:   next,
		logger: logger.With().Str("component", "dry_run").Str("provider", next.Name()).Logger(),
	}
}

// Name implements Transport.
func (d *DryRun) Name() string {
	return d.next.Name() + "+dry_run"
}

// Send implements Transport.
func (d *DryRun) Send(ctx context.Context, msg Message) error {
	if err := d.next.Send(ctx, msg); err != nil {
		d.logger.Warn().Err(err).Str("recipient", msg.To).Msg("dry run: ignoring relay failure")
	}
	return nil
}
