package transport

import (
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/rs/zerolog"
)

// New selects the single provider used for the lifetime of the process.
//
// A Postmark server token selects the bulk mail API; otherwise an SMTP host selects the relay.
// With neither, dry-run mode logs messages and live mode fails every send.
func New(cfg *config.Config, logger *zerolog.Logger) (Transport, error) {
	log := logger.With().Str("component", "transport_selector").Logger()
	tc := cfg.Transport

	switch {
	case tc.Postmark.ServerToken != "":
		t, err := NewPostmarkTransport(tc, logger)
		if err != nil {
			return nil, err
		}
		log.Info().Str("provider", t.Name()).Msg("transport selected")
		return t, nil

	case tc.SMTP.Host != "":
		t, err := NewSMTPTransport(tc, logger)
		if err != nil {
			return nil, err
		}
		if tc.Mode == config.ModeDryRun {
			log.Warn().Str("provider", t.Name()).Msg("transport selected in dry-run mode, relay failures will be ignored")
			return NewDryRun(t, logger), nil
		}
		log.Info().Str("provider", t.Name()).Msg("transport selected")
		return t, nil

	case tc.Mode == config.ModeDryRun:
		log.Warn().Msg("no delivery provider configured, dry-run mode logs messages instead")
		return NewLogTransport(logger), nil

	default:
		log.Warn().Msg("no delivery provider configured, every notification will fail")
		return Unavailable{}, nil
	}
}
