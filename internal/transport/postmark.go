package transport

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/mrz1836/postmark"
	"github.com/rs/zerolog"
	"net/mail"
)

// postmarkSender is the part of postmark.Client used for delivery.
type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkTransport sends notifications through the Postmark transactional API.
type PostmarkTransport struct {
	client  postmarkSender
	from    string
	replyTo string
	logger  zerolog.Logger
}

// NewPostmarkTransport creates a bulk mail API transport.
func NewPostmarkTransport(cfg config.TransportConfig, logger *zerolog.Logger) (*PostmarkTransport, error) {
	if cfg.Postmark.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: transport.from is required for postmark", ErrInvalidConfig)
	}
	client := postmark.NewClient(cfg.Postmark.ServerToken, cfg.Postmark.AccountToken)
	return newPostmarkTransport(client, cfg, logger), nil
}

func newPostmarkTransport(client postmarkSender, cfg config.TransportConfig, logger *zerolog.Logger) *PostmarkTransport {
	from := cfg.From
	if cfg.FromName != "" {
		from = (&mail.Address{Name: cfg.FromName, Address: cfg.From}).String()
	}
	return &PostmarkTransport{
		client:  client,
		from:    from,
		replyTo: cfg.ReplyTo,
		logger:  logger.With().Str("component", "postmark_transport").Logger(),
	}
}

// Name implements Transport.
func (t *PostmarkTransport) Name() string {
	return "postmark"
}

// Send implements Transport. A non-zero Postmark error code is a failure even without a transport error.
func (t *PostmarkTransport) Send(ctx context.Context, msg Message) error {
	to := msg.To
	if msg.ToName != "" {
		to = (&mail.Address{Name: msg.ToName, Address: msg.To}).String()
	}

	resp, err := t.client.SendEmail(ctx, postmark.Email{
		From:     t.from,
		To:       to,
		ReplyTo:  t.replyTo,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
	})
	if err != nil {
		t.logger.Error().Err(err).Str("recipient", msg.To).Msg("postmark request failed")
		return fmt.Errorf("%w: postmark: %w", ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		t.logger.Error().
			Int64("error_code", int64(resp.ErrorCode)).
			Str("recipient", msg.To).
			Msg("postmark rejected message")
		return fmt.Errorf("%w: postmark error %d: %s", ErrSendFailed, resp.ErrorCode, resp.Message)
	}

	t.logger.Debug().Str("message_id", resp.MessageID).Str("recipient", msg.To).Msg("email accepted by postmark")
	return nil
}
