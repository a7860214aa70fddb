package transport

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// smtpDialer is the part of gomail.Dialer used for delivery.
type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport sends notifications through a direct SMTP relay.
type SMTPTransport struct {
	dialer   smtpDialer
	from     string
	fromName string
	replyTo  string
	logger   zerolog.Logger
}

// NewSMTPTransport creates a relay transport from the SMTP settings.
func NewSMTPTransport(cfg config.TransportConfig, logger *zerolog.Logger) (*SMTPTransport, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: transport.from is required for smtp", ErrInvalidConfig)
	}
	d := gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	return newSMTPTransport(d, cfg, logger), nil
}

func newSMTPTransport(d smtpDialer, cfg config.TransportConfig, logger *zerolog.Logger) *SMTPTransport {
	return &SMTPTransport{
		dialer:   d,
		from:     cfg.From,
		fromName: cfg.FromName,
		replyTo:  cfg.ReplyTo,
		logger:   logger.With().Str("component", "smtp_transport").Logger(),
	}
}

// Name implements Transport.
func (t *SMTPTransport) Name() string {
	return "smtp"
}

// Send implements Transport. The relay call itself is not context-aware; the caller bounds it.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := t.buildMessage(msg)

	// DialAndSend opens a connection, sends the email, and closes it.
	if err := t.dialer.DialAndSend(m); err != nil {
		t.logger.Error().Err(err).Str("recipient", msg.To).Msg("failed to send email")
		return fmt.Errorf("%w: smtp: %w", ErrSendFailed, err)
	}

	t.logger.Debug().Str("recipient", msg.To).Msg("email relayed")
	return nil
}

// buildMessage composes a multipart message with the plain text body first and HTML as the alternative.
func (t *SMTPTransport) buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	if t.fromName != "" {
		m.SetAddressHeader("From", t.from, t.fromName)
	} else {
		m.SetHeader("From", t.from)
	}
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	if t.replyTo != "" {
		m.SetHeader("Reply-To", t.replyTo)
	}
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}
	return m
}
