package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/audit"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// Ensure AuditPublisher implements the audit sink at compile time.
var _ audit.Sink = (*AuditPublisher)(nil)

const (
	// DefaultAuditExchange is the durable fanout exchange audit events are published to.
	DefaultAuditExchange = "notifications.audit"

	Fanout = "fanout"
)

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AuditPublisher implements audit.Sink by publishing events to a fanout exchange.
type AuditPublisher struct {
	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
	ch       publishChannel
	exchange string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewAuditPublisher opens a channel on the shared connection and declares the exchange.
func NewAuditPublisher(conn *amqp.Connection, exchange string, timeout time.Duration, logger *zerolog.Logger) (*AuditPublisher, error) {
	if exchange == "" {
		exchange = DefaultAuditExchange
	}

	channel, err := conn.Channel()
	if err != nil {
		logger.Error().Err(err).Msg("storage: rabbitMQ: failed to open a channel")
		return nil, fmt.Errorf("storage: rabbitMQ: failed to open a channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, Fanout, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return newAuditPublisher(channel, exchange, timeout, logger), nil
}

func newAuditPublisher(ch publishChannel, exchange string, timeout time.Duration, logger *zerolog.Logger) *AuditPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AuditPublisher{
		ch:       ch,
		exchange: exchange,
		timeout:  timeout,
		logger:   logger.With().Str("component", "rabbitmq_audit_publisher").Logger(),
	}
}

// Record implements audit.Sink. Publish errors are logged, never returned.
func (p *AuditPublisher) Record(ctx context.Context, e audit.Event) {
	msg, err := encodeEvent(e)
	if err != nil {
		p.logger.Error().Err(err).Str("message", e.Message).Msg("failed to marshal audit event")
		return
	}

	// The caller's context may already be cancelled when the loop stops.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(pubCtx, p.exchange, string(e.Level), false, false, msg); err != nil {
		p.logger.Error().Err(err).Str("exchange", p.exchange).Msg("failed to publish audit event")
	}
}

// Close gracefully shuts down the channel. The connection is managed by Fx.
func (p *AuditPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}

func encodeEvent(e audit.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Type:         e.Message,
	}, nil
}
