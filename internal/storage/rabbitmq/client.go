package rabbitmq

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"time"
)

var dialStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    time.Second,
	Backoff:  2,
}

// NewConnection dials the broker, retrying while it is still starting up.
func NewConnection(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := retry.DoContext(ctx, dialStrategy, func() error {
		c, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq: dial failed, retrying")
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}
	return conn, nil
}
