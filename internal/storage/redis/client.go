package redis

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"time"
)

var pingStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    time.Second,
	Backoff:  2,
}

// NewClient creates a go-redis client and waits until the server answers a ping.
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.DoContext(ctx, pingStrategy, func() error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis: ping failed, retrying")
			return err
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: server unreachable: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis client ready")
	return client, nil
}
