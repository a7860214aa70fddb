package postgres

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"time"
)

var connectStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    time.Second,
	Backoff:  2,
}

// NewPool creates a pgx connection pool and waits until the database answers a ping.
func NewPool(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse dsn: %w", err)
	}
	if cfg.Pool.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Pool.MaxConns
	}
	if cfg.Pool.MinConns > 0 {
		poolCfg.MinConns = cfg.Pool.MinConns
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Pool.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	err = retry.DoContext(ctx, connectStrategy, func() error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("postgres: ping failed, retrying")
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: database unreachable: %w", err)
	}

	logger.Info().Int32("max_conns", poolCfg.MaxConns).Msg("postgres pool ready")
	return pool, nil
}
