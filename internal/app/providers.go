package app

import (
	"context"
	"fmt"
	"github.com/ilindan-dev/notification-scheduler/internal/audit"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/ilindan-dev/notification-scheduler/internal/content"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/ilindan-dev/notification-scheduler/internal/scheduler"
	"github.com/ilindan-dev/notification-scheduler/internal/storage/memory"
	"github.com/ilindan-dev/notification-scheduler/internal/storage/postgres"
	"github.com/ilindan-dev/notification-scheduler/internal/storage/rabbitmq"
	"github.com/ilindan-dev/notification-scheduler/internal/storage/redis"
	"github.com/ilindan-dev/notification-scheduler/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"time"
)

// startupTimeout bounds connection attempts made while the graph is built.
const startupTimeout = 30 * time.Second

// tickLockName is shared by every instance dispatching from the same store.
const tickLockName = "dispatch"

// provideStore returns the configured primary store.
func provideStore(lc fx.Lifecycle, cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) (repo.NotificationStore, error) {
	if cfg.Store.Driver != config.StorePostgres {
		logger.Info().Int("max_history", cfg.Store.MaxHistory).Msg("using in-memory notification store")
		return memory.NewStore(clk, logger, memory.WithMaxHistory(cfg.Store.MaxHistory)), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pool, cfg.Postgres.MigrationsTable, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().Msg("using postgres notification store")
	return postgres.NewNotificationRepository(pool, clk, logger), nil
}

// provideRedis returns nil when redis is not configured.
func provideRedis(lc fx.Lifecycle, cfg *config.Config, logger *zerolog.Logger) (*goredis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

// decorateStore puts the redis cache in front of the primary store when redis is available.
func decorateStore(store repo.NotificationStore, client *goredis.Client, cfg *config.Config, logger *zerolog.Logger) repo.NotificationStore {
	if client == nil {
		return store
	}
	cache := redis.NewNotificationCache(logger, client)
	return redis.NewCachedNotificationStore(store, cache, cfg.Redis.CacheTTL, logger)
}

// provideAuditSink assembles the log sink plus every optional sink that is configured.
func provideAuditSink(lc fx.Lifecycle, cfg *config.Config, logger *zerolog.Logger) (audit.Sink, error) {
	sinks := audit.Multi{audit.NewLogSink(logger)}

	if cfg.RabbitMQ.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		conn, err := rabbitmq.NewConnection(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		publisher, err := rabbitmq.NewAuditPublisher(conn, cfg.RabbitMQ.AuditExchange, cfg.RabbitMQ.PublishTimeout, logger)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		lc.Append(fx.StopHook(func() error {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close audit channel")
			}
			return conn.Close()
		}))
		sinks = append(sinks, publisher)
	}

	if cfg.Alerts.Telegram.BotToken != "" {
		alerts, err := audit.NewTelegramAlertSink(cfg.Alerts.Telegram, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram alerts: %w", err)
		}
		sinks = append(sinks, alerts)
	}

	return sinks, nil
}

func provideBuilder(cfg *config.Config) content.Builder {
	return content.NewTemplateBuilder(cfg.Transport.FromName)
}

func provideScheduler(
	cfg *config.Config,
	store repo.NotificationStore,
	builder content.Builder,
	tr transport.Transport,
	sink audit.Sink,
	clk clock.Clock,
	client *goredis.Client,
	logger *zerolog.Logger,
) *scheduler.Scheduler {
	sc := cfg.Scheduler
	opts := []scheduler.Option{
		scheduler.WithInterval(sc.Interval),
		scheduler.WithSendTimeout(sc.SendTimeout),
		scheduler.WithWorkers(sc.Workers),
		scheduler.WithClaimMargin(sc.ClaimMargin),
		scheduler.WithRetry(scheduler.RetryPolicy{
			MaxAttempts: sc.Retry.MaxAttempts,
			BaseDelay:   sc.Retry.BaseDelay,
		}),
	}
	// The tick lock only matters when several processes share a durable store.
	if client != nil && cfg.Store.Driver == config.StorePostgres {
		opts = append(opts, scheduler.WithLocker(redis.NewTickLock(client, tickLockName, sc.LockTTL, logger)))
	}
	return scheduler.New(store, builder, tr, sink, clk, logger, opts...)
}

// runScheduler ties the dispatch loop to the application lifecycle.
// A loop that aborts on store corruption shuts the whole application down.
func runScheduler(s *scheduler.Scheduler, lc fx.Lifecycle, shutdowner fx.Shutdowner, logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler loop aborted, shutting down")
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
