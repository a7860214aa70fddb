package app

import (
	"context"
	"errors"
	"github.com/ilindan-dev/notification-scheduler/internal/clock"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	deliveryHTTP "github.com/ilindan-dev/notification-scheduler/internal/delivery/http"
	"github.com/ilindan-dev/notification-scheduler/internal/logger"
	"github.com/ilindan-dev/notification-scheduler/internal/service"
	"github.com/ilindan-dev/notification-scheduler/internal/transport"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"net/http"
)

// CommonModule provides dependencies that are shared between the API and Worker applications.
var CommonModule = fx.Options(
	fx.Provide(
		// Core components
		config.NewConfig,
		logger.NewLogger,
		clock.New,

		// Storage layer
		provideStore,
		provideRedis,

		// Delivery collaborators
		provideAuditSink,
		transport.New,
		provideBuilder,

		// Service layer
		service.NewNotificationService,
	),

	fx.Decorate(decorateStore),
)

// SchedulerModule runs the dispatch loop.
var SchedulerModule = fx.Options(
	fx.Provide(provideScheduler),
	fx.Invoke(runScheduler),
)

// APIModule defines the Fx module for the HTTP API application.
// It also dispatches, since the in-memory store lives in this process.
var APIModule = fx.Options(
	CommonModule,
	SchedulerModule,
	fx.Provide(
		deliveryHTTP.NewHandlers,
		deliveryHTTP.NewServer,
	),

	fx.Invoke(func(server *deliveryHTTP.Server, lc fx.Lifecycle, shutdowner fx.Shutdowner, logger *zerolog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("addr", server.Addr).Msg("http server failed")
						_ = shutdowner.Shutdown(fx.ExitCode(1))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
	}),
)

// WorkerModule defines the Fx module for a dispatch-only process sharing a durable store.
var WorkerModule = fx.Options(
	CommonModule,
	SchedulerModule,
	fx.Invoke(func(cfg *config.Config, logger *zerolog.Logger) {
		if cfg.Store.Driver == config.StoreMemory {
			logger.Warn().Msg("worker started with the in-memory store, it will only see notifications it schedules itself")
		}
	}),
)
