package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/conservation-rewards-worker/internal/anomaly"
	"github.com/septivank/conservation-rewards-worker/internal/config"
	"github.com/septivank/conservation-rewards-worker/internal/db"
	"github.com/septivank/conservation-rewards-worker/internal/dedup"
	httpserver "github.com/septivank/conservation-rewards-worker/internal/http"
	"github.com/septivank/conservation-rewards-worker/internal/http/handlers"
	"github.com/septivank/conservation-rewards-worker/internal/http/middleware"
	"github.com/septivank/conservation-rewards-worker/internal/metrics"
	"github.com/septivank/conservation-rewards-worker/internal/mq"
	"github.com/septivank/conservation-rewards-worker/internal/repository"
	"github.com/septivank/conservation-rewards-worker/internal/service"
	"github.com/septivank/conservation-rewards-worker/internal/store"
	"github.com/septivank/conservation-rewards-worker/internal/validator"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting worker consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})
	return nil
}

func startHTTP(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	ledgerService *service.LedgerService,
	registry *prometheus.Registry,
) {
	router := httpserver.NewRouter(httpserver.Routes{
		Ledger:  handlers.NewLedgerHandlers(ledgerService, logger),
		Health:  handlers.Health,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, middleware.AuthMiddleware(cfg.HTTP.JWTSecret))

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.RequestLogger(logger),
		limiter.Middleware,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := server.Run(ctx); err != nil {
					logger.Error("http api stopped", zap.Error(err))
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

// ProvideMetricsRegistry creates the registry served on /metrics
func ProvideMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics registers the worker collectors
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.New()
}

// ProvideStore selects the ledger store named by STORAGE_DRIVER
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (service.Store, error) {
	if cfg.Storage.Driver != config.StoragePostgres {
		logger.Warn("using in-memory ledger store; state is lost on restart")
		return store.NewMemory(), nil
	}
	pool, err := db.NewPool(lc, logger, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository(pool), nil
}

// ProvideReplayGuard connects the Redis replay guard, or disables it when REDIS_ADDR is empty
func ProvideReplayGuard(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (service.ReplayGuard, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set; replayed device messages will not be detected")
		return dedup.Noop{}, nil
	}

	client, err := dedup.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	logger.Info("replay guard connected", zap.String("addr", cfg.Redis.Addr))
	return dedup.NewGuard(client, time.Duration(cfg.Redis.ReplayTTLMinutes)*time.Minute), nil
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvidePublisher creates the ledger event publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.LedgerExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideLedgerService creates the ledger service shared by the consumer and the HTTP API
func ProvideLedgerService(
	st service.Store,
	publisher *mq.Publisher,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.LedgerService {
	return service.NewLedgerService(st, publisher, clk, m, cfg, logger)
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	ledgerService *service.LedgerService,
	guard service.ReplayGuard,
	detector *anomaly.Detector,
	validator *validator.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(ledgerService, guard, detector, validator, m, logger)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
