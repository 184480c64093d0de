package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kweku-annan/api-gateway/internal/auth"
	"github.com/kweku-annan/api-gateway/internal/breaker"
	"github.com/kweku-annan/api-gateway/internal/config"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/handler"
	"github.com/kweku-annan/api-gateway/internal/health"
	"github.com/kweku-annan/api-gateway/internal/idempotency"
	"github.com/kweku-annan/api-gateway/internal/infra/postgresql"
	"github.com/kweku-annan/api-gateway/internal/infra/postgresql/migrations"
	infraredis "github.com/kweku-annan/api-gateway/internal/infra/redis"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/queue"
	"github.com/kweku-annan/api-gateway/internal/ratelimit"
	"github.com/kweku-annan/api-gateway/internal/repository"
	"github.com/kweku-annan/api-gateway/internal/service"
	"github.com/kweku-annan/api-gateway/internal/status"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	metrics := observability.NewMetrics()

	dbKeys, err := loadLedgerKeys(startCtx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("api key ledger load failed", zap.Error(err))
	}
	gate := auth.NewGate(cfg.APIKeys(), dbKeys)
	if !gate.Configured() {
		logger.Error("no api keys configured; submissions will be refused")
	}

	rdb, err := infraredis.NewRedis(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	state, err := infraredis.NewStore(rdb)
	if err != nil {
		logger.Fatal("shared state initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(startCtx, cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.ServiceName)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	broker := queue.NewRabbitMQPublisher(mq)
	defer broker.Close() //nolint:errcheck

	policy := queue.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.PublishMaxAttempts
	policy.AttemptTimeout = cfg.PublishTimeout()
	publisher, err := queue.NewNotificationPublisher(broker, policy, breaker.New(breaker.DefaultConfig("rabbitmq"), metrics, logger), metrics, logger)
	if err != nil {
		logger.Fatal("publisher initialization failed", zap.Error(err))
	}

	cache, err := idempotency.NewCache(state, cfg.IdempotencyTTL(), cfg.IdempotencyLockTTL(), logger)
	if err != nil {
		logger.Fatal("idempotency cache initialization failed", zap.Error(err))
	}
	limiter, err := ratelimit.NewLimiter(state, cfg.RateLimitPerMinute, cfg.RateLimitWindow())
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	statuses, err := status.NewStore(state, cfg.StatusTTL(), logger)
	if err != nil {
		logger.Fatal("status store initialization failed", zap.Error(err))
	}

	pipeline, err := service.NewPipeline(gate, cache, limiter, publisher, statuses, metrics, logger)
	if err != nil {
		logger.Fatal("pipeline initialization failed", zap.Error(err))
	}

	aggregator := health.NewAggregator(cfg.ServiceName, func() error {
		if !gate.Configured() {
			return domain.ErrAuthNotConfigured
		}
		return nil
	}, cfg.HealthTimeout(), metrics, logger,
		health.NewChecker("redis", state.Ping),
		health.NewChecker("rabbitmq", broker.Ping),
	)

	app, err := handler.NewApp(handler.AppDeps{
		Pipeline: pipeline,
		Health:   aggregator,
		Metrics:  metrics,
		Logger:   logger,
		AppName:  cfg.ServiceName,
	})
	if err != nil {
		logger.Fatal("http app initialization failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("api gateway started",
		zap.Int("port", cfg.APIPort),
		zap.Int("apiKeys", gate.Len()),
		zap.Int("rateLimitPerMinute", cfg.RateLimitPerMinute),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}

// loadLedgerKeys reads active keys from Postgres when DATABASE_DSN is set.
func loadLedgerKeys(ctx context.Context, dsn string, logger *zap.Logger) ([]string, error) {
	if dsn == "" {
		return nil, nil
	}

	db, err := postgresql.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := postgresql.Close(db); err != nil {
			logger.Warn("postgres close failed", zap.Error(err))
		}
	}()

	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	keys, err := repository.NewGormAPIKeyRepo(db).ListActiveKeys(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("api keys loaded from ledger", zap.Int("count", len(keys)))
	return keys, nil
}
