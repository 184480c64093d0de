package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kweku-annan/api-gateway/internal/config"
	infraredis "github.com/kweku-annan/api-gateway/internal/infra/redis"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/queue"
	"github.com/kweku-annan/api-gateway/internal/service"
	"github.com/kweku-annan/api-gateway/internal/status"
	"go.uber.org/zap"
)

const (
	startupTimeout = 15 * time.Second
	metricsAddr    = ":9102"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName+"-status-relay")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	metrics := observability.NewMetrics()

	rdb, err := infraredis.NewRedis(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	state, err := infraredis.NewStore(rdb)
	if err != nil {
		logger.Fatal("shared state initialization failed", zap.Error(err))
	}
	statuses, err := status.NewStore(state, cfg.StatusTTL(), logger)
	if err != nil {
		logger.Fatal("status store initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(startCtx, cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.ServiceName+"-status-relay")
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(mq, cfg.RelayConcurrency, logger)
	defer consumer.Close() //nolint:errcheck

	relay, err := service.NewStatusRelay(consumer, statuses, cfg.RelayConcurrency, metrics, logger)
	if err != nil {
		logger.Fatal("status relay initialization failed", zap.Error(err))
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer metricsServer.Close() //nolint:errcheck

	if err := relay.Run(ctx); err != nil {
		logger.Error("status relay stopped", zap.Error(err))
		return
	}
	logger.Info("status relay stopped")
}
