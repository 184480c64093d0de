package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minRelayConcurrency = 1

// StatusConsumer delivers decoded status events from a queue.
type StatusConsumer interface {
	Consume(ctx context.Context, queueName string, handler queue.StatusHandler) error
}

// StatusTransitioner applies a downstream-reported state.
type StatusTransitioner interface {
	Transition(ctx context.Context, notificationID string, next domain.Status, reason string, occurredAt time.Time) (*domain.NotificationStatus, error)
}

// StatusRelay feeds status.queue into the status store.
type StatusRelay struct {
	consumer    StatusConsumer
	statuses    StatusTransitioner
	queueName   string
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

func NewStatusRelay(
	consumer StatusConsumer,
	statuses StatusTransitioner,
	concurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*StatusRelay, error) {
	if consumer == nil {
		return nil, fmt.Errorf("status consumer is required")
	}
	if statuses == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if concurrency < minRelayConcurrency {
		concurrency = minRelayConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusRelay{
		consumer:    consumer,
		statuses:    statuses,
		queueName:   queue.StatusQueue,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Run consumes until ctx is canceled or a consumer fails for good.
func (r *StatusRelay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		worker := i
		g.Go(func() error {
			r.logger.Debug("status relay worker started", zap.Int("worker", worker))
			if err := r.consumer.Consume(gctx, r.queueName, r.Handle); err != nil {
				return fmt.Errorf("status relay worker %d: %w", worker, err)
			}
			return nil
		})
	}

	r.logger.Info("status relay running",
		zap.String("queue", r.queueName),
		zap.Int("concurrency", r.concurrency),
	)
	return g.Wait()
}

// Handle applies one event. Stale reports (a transition the current state
// no longer allows) are acknowledged and dropped.
func (r *StatusRelay) Handle(ctx context.Context, evt queue.StatusEvent) error {
	logger := r.logger.With(
		zap.String("notificationId", evt.NotificationID),
		zap.String("status", evt.Status.String()),
	)

	st, err := r.statuses.Transition(ctx, evt.NotificationID, evt.Status, evt.Reason, evt.OccurredAt)
	switch {
	case err == nil:
		r.metrics.IncStatusEvent(evt.Status.String(), "applied")
		logger.Debug("status updated", zap.String("current", st.Status.String()))
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		r.metrics.IncStatusEvent(evt.Status.String(), "stale")
		logger.Info("stale status event dropped", zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrValidation):
		r.metrics.IncStatusEvent(evt.Status.String(), "invalid")
		return err
	case errors.Is(err, domain.ErrCorruptRecord):
		r.metrics.IncStatusEvent(evt.Status.String(), "corrupt")
		logger.Error("stored status unreadable, event dropped", zap.Error(err))
		return err
	default:
		r.metrics.IncStatusEvent(evt.Status.String(), "retry")
		logger.Warn("status update failed", zap.Error(err))
		return err
	}
}
