package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kweku-annan/api-gateway/internal/breaker"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  2 * time.Second,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// PublishError reports a notification the broker never confirmed.
type PublishError struct {
	NotificationID string
	Attempts       int
	Err            error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish of notification %s failed after %d attempt(s): %v", e.NotificationID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{domain.ErrUpstreamUnavailable, e.Err}
}

// NotificationPublisher assigns notification ids and hands admitted requests
// to the broker with bounded retries.
type NotificationPublisher struct {
	broker  Broker
	breaker *breaker.Breaker
	policy  RetryPolicy
	newID   func() string
	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewNotificationPublisher(
	broker Broker,
	policy RetryPolicy,
	cb *breaker.Breaker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*NotificationPublisher, error) {
	return newNotificationPublisher(broker, policy, cb, metrics, logger, uuid.NewString, time.Now)
}

func newNotificationPublisher(
	broker Broker,
	policy RetryPolicy,
	cb *breaker.Breaker,
	metrics *observability.Metrics,
	logger *zap.Logger,
	newIDFn func() string,
	nowFn func() time.Time,
) (*NotificationPublisher, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = defaults.AttemptTimeout
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaults.InitialInterval
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	if newIDFn == nil {
		newIDFn = uuid.NewString
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationPublisher{
		broker:  broker,
		breaker: cb,
		policy:  policy,
		newID:   newIDFn,
		now:     nowFn,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Publish returns the new notification id once the broker confirmed the
// message. Every retry reuses the same id.
func (p *NotificationPublisher) Publish(ctx context.Context, req domain.NotificationRequest) (string, error) {
	notificationID := p.newID()
	msg := Message{
		NotificationID: notificationID,
		Type:           req.Type,
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		Variables:      req.Variables,
		CorrelationID:  req.CorrelationID,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
		EmittedAt:      p.now().UTC(),
	}
	if msg.Variables == nil {
		msg.Variables = map[string]string{}
	}
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("invalid notification message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification message: %w", err)
	}
	out := Outbound{
		MessageID:     notificationID,
		CorrelationID: req.CorrelationID,
		Priority:      PriorityValue(req.Priority),
		Timestamp:     msg.EmittedAt,
		Body:          body,
	}

	logger := observability.WithContextLogger(p.logger, ctx).With(
		zap.String("notificationId", notificationID),
		zap.String("type", req.Type.String()),
	)

	start := time.Now()
	attempts := 0
	operation := func() error {
		attempts++
		err := p.attempt(ctx, RoutingKey(req.Type), out)
		if err == nil {
			p.metrics.IncPublishAttempt(req.Type.String(), "ok")
			return nil
		}

		p.metrics.IncPublishAttempt(req.Type.String(), "error")
		logger.Warn("publish attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		if errors.Is(err, breaker.ErrOpen) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.policy.InitialInterval
	policy.MaxInterval = p.policy.MaxInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.policy.MaxAttempts-1)), ctx)

	err = backoff.Retry(operation, b)
	p.metrics.ObservePublishDuration(req.Type.String(), time.Since(start))
	if err != nil {
		logger.Error("notification publish failed", zap.Int("attempts", attempts), zap.Error(err))
		return "", &PublishError{NotificationID: notificationID, Attempts: attempts, Err: err}
	}

	logger.Info("notification published", zap.Int("attempts", attempts))
	return notificationID, nil
}

func (p *NotificationPublisher) attempt(ctx context.Context, routingKey string, out Outbound) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
	defer cancel()

	publish := func(ctx context.Context) error {
		return p.broker.Publish(ctx, routingKey, out)
	}
	if p.breaker == nil {
		return publish(attemptCtx)
	}
	return p.breaker.Execute(attemptCtx, publish)
}
