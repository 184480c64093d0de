package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kweku-annan/api-gateway/internal/auth"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/idempotency"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/ratelimit"
	"github.com/kweku-annan/api-gateway/internal/transport"
	"github.com/kweku-annan/api-gateway/internal/validator"
	"go.uber.org/zap"
)

type Authorizer interface {
	Authorize(key string) error
}

type IdempotencyCache interface {
	Begin(ctx context.Context, key string) (idempotency.Outcome, *idempotency.Record, error)
	Complete(ctx context.Context, key string, statusCode int, body []byte) error
	Release(ctx context.Context, key string) error
}

type RateLimiter interface {
	Admit(ctx context.Context, apiKey string) (ratelimit.Decision, error)
}

type Publisher interface {
	Publish(ctx context.Context, req domain.NotificationRequest) (string, error)
}

type StatusStore interface {
	Record(ctx context.Context, notificationID string, notificationType domain.Type, correlationID string) (*domain.NotificationStatus, error)
	Get(ctx context.Context, notificationID string) (*domain.NotificationStatus, error)
}

// Admission is one raw submission as received on the HTTP surface.
type Admission struct {
	APIKey        string
	Type          domain.Type
	CorrelationID string
	Body          []byte
}

// Result is the response to send back. Body is sent verbatim so replays are
// byte-identical to the canonical response.
type Result struct {
	StatusCode     int
	Body           []byte
	NotificationID string
	Replayed       bool
	RateLimit      *ratelimit.Decision
}

// AcceptedData is the data block of a successful submission.
type AcceptedData struct {
	NotificationID    string        `json:"notification_id"`
	Status            domain.Status `json:"status"`
	EstimatedDelivery time.Time     `json:"estimated_delivery"`
}

// Pipeline runs auth, idempotency, rate limiting, validation, publishing and
// status recording for every submission, stopping at the first failure.
type Pipeline struct {
	gate      Authorizer
	cache     IdempotencyCache
	limiter   RateLimiter
	validator *validator.Validator
	publisher Publisher
	statuses  StatusStore
	now       func() time.Time
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewPipeline(
	gate Authorizer,
	cache IdempotencyCache,
	limiter RateLimiter,
	publisher Publisher,
	statuses StatusStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Pipeline, error) {
	if gate == nil || cache == nil || limiter == nil || publisher == nil || statuses == nil {
		return nil, fmt.Errorf("pipeline requires gate, cache, limiter, publisher and status store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		gate:      gate,
		cache:     cache,
		limiter:   limiter,
		validator: validator.New(),
		publisher: publisher,
		statuses:  statuses,
		now:       time.Now,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (p *Pipeline) Submit(ctx context.Context, in Admission) (result *Result, err error) {
	defer func() {
		p.metrics.IncAdmission(in.Type.String(), outcome(result, err))
	}()

	if err := p.gate.Authorize(in.APIKey); err != nil {
		return nil, err
	}

	ctx = observability.WithAPIKeyFingerprint(ctx, auth.Fingerprint(in.APIKey))
	logger := observability.WithContextLogger(p.logger, ctx).With(zap.String("type", in.Type.String()))

	payload, err := p.validator.Decode(in.Body)
	if err != nil {
		return nil, err
	}
	key, err := p.validator.IdempotencyKey(payload)
	if err != nil {
		return nil, err
	}

	if key != "" {
		scoped := idempotencyScope(in.APIKey, key)
		state, record, err := p.cache.Begin(ctx, scoped)
		if err != nil {
			return nil, err
		}
		if state == idempotency.Hit {
			logger.Info("idempotent replay", zap.String("idempotencyKey", key))
			return &Result{StatusCode: record.StatusCode, Body: record.Body, Replayed: true}, nil
		}

		committed := false
		defer func() {
			if committed {
				return
			}
			if relErr := p.cache.Release(context.WithoutCancel(ctx), scoped); relErr != nil {
				logger.Warn("failed to release idempotency reservation",
					zap.String("idempotencyKey", key),
					zap.Error(relErr),
				)
			}
		}()

		result, err := p.admit(ctx, in, payload, logger)
		if err != nil {
			return nil, err
		}
		committed = true

		if err := p.cache.Complete(context.WithoutCancel(ctx), scoped, result.StatusCode, result.Body); err != nil {
			logger.Error("failed to store idempotency record",
				zap.String("idempotencyKey", key),
				zap.String("notificationId", result.NotificationID),
				zap.Error(err),
			)
		}
		return result, nil
	}

	return p.admit(ctx, in, payload, logger)
}

// admit runs the stages after the idempotency check.
func (p *Pipeline) admit(ctx context.Context, in Admission, payload *validator.Payload, logger *zap.Logger) (*Result, error) {
	decision, err := p.limiter.Admit(ctx, in.APIKey)
	if err != nil {
		return nil, err
	}

	req, err := p.validator.Normalize(payload, in.Type, in.CorrelationID)
	if err != nil {
		return nil, err
	}

	notificationID, err := p.publisher.Publish(ctx, req)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("notificationId", notificationID))

	// The message is already with the broker; a missing status record must
	// not turn the admission into a failure the caller would retry.
	if _, err := p.statuses.Record(context.WithoutCancel(ctx), notificationID, req.Type, req.CorrelationID); err != nil {
		logger.Error("failed to record queued status", zap.Error(err))
	}

	body, err := json.Marshal(transport.Success(AcceptedData{
		NotificationID:    notificationID,
		Status:            domain.StatusQueued,
		EstimatedDelivery: p.now().UTC().Add(req.Type.EstimatedDelivery()),
	}, acceptedMessage(req.Type)))
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	logger.Info("notification accepted", zap.Int("remaining", decision.Remaining))
	return &Result{
		StatusCode:     202,
		Body:           body,
		NotificationID: notificationID,
		RateLimit:      &decision,
	}, nil
}

// Lookup returns the tracked status for an authorized caller.
func (p *Pipeline) Lookup(ctx context.Context, apiKey, notificationID string) (*domain.NotificationStatus, error) {
	if err := p.gate.Authorize(apiKey); err != nil {
		return nil, err
	}
	return p.statuses.Get(ctx, notificationID)
}

// idempotencyScope namespaces a caller's idempotency key by its API key so
// one caller can never replay another caller's response.
func idempotencyScope(apiKey, key string) string {
	return auth.Fingerprint(apiKey) + ":" + key
}

func acceptedMessage(t domain.Type) string {
	if t == domain.TypeEmail {
		return "Email notification queued successfully"
	}
	return "Push notification queued successfully"
}

func outcome(result *Result, err error) string {
	switch {
	case err == nil && result != nil && result.Replayed:
		return observability.OutcomeReplayed
	case err == nil:
		return observability.OutcomeAccepted
	case errors.Is(err, domain.ErrRequestInFlight):
		return observability.OutcomeInFlight
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return observability.OutcomeRateLimited
	case errors.Is(err, domain.ErrValidation):
		return observability.OutcomeInvalid
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return observability.OutcomeUnavailable
	}
	return observability.OutcomeRejected
}
