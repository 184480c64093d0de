// Package status tracks the delivery state of admitted notifications.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultTTL = 24 * time.Hour

	maxSwapAttempts = 5
)

type Store struct {
	state  store.SharedState
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewStore(state store.SharedState, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	return newStore(state, ttl, time.Now, logger)
}

func newStore(state store.SharedState, ttl time.Duration, nowFn func() time.Time, logger *zap.Logger) (*Store, error) {
	if state == nil {
		return nil, fmt.Errorf("shared state store is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{state: state, ttl: ttl, now: nowFn, logger: logger}, nil
}

func statusKey(notificationID string) string {
	return fmt.Sprintf("notification:%s:status", notificationID)
}

// Record writes the initial queued state. A record that already exists was
// written by a downstream report that arrived first and is left untouched.
func (s *Store) Record(ctx context.Context, notificationID string, notificationType domain.Type, correlationID string) (*domain.NotificationStatus, error) {
	now := s.now().UTC()
	st := &domain.NotificationStatus{
		NotificationID: notificationID,
		Status:         domain.StatusQueued,
		Type:           notificationType,
		CorrelationID:  correlationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}

	created, err := s.state.CreateIfAbsent(ctx, statusKey(notificationID), string(payload), s.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: status record: %w", domain.ErrUpstreamUnavailable, err)
	}
	if !created {
		observability.WithContextLogger(s.logger, ctx).Debug("status already reported downstream",
			zap.String("notificationId", notificationID),
		)
		return s.Get(ctx, notificationID)
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, notificationID string) (*domain.NotificationStatus, error) {
	if _, err := uuid.Parse(notificationID); err != nil {
		return nil, fmt.Errorf("%w: notification %q", domain.ErrNotFound, notificationID)
	}

	_, st, err := s.load(ctx, notificationID)
	return st, err
}

// Transition applies a downstream-reported state. Unknown notifications are
// created in that state since reports can overtake the gateway's own write.
func (s *Store) Transition(ctx context.Context, notificationID string, next domain.Status, reason string, occurredAt time.Time) (*domain.NotificationStatus, error) {
	if _, err := uuid.Parse(notificationID); err != nil {
		return nil, domain.NewValidationError("notification_id", "must be a valid UUID")
	}
	if !next.IsValid() {
		return nil, domain.NewValidationError("status", "invalid status %q", next)
	}
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	occurredAt = occurredAt.UTC()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, current, err := s.load(ctx, notificationID)
		if errors.Is(err, domain.ErrNotFound) {
			st := &domain.NotificationStatus{
				NotificationID: notificationID,
				Status:         next,
				Reason:         reason,
				CreatedAt:      occurredAt,
				UpdatedAt:      occurredAt,
			}
			payload, err := json.Marshal(st)
			if err != nil {
				return nil, fmt.Errorf("failed to encode status: %w", err)
			}
			created, err := s.state.CreateIfAbsent(ctx, statusKey(notificationID), string(payload), s.ttl)
			if err != nil {
				return nil, fmt.Errorf("%w: status create: %w", domain.ErrUpstreamUnavailable, err)
			}
			if created {
				return st, nil
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if current.Status == next {
			return current, nil
		}
		if !current.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
		}

		updated := *current
		updated.Status = next
		updated.Reason = reason
		updated.UpdatedAt = occurredAt
		payload, err := json.Marshal(updated)
		if err != nil {
			return nil, fmt.Errorf("failed to encode status: %w", err)
		}

		swapped, err := s.state.CompareAndSwap(ctx, statusKey(notificationID), raw, string(payload), s.ttl)
		if err != nil {
			return nil, fmt.Errorf("%w: status update: %w", domain.ErrUpstreamUnavailable, err)
		}
		if swapped {
			return &updated, nil
		}
	}

	return nil, fmt.Errorf("%w: status for %s changed concurrently", domain.ErrUpstreamUnavailable, notificationID)
}

func (s *Store) load(ctx context.Context, notificationID string) (string, *domain.NotificationStatus, error) {
	raw, err := s.state.Get(ctx, statusKey(notificationID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", nil, fmt.Errorf("%w: notification %s", domain.ErrNotFound, notificationID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: status lookup: %w", domain.ErrUpstreamUnavailable, err)
	}

	var st domain.NotificationStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return "", nil, fmt.Errorf("%w: status for %s: %w", domain.ErrCorruptRecord, notificationID, err)
	}
	return raw, &st, nil
}
