// Package idempotency deduplicates admissions that carry the same
// idempotency key across every gateway replica.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/store"
	"go.uber.org/zap"
)

const (
	keyPrefix = "idempotency:"

	// pendingMarker can never collide with a record, which is always a JSON object.
	pendingMarker = "__pending__"

	DefaultTTL     = 24 * time.Hour
	DefaultLockTTL = 30 * time.Second
)

// Record is the canonical outcome replayed to every later caller with the key.
type Record struct {
	StatusCode int       `json:"status_code"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type Outcome int

const (
	// Reserved means the caller owns the key and must Complete or Release it.
	Reserved Outcome = iota
	Hit
)

type Cache struct {
	state   store.SharedState
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewCache(state store.SharedState, ttl, lockTTL time.Duration, logger *zap.Logger) (*Cache, error) {
	return newCache(state, ttl, lockTTL, time.Now, logger)
}

func newCache(state store.SharedState, ttl, lockTTL time.Duration, nowFn func() time.Time, logger *zap.Logger) (*Cache, error) {
	if state == nil {
		return nil, fmt.Errorf("shared state store is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		state:   state,
		ttl:     ttl,
		lockTTL: lockTTL,
		now:     nowFn,
		logger:  logger,
	}, nil
}

// Begin reserves key or returns the stored outcome. A key reserved by another
// in-flight request yields domain.ErrRequestInFlight.
func (c *Cache) Begin(ctx context.Context, key string) (Outcome, *Record, error) {
	// Two passes cover a record or placeholder expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := c.state.CreateIfAbsent(ctx, keyPrefix+key, pendingMarker, c.lockTTL)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: idempotency reserve: %w", domain.ErrUpstreamUnavailable, err)
		}
		if created {
			return Reserved, nil, nil
		}

		value, err := c.state.Get(ctx, keyPrefix+key)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("%w: idempotency lookup: %w", domain.ErrUpstreamUnavailable, err)
		}
		if value == pendingMarker {
			return 0, nil, domain.ErrRequestInFlight
		}

		var record Record
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return 0, nil, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		return Hit, &record, nil
	}

	return 0, nil, domain.ErrRequestInFlight
}

// Complete replaces the caller's reservation with the final record. It never
// overwrites a record that is already stored.
func (c *Cache) Complete(ctx context.Context, key string, statusCode int, body []byte) error {
	record := Record{
		StatusCode: statusCode,
		Body:       body,
		CreatedAt:  c.now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}

	swapped, err := c.state.CompareAndSwap(ctx, keyPrefix+key, pendingMarker, string(payload), c.ttl)
	if err != nil {
		return fmt.Errorf("%w: idempotency complete: %w", domain.ErrUpstreamUnavailable, err)
	}
	if !swapped {
		// Lock TTL elapsed before completion; another request may now own the key.
		c.logger.Warn("idempotency reservation lost before completion",
			zap.String("idempotencyKey", key),
		)
	}
	return nil
}

// Release drops the caller's reservation so the key can be retried.
func (c *Cache) Release(ctx context.Context, key string) error {
	if _, err := c.state.CompareAndDelete(ctx, keyPrefix+key, pendingMarker); err != nil {
		return fmt.Errorf("%w: idempotency release: %w", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}
