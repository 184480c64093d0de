// Package ratelimit enforces a fixed-window request budget per API key.
// Counters live in the shared store so the budget holds across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kweku-annan/api-gateway/internal/auth"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/store"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

// Decision describes the caller's budget after this request was counted.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// ExceededError is returned when the window's budget is spent.
type ExceededError struct {
	Decision Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Decision.Limit, e.Decision.RetryAfter)
}

func (e *ExceededError) Unwrap() error { return domain.ErrRateLimitExceeded }

// RetryAfterSeconds is the whole-second value for the Retry-After header.
func (e *ExceededError) RetryAfterSeconds() int {
	return int(e.Decision.RetryAfter / time.Second)
}

type Limiter struct {
	state  store.SharedState
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewLimiter(state store.SharedState, limit int, window time.Duration) (*Limiter, error) {
	return newLimiter(state, limit, window, time.Now)
}

// NewLimiterWithClock is NewLimiter with an injectable clock.
func NewLimiterWithClock(state store.SharedState, limit int, window time.Duration, nowFn func() time.Time) (*Limiter, error) {
	return newLimiter(state, limit, window, nowFn)
}

func newLimiter(state store.SharedState, limit int, window time.Duration, nowFn func() time.Time) (*Limiter, error) {
	if state == nil {
		return nil, fmt.Errorf("shared state store is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window < time.Second {
		window = DefaultWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Limiter{
		state:  state,
		limit:  int64(limit),
		window: window,
		now:    nowFn,
	}, nil
}

// Admit counts one request for apiKey in the current window. Denials return
// the decision together with an *ExceededError.
func (l *Limiter) Admit(ctx context.Context, apiKey string) (Decision, error) {
	now := l.now().UTC()
	windowIndex := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (windowIndex+1)*int64(l.window)).UTC()

	key := fmt.Sprintf("rate_limit:%s:%d", auth.Fingerprint(apiKey), windowIndex)
	count, err := l.state.IncrementWithExpiry(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: rate limit counter: %w", domain.ErrUpstreamUnavailable, err)
	}

	decision := Decision{
		Allowed:   count <= l.limit,
		Limit:     int(l.limit),
		Remaining: int(max(l.limit-count, 0)),
		ResetAt:   windowEnd,
	}
	if decision.Allowed {
		return decision, nil
	}

	decision.RetryAfter = retryAfter(windowEnd.Sub(now), l.window)
	return decision, &ExceededError{Decision: decision}
}

// retryAfter rounds up to whole seconds, bounded by the window.
func retryAfter(untilReset, window time.Duration) time.Duration {
	seconds := (untilReset + time.Second - 1) / time.Second
	d := seconds * time.Second
	if d < time.Second {
		d = time.Second
	}
	if d > window {
		d = window
	}
	return d
}
