package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig("broker")
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour
	b := New(cfg, observability.NewMetrics(), nil)

	boom := errors.New("boom")
	calls := 0
	fail := func(context.Context) error {
		calls++
		return boom
	}

	assert.ErrorIs(t, b.Execute(context.Background(), fail), boom)
	assert.ErrorIs(t, b.Execute(context.Background(), fail), boom)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, calls, "open breaker must not call through")
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig("broker")
	cfg.ConsecutiveFailures = 1
	b := New(cfg, nil, nil)

	err := b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerSkipsDoneContext(t *testing.T) {
	t.Parallel()

	b := New(DefaultConfig("broker"), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
