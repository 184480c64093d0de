package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorAllHealthy(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("api-gateway", nil, time.Second, nil, nil,
		NewChecker("redis", func(context.Context) error { return nil }),
		NewChecker("rabbitmq", func(context.Context) error { return nil }),
	)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "api-gateway", report.Service)
	assert.Equal(t, map[string]string{"api": "ok", "redis": "ok", "rabbitmq": "ok"}, report.Checks)
	assert.True(t, report.Serving())
	assert.False(t, report.Timestamp.IsZero())
}

func TestAggregatorDependencyDownDegrades(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("api-gateway", nil, time.Second, nil, nil,
		NewChecker("redis", func(context.Context) error { return nil }),
		NewChecker("rabbitmq", func(context.Context) error { return errors.New("connection refused") }),
	)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, CheckDown, report.Checks["rabbitmq"])
	assert.Equal(t, CheckOK, report.Checks["redis"])
	assert.True(t, report.Serving())
}

func TestAggregatorCheckTimeout(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("api-gateway", nil, 20*time.Millisecond, nil, nil,
		NewChecker("redis", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		NewChecker("rabbitmq", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	start := time.Now()
	report := agg.Check(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, CheckDown, report.Checks["redis"])
	assert.Equal(t, CheckDown, report.Checks["rabbitmq"])
	assert.Less(t, elapsed, 500*time.Millisecond, "checks should run concurrently and respect the timeout")
}

func TestAggregatorControlFailureIsUnhealthy(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("api-gateway", func() error { return errors.New("no api keys") }, time.Second, nil, nil,
		NewChecker("redis", func(context.Context) error { return nil }),
	)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, CheckDown, report.Checks[APICheck])
	assert.False(t, report.Serving())
}
