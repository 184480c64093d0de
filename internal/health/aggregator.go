// Package health reports gateway and dependency liveness.
package health

import (
	"context"
	"time"

	"github.com/kweku-annan/api-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	CheckOK   = "ok"
	CheckDown = "down"

	// APICheck is the gateway's own control logic.
	APICheck = "api"

	DefaultTimeout = 2 * time.Second
)

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

func NewChecker(name string, fn func(ctx context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

type Report struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Serving is false only when the gateway itself cannot admit requests.
func (r Report) Serving() bool {
	return r.Status != StatusUnhealthy
}

type Aggregator struct {
	service  string
	control  func() error
	checkers []Checker
	timeout  time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewAggregator builds a health aggregator. control reports whether the
// gateway's own admission logic can run; dependency failures only degrade.
func NewAggregator(service string, control func() error, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger, checkers ...Checker) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if control == nil {
		control = func() error { return nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		service:  service,
		control:  control,
		checkers: checkers,
		timeout:  timeout,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// Check runs every dependency check concurrently, each bounded by the check
// timeout, and never returns an error.
func (a *Aggregator) Check(ctx context.Context) Report {
	results := make([]string, len(a.checkers))

	var g errgroup.Group
	for i, checker := range a.checkers {
		i, checker := i, checker
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			results[i] = CheckOK
			if err := checker.Check(checkCtx); err != nil {
				results[i] = CheckDown
				a.metrics.IncHealthCheckDown(checker.Name())
				observability.WithContextLogger(a.logger, ctx).Warn("health check failed",
					zap.String("dependency", checker.Name()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Service:   a.service,
		Timestamp: a.now().UTC(),
		Checks:    make(map[string]string, len(a.checkers)+1),
	}

	report.Checks[APICheck] = CheckOK
	if err := a.control(); err != nil {
		report.Checks[APICheck] = CheckDown
		report.Status = StatusUnhealthy
	}

	for i, checker := range a.checkers {
		report.Checks[checker.Name()] = results[i]
		if results[i] == CheckDown && report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	return report
}
