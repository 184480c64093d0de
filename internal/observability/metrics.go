package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes recorded per notification type.
const (
	OutcomeAccepted    = "accepted"
	OutcomeReplayed    = "replayed"
	OutcomeInFlight    = "in_flight"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
)

// Metrics stores Prometheus collectors used by the gateway and the status relay.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	admissionsTotal      *prometheus.CounterVec
	publishAttemptsTotal *prometheus.CounterVec
	publishDuration      *prometheus.HistogramVec
	breakerState         *prometheus.GaugeVec
	statusEventsTotal    *prometheus.CounterVec
	healthCheckDownTotal *prometheus.CounterVec
}

const namespace = "api_gateway"

func newCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func newHistogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
}

// NewMetrics registers every collector on a private registry so tests and
// multiple binaries never collide on the global one.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: newCounter("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: newHistogram("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),
		admissionsTotal: newCounter("admissions_total",
			"Notification admission decisions by type and outcome.", "type", "outcome"),
		publishAttemptsTotal: newCounter("publish_attempts_total",
			"Broker publish attempts by type and result.", "type", "result"),
		publishDuration: newHistogram("publish_duration_seconds",
			"Publish latency including retries, by type.", prometheus.ExponentialBuckets(0.005, 2, 12), "type"),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		statusEventsTotal: newCounter("status_events_total",
			"Downstream status events handled by the relay, by status and result.", "status", "result"),
		healthCheckDownTotal: newCounter("health_check_down_total",
			"Health checks that found a dependency down.", "dependency"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.admissionsTotal,
		m.publishAttemptsTotal,
		m.publishDuration,
		m.breakerState,
		m.statusEventsTotal,
		m.healthCheckDownTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAdmission(notificationType string, outcome string) {
	if m == nil {
		return
	}
	m.admissionsTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncPublishAttempt(notificationType string, result string) {
	if m == nil {
		return
	}
	m.publishAttemptsTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObservePublishDuration(notificationType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.publishDuration.WithLabelValues(normalizeLabel(notificationType)).Observe(seconds)
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeLabel(name)).Set(float64(state))
}

func (m *Metrics) IncStatusEvent(status string, result string) {
	if m == nil {
		return
	}
	m.statusEventsTotal.WithLabelValues(normalizeLabel(status), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncHealthCheckDown(dependency string) {
	if m == nil {
		return
	}
	m.healthCheckDownTotal.WithLabelValues(normalizeLabel(dependency)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// routePath labels by route template so notification ids in the URL do not
// explode cardinality. Requests no route matched share one label.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
		return route.Path
	}
	return "unmatched"
}

// statusFromResult is the status the client will see. Handlers that failed
// without writing a response are resolved the way the error handler will.
func statusFromResult(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case err == nil:
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}

	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(v string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
		return v
	}
	return "unknown"
}
