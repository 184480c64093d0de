package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/kweku-annan/api-gateway/internal/auth"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/idempotency"
	redisinfra "github.com/kweku-annan/api-gateway/internal/infra/redis"
	"github.com/kweku-annan/api-gateway/internal/ratelimit"
	"github.com/kweku-annan/api-gateway/internal/status"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "key-a"
	otherKey = "key-b"
	testUser = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
)

type fakePublisher struct {
	mu      sync.Mutex
	calls   int32
	err     error
	gate    chan struct{}
	entered chan struct{}
	reqs    []domain.NotificationRequest
}

func (p *fakePublisher) Publish(ctx context.Context, req domain.NotificationRequest) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return uuid.NewString(), nil
}

func (p *fakePublisher) Calls() int {
	return int(atomic.LoadInt32(&p.calls))
}

type failingStatusStore struct{}

func (failingStatusStore) Record(context.Context, string, domain.Type, string) (*domain.NotificationStatus, error) {
	return nil, domain.ErrUpstreamUnavailable
}

func (failingStatusStore) Get(context.Context, string) (*domain.NotificationStatus, error) {
	return nil, domain.ErrUpstreamUnavailable
}

type fixture struct {
	mr        *miniredis.Miniredis
	pipeline  *Pipeline
	publisher *fakePublisher
	statuses  *status.Store
	cache     *idempotency.Cache
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	state, err := redisinfra.NewStore(rdb)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	clock := func() time.Time { return now }

	cache, err := idempotency.NewCache(state, 24*time.Hour, 30*time.Second, nil)
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiterWithClock(state, limit, time.Minute, clock)
	require.NoError(t, err)
	statuses, err := status.NewStore(state, 24*time.Hour, nil)
	require.NoError(t, err)
	publisher := &fakePublisher{}

	pipeline, err := NewPipeline(auth.NewGate([]string{testKey, otherKey}), cache, limiter, publisher, statuses, nil, nil)
	require.NoError(t, err)
	pipeline.now = clock

	return &fixture{mr: mr, pipeline: pipeline, publisher: publisher, statuses: statuses, cache: cache}
}

func admission(body string) Admission {
	return Admission{APIKey: testKey, Type: domain.TypeEmail, CorrelationID: "cid-1", Body: []byte(body)}
}

func validBody(extra string) string {
	return `{"user_id":"` + testUser + `","template_id":"welcome","variables":{"name":"Ada"}` + extra + `}`
}

type acceptedEnvelope struct {
	Success bool         `json:"success"`
	Data    AcceptedData `json:"data"`
	Message string       `json:"message"`
}

func decodeAccepted(t *testing.T, body []byte) acceptedEnvelope {
	t.Helper()
	var env acceptedEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestPipelineAcceptsAndRecordsStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := context.Background()

	result, err := f.pipeline.Submit(ctx, admission(validBody("")))
	require.NoError(t, err)
	assert.Equal(t, 202, result.StatusCode)
	assert.False(t, result.Replayed)
	require.NotNil(t, result.RateLimit)
	assert.Equal(t, 99, result.RateLimit.Remaining)

	env := decodeAccepted(t, result.Body)
	assert.True(t, env.Success)
	assert.Equal(t, "Email notification queued successfully", env.Message)
	assert.Equal(t, domain.StatusQueued, env.Data.Status)
	assert.Equal(t, result.NotificationID, env.Data.NotificationID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC), env.Data.EstimatedDelivery)

	st, err := f.pipeline.Lookup(ctx, testKey, result.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, st.Status)
	assert.Equal(t, "cid-1", st.CorrelationID)

	require.Len(t, f.publisher.reqs, 1)
	assert.Equal(t, "cid-1", f.publisher.reqs[0].CorrelationID)
}

func TestPipelineWithoutKeyPublishesEveryTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	first, err := f.pipeline.Submit(context.Background(), admission(validBody("")))
	require.NoError(t, err)
	second, err := f.pipeline.Submit(context.Background(), admission(validBody("")))
	require.NoError(t, err)

	assert.NotEqual(t, first.NotificationID, second.NotificationID)
	assert.Equal(t, 2, f.publisher.Calls())
}

func TestPipelineIdempotentReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	body := validBody(`,"idempotency_key":"signup-1"`)

	first, err := f.pipeline.Submit(context.Background(), admission(body))
	require.NoError(t, err)

	// A replay neither publishes nor spends rate-limit budget.
	for i := 0; i < 3; i++ {
		replay, err := f.pipeline.Submit(context.Background(), admission(body))
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		assert.Equal(t, first.StatusCode, replay.StatusCode)
		assert.Equal(t, first.Body, replay.Body)
		assert.Nil(t, replay.RateLimit)
	}
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestPipelineConcurrentSameKeySinglePublish(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.publisher.gate = make(chan struct{})
	f.publisher.entered = make(chan struct{}, 1)
	body := validBody(`,"idempotency_key":"race-1"`)

	type outcome struct {
		result *Result
		err    error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		r, err := f.pipeline.Submit(context.Background(), admission(body))
		firstDone <- outcome{r, err}
	}()
	<-f.publisher.entered

	_, err := f.pipeline.Submit(context.Background(), admission(body))
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)

	close(f.publisher.gate)
	first := <-firstDone
	require.NoError(t, first.err)

	replay, err := f.pipeline.Submit(context.Background(), admission(body))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.result.Body, replay.Body)
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestPipelineRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Submit(context.Background(), admission(validBody("")))
		require.NoError(t, err)
	}

	_, err := f.pipeline.Submit(context.Background(), admission(validBody(`,"idempotency_key":"late"`)))
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 30*time.Second, exceeded.Decision.RetryAfter)
	assert.Equal(t, 2, f.publisher.Calls())

	outcome, _, err := f.cache.Begin(context.Background(), idempotencyScope(testKey, "late"))
	require.NoError(t, err)
	assert.Equal(t, idempotency.Reserved, outcome, "rate-limited request must release its key")
}

func TestPipelineValidationReleasesKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	_, err := f.pipeline.Submit(context.Background(), admission(`{"template_id":"t","idempotency_key":"k1"}`))
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "user_id", vErr.Field)

	result, err := f.pipeline.Submit(context.Background(), admission(validBody(`,"idempotency_key":"k1"`)))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestPipelineMalformedIdempotencyKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	_, err := f.pipeline.Submit(context.Background(), admission(validBody(`,"idempotency_key":"has space"`)))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.publisher.Calls())
	assert.Empty(t, f.mr.Keys(), "no state may be touched before the key is valid")
}

func TestPipelinePublishFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.publisher.err = errors.Join(domain.ErrUpstreamUnavailable, errors.New("broker down"))

	_, err := f.pipeline.Submit(context.Background(), admission(validBody(`,"idempotency_key":"p1"`)))
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	for _, k := range f.mr.Keys() {
		assert.NotContains(t, k, "notification:", "no status record after a failed publish")
		assert.NotEqual(t, "idempotency:"+idempotencyScope(testKey, "p1"), k, "failed publish must release the key")
	}
}

func TestPipelineAuthFailuresStopEarly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	in := admission(validBody(""))
	in.APIKey = ""
	_, err := f.pipeline.Submit(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)

	in.APIKey = "wrong"
	_, err = f.pipeline.Submit(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	assert.Equal(t, 0, f.publisher.Calls())
	assert.Empty(t, f.mr.Keys())

	_, err = f.pipeline.Lookup(context.Background(), "", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
}

func TestPipelineStatusRecordFailureStillAccepts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.pipeline.statuses = failingStatusStore{}

	result, err := f.pipeline.Submit(context.Background(), admission(validBody("")))
	require.NoError(t, err)
	assert.Equal(t, 202, result.StatusCode)
	assert.Equal(t, 1, f.publisher.Calls())
}

func TestPipelineStoreOutage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.mr.SetError("ERR connection lost")

	_, err := f.pipeline.Submit(context.Background(), admission(validBody("")))
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 0, f.publisher.Calls())
}

func TestPipelineIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	body := validBody(`,"idempotency_key":"shared-1"`)

	first, err := f.pipeline.Submit(context.Background(), admission(body))
	require.NoError(t, err)

	other := admission(body)
	other.APIKey = otherKey
	second, err := f.pipeline.Submit(context.Background(), other)
	require.NoError(t, err)

	assert.False(t, second.Replayed, "another caller's key must not replay this caller's response")
	assert.NotEqual(t, first.NotificationID, second.NotificationID)
	assert.NotEqual(t, first.Body, second.Body)
	assert.Equal(t, 2, f.publisher.Calls())

	replay, err := f.pipeline.Submit(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, second.Body, replay.Body)
}
