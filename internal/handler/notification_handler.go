package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kweku-annan/api-gateway/internal/domain"
	"github.com/kweku-annan/api-gateway/internal/ratelimit"
	"github.com/kweku-annan/api-gateway/internal/service"
	"github.com/kweku-annan/api-gateway/internal/transport"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"

	inFlightRetryAfterSeconds = 1
)

type NotificationPipeline interface {
	Submit(ctx context.Context, in service.Admission) (*service.Result, error)
	Lookup(ctx context.Context, apiKey, notificationID string) (*domain.NotificationStatus, error)
}

type NotificationHandler struct {
	pipeline NotificationPipeline
}

func NewNotificationHandler(pipeline NotificationPipeline) (*NotificationHandler, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("notification pipeline is required")
	}
	return &NotificationHandler{pipeline: pipeline}, nil
}

func RegisterNotificationRoutes(router fiber.Router, pipeline NotificationPipeline) error {
	h, err := NewNotificationHandler(pipeline)
	if err != nil {
		return err
	}

	notifications := router.Group("/notifications")
	notifications.Post("/email", h.submit(domain.TypeEmail))
	notifications.Post("/push", h.submit(domain.TypePush))
	notifications.Get("/status/:notification_id", h.GetStatus)

	return nil
}

func (h *NotificationHandler) submit(t domain.Type) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := h.pipeline.Submit(c.UserContext(), service.Admission{
			APIKey:        c.Get(HeaderAPIKey),
			Type:          t,
			CorrelationID: correlationIDFrom(c),
			Body:          append([]byte(nil), c.Body()...),
		})
		if err != nil {
			return transport.WriteError(c, toAPIError(c, err))
		}

		if result.RateLimit != nil {
			setRateLimitHeaders(c, *result.RateLimit)
		}
		if result.Replayed {
			c.Set(HeaderIdempotentReply, "true")
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(result.StatusCode).Send(result.Body)
	}
}

func (h *NotificationHandler) GetStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("notification_id"))
	st, err := h.pipeline.Lookup(c.UserContext(), c.Get(HeaderAPIKey), id)
	if err != nil {
		return transport.WriteError(c, toAPIError(c, err))
	}

	return c.Status(fiber.StatusOK).JSON(transport.Success(st, "Notification status retrieved successfully"))
}

func setRateLimitHeaders(c *fiber.Ctx, d ratelimit.Decision) {
	c.Set(headerRateLimitLimit, strconv.Itoa(d.Limit))
	c.Set(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Set(headerRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func toAPIError(c *fiber.Ctx, err error) *transport.APIError {
	var (
		exceeded *ratelimit.ExceededError
		invalid  *domain.ValidationError
		apiErr   *transport.APIError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, domain.ErrMissingAPIKey):
		return withCause(transport.NewAPIError(fiber.StatusUnauthorized, "missing_api_key",
			"API key is required. Please provide X-API-Key header."), err)
	case errors.Is(err, domain.ErrInvalidAPIKey):
		return withCause(transport.NewAPIError(fiber.StatusUnauthorized, "invalid_api_key",
			"Invalid API key provided"), err)
	case errors.Is(err, domain.ErrAuthNotConfigured):
		return withCause(transport.NewAPIError(fiber.StatusInternalServerError, "configuration_error",
			"API authentication is not properly configured"), err)
	case errors.As(err, &invalid):
		return withCause(transport.NewAPIError(fiber.StatusBadRequest, "validation_error",
			"Validation failed: "+invalid.Error()), err)
	case errors.Is(err, domain.ErrValidation):
		return withCause(transport.NewAPIError(fiber.StatusBadRequest, "validation_error",
			"Validation failed"), err)
	case errors.As(err, &exceeded):
		setRateLimitHeaders(c, exceeded.Decision)
		apiErr = transport.NewAPIError(fiber.StatusTooManyRequests, "rate_limit_exceeded",
			fmt.Sprintf("Rate limit exceeded. Limit: %d requests per minute. Try again in %d seconds.",
				exceeded.Decision.Limit, exceeded.RetryAfterSeconds()))
		apiErr.RetryAfter = exceeded.RetryAfterSeconds()
		return withCause(apiErr, err)
	case errors.Is(err, domain.ErrRequestInFlight):
		apiErr = transport.NewAPIError(fiber.StatusConflict, "request_in_progress",
			"A request with this idempotency key is already being processed")
		apiErr.RetryAfter = inFlightRetryAfterSeconds
		return withCause(apiErr, err)
	case errors.Is(err, domain.ErrNotFound):
		return withCause(transport.NewAPIError(fiber.StatusNotFound, "not_found",
			"Notification not found"), err)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return withCause(transport.NewAPIError(fiber.StatusServiceUnavailable, "service_unavailable",
			"Notification service is temporarily unavailable"), err)
	default:
		return withCause(transport.NewAPIError(fiber.StatusInternalServerError, "internal_error",
			"An unexpected error occurred"), err)
	}
}

func withCause(e *transport.APIError, cause error) *transport.APIError {
	e.Cause = cause
	return e
}
