package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler renders errors that escape route handlers: unmatched routes,
// body limits, panics recovered upstream and anything unclassified.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		apiErr := classify(err)

		log := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", apiErr.Status),
			zap.Error(err),
		)
		if apiErr.Status >= fiber.StatusInternalServerError {
			log.Error("request error")
		} else {
			log.Debug("request rejected")
		}

		return WriteError(c, apiErr)
	}
}

func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return NewAPIError(fiber.StatusNotFound, "not_found", "The requested endpoint does not exist")
		case fiber.StatusMethodNotAllowed:
			return NewAPIError(fiber.StatusMethodNotAllowed, "method_not_allowed", "The method is not allowed for this endpoint")
		case fiber.StatusRequestEntityTooLarge:
			return NewAPIError(fiber.StatusRequestEntityTooLarge, "validation_error", "Request body is too large")
		}
		if fiberErr.Code < fiber.StatusInternalServerError {
			return NewAPIError(fiberErr.Code, "bad_request", fiberErr.Message)
		}
	}

	return NewAPIError(fiber.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
