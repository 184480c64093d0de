package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"go.uber.org/zap"
)

const (
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderAPIKey          = "X-API-Key"
	HeaderIdempotentReply = "X-Idempotent-Replay"

	maxCorrelationIDLength = 128
	correlationLocal       = "correlationId"
)

// CorrelationID echoes the caller's X-Correlation-ID or generates one, and
// carries it on the request's user context for logging.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(HeaderCorrelationID))
		if id == "" || len(id) > maxCorrelationIDLength {
			id = uuid.NewString()
		}

		c.Locals(correlationLocal, id)
		c.Set(HeaderCorrelationID, id)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}

func correlationIDFrom(c *fiber.Ctx) string {
	if id, ok := c.Locals(correlationLocal).(string); ok {
		return id
	}
	return ""
}

// RequestLogger logs one line per request once the response status is known.
func RequestLogger(logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		observability.WithContextLogger(logger, c.UserContext()).Info("request completed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}
