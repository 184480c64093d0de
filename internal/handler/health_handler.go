package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/kweku-annan/api-gateway/internal/health"
	"github.com/kweku-annan/api-gateway/internal/transport"
)

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

func RegisterHealthRoutes(router fiber.Router, checker HealthChecker) {
	h := HealthHandler(checker)
	router.Get("/health", h)
	router.Get("/notifications/health", h)
}

// HealthHandler answers 200 while the gateway can serve requests, even if a
// dependency is down; 503 only when the gateway itself is unusable.
func HealthHandler(checker HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report := checker.Check(c.UserContext())

		statusCode := fiber.StatusOK
		if !report.Serving() {
			statusCode = fiber.StatusServiceUnavailable
		}

		env := transport.Success(report, "Health check successful")
		if statusCode != fiber.StatusOK {
			env.Success = false
			env.Message = "Service is unhealthy"
		}
		return c.Status(statusCode).JSON(env)
	}
}
