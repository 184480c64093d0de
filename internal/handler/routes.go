package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kweku-annan/api-gateway/internal/observability"
	"github.com/kweku-annan/api-gateway/internal/transport"
	"github.com/kweku-annan/api-gateway/internal/validator"
	"go.uber.org/zap"
)

type AppDeps struct {
	Pipeline NotificationPipeline
	Health   HealthChecker
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	AppName  string
}

// NewApp assembles the gateway's HTTP surface.
func NewApp(deps AppDeps) (*fiber.App, error) {
	if deps.Health == nil {
		return nil, fmt.Errorf("health checker is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               deps.AppName,
		BodyLimit:             validator.MaxBodyBytes,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(deps.Logger),
	})

	app.Use(recover.New())
	app.Use(CorrelationID())
	app.Use(RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		app.Use(deps.Metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	RegisterHealthRoutes(app, deps.Health)
	if err := RegisterNotificationRoutes(app, deps.Pipeline); err != nil {
		return nil, err
	}

	return app, nil
}
