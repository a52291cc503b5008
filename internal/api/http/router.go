package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/identity-import/internal/api/http/handlers"
	"github.com/spec-kit/identity-import/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Import         *handlers.ImportHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	importGroup := app.Group("/bulk-import", cfg.AuthMiddleware.Handle)
	importGroup.Post("/users", cfg.Import.AddUsers)
	importGroup.Get("/users", cfg.Import.ListUsers)
	importGroup.Get("/users/count", cfg.Import.Count)
	importGroup.Post("/users/:id/requeue", cfg.Import.Requeue)
}
