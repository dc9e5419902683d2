package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-pipeline/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health   *handlers.HealthHandler
	Webhooks *handlers.WebhooksHandler
	Tickets  *handlers.TicketsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/stats", cfg.Health.Stats)

	webhooks := app.Group("/webhooks")
	webhooks.Post("/email", cfg.Webhooks.Email)
	webhooks.Post("/whatsapp", cfg.Webhooks.WhatsApp)
	webhooks.Post("/webform", cfg.Webhooks.Webform)

	app.Post("/tickets/:id/resolve", cfg.Tickets.Resolve)
}
