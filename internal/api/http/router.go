package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler
	Widget  *handlers.WidgetHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/webhook/platform", cfg.Webhook.Handle)

	widget := app.Group("/widget")
	widget.Post("/link-token", cfg.Widget.IssueLinkToken)
	widget.Post("/redirect", cfg.Widget.RecordRedirect)

	app.Get("/tickets/:id/events", cfg.Widget.ListEvents)
}
