package engine

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the declared endpoints under /api. Middleware, such
// as authentication, runs before every endpoint.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/:endpoint", h.List)
	api.Get("/:endpoint/:id", h.Get)
}
