package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
)

// Register wires up all /admin routes (auth + protected APIs).
func Register(app *fiber.App, container *app.Container) {
	authGroup := app.Group("/admin/auth")
	registerAuthRoutes(authGroup, container)

	protected := app.Group("/admin", adminAuth(container))
	registerSourceRoutes(protected, container)
	registerCredentialRoutes(protected, container)
	registerKeyRoutes(protected, container)
	registerUsageRoutes(protected, container)
	registerPresetRoutes(protected, container)
}
