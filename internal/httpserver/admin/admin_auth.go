package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
)

// registerAuthRoutes exposes session token issuance. An admin API key is
// exchanged for a short-lived JWT so interactive tooling does not carry the
// long-lived key around.
func registerAuthRoutes(router fiber.Router, container *app.Container) {
	router.Post("/token", func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "admin api key required")
		}
		key, err := container.Auth.Authenticate(userContext(c), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid api key")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, "api key verification failed")
		}
		if !key.IsAdmin {
			return httputil.WriteError(c, fiber.StatusForbidden, "admin privileges required")
		}

		session, expiresAt, err := container.Tokens.Generate(key.UserID, true)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to issue session token")
		}
		return c.JSON(fiber.Map{
			"access_token": session,
			"token_type":   "Bearer",
			"expires_at":   expiresAt.Unix(),
		})
	})
}
