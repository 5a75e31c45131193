package public

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

const authBearerPrefix = "bearer "

// apiKeyAuth validates the Authorization bearer token and injects request metadata.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization header required")
		}

		if !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "bearer token required")
		}

		token := strings.TrimSpace(raw[len(authBearerPrefix):])
		key, err := container.Auth.Authenticate(userContext(c), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid api key")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, "api key verification failed")
		}

		rc := &requestctx.Context{
			UserID:   key.UserID,
			APIKeyID: key.ID,
			Tier:     key.Tier,
			IsAdmin:  key.IsAdmin,
		}

		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))

		return c.Next()
	}
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return c.Context()
}
