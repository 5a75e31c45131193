package admin

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
)

type adminContextKey string

const (
	adminAuthHeaderPrefix = "bearer "
	adminContextUserIDKey = adminContextKey("modelrelay/admin-user-id")
)

// adminAuth accepts either an admin-flagged API key or a session token with
// the admin claim.
func adminAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "admin authorization required")
		}

		userID, isAdmin, err := resolveAdminIdentity(userContext(c), container, token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		if !isAdmin {
			return httputil.WriteError(c, fiber.StatusForbidden, "admin privileges required")
		}

		ctx := context.WithValue(userContext(c), adminContextUserIDKey, userID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func resolveAdminIdentity(ctx context.Context, container *app.Container, token string) (uuid.UUID, bool, error) {
	if _, _, err := auth.ParseToken(token); err == nil {
		key, err := container.Auth.Authenticate(ctx, token)
		if err != nil {
			return uuid.Nil, false, err
		}
		return key.UserID, key.IsAdmin, nil
	}

	claims, err := container.Tokens.Verify(token)
	if err != nil {
		return uuid.Nil, false, err
	}
	return claims.UserID, claims.IsAdmin, nil
}

func bearerToken(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if raw == "" || !strings.HasPrefix(strings.ToLower(raw), adminAuthHeaderPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(adminAuthHeaderPrefix):])
}

func adminUserID(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(adminContextUserIDKey).(uuid.UUID)
	return id, ok
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return c.Context()
}
