package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
)

type keyHandler struct {
	container *app.Container
}

func registerKeyRoutes(router fiber.Router, container *app.Container) {
	handler := &keyHandler{container: container}
	router.Post("/api-keys", handler.create)
	router.Post("/users/:id/tier", handler.setTier)
}

type createKeyRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Name    string `json:"name"`
	Tier    string `json:"tier,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

func (h *keyHandler) create(c *fiber.Ctx) error {
	var body createKeyRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}

	userID := uuid.New()
	if body.UserID != "" {
		parsed, err := uuid.Parse(body.UserID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
		}
		userID = parsed
	}
	tier := strings.TrimSpace(body.Tier)
	if tier == "" {
		tier = "default"
	}

	key, token, err := h.container.Auth.CreateKey(userContext(c), userID, strings.TrimSpace(body.Name), tier, body.IsAdmin)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to create api key")
	}

	// The plaintext token is returned exactly once; only the hash survives.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       key.ID.String(),
		"user_id":  key.UserID.String(),
		"name":     key.Name,
		"tier":     key.Tier,
		"is_admin": key.IsAdmin,
		"token":    token,
	})
}

func (h *keyHandler) setTier(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}
	var body struct {
		Tier string `json:"tier"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	tier := strings.TrimSpace(body.Tier)
	if tier == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "tier is required")
	}
	if err := h.container.Store.SetTier(userContext(c), userID, tier); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to update tier")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
