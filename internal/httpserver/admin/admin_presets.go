package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

type presetHandler struct {
	container *app.Container
}

func registerPresetRoutes(router fiber.Router, container *app.Container) {
	handler := &presetHandler{container: container}
	router.Put("/presets", handler.save)
}

type presetRequest struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	MaxTokens      *int32   `json:"max_tokens,omitempty"`
}

func (h *presetHandler) save(c *fiber.Ctx) error {
	var body presetRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	convID := strings.TrimSpace(body.ConversationID)
	if convID == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "conversation_id is required")
	}

	preset := models.ConversationPreset{
		ConversationID: convID,
		Model:          strings.TrimSpace(body.Model),
		SystemPrompt:   body.SystemPrompt,
		Temperature:    body.Temperature,
		MaxTokens:      body.MaxTokens,
	}
	if body.UserID != "" {
		userID, err := uuid.Parse(body.UserID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
		}
		preset.UserID = userID
	} else if id, ok := adminUserID(userContext(c)); ok {
		preset.UserID = id
	}

	if err := h.container.Store.SaveConversationPreset(userContext(c), preset); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save preset")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
