package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

type credentialHandler struct {
	container *app.Container
}

func registerCredentialRoutes(router fiber.Router, container *app.Container) {
	handler := &credentialHandler{container: container}
	router.Get("/sources/:id/credentials", handler.list)
	router.Post("/sources/:id/credentials", handler.create)
	router.Post("/credentials/:id/activate", handler.activate)
	router.Post("/credentials/:id/deactivate", handler.deactivate)
}

type credentialResponse struct {
	ID                string `json:"id"`
	SourceID          string `json:"source_id"`
	SecretHint        string `json:"secret_hint"`
	IsActive          bool   `json:"is_active"`
	ConsecutiveErrors int32  `json:"consecutive_errors"`
	ErrorCount        int64  `json:"error_count"`
	TotalRequests     int64  `json:"total_requests"`
	TotalTokensUsed   int64  `json:"total_tokens_used"`
	LastError         string `json:"last_error,omitempty"`
	LastUsedAt        *int64 `json:"last_used_at,omitempty"`
}

func (h *credentialHandler) list(c *fiber.Ctx) error {
	sourceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid source id")
	}
	creds, err := h.container.Store.ListCredentials(userContext(c), sourceID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "credential lookup failed")
	}
	out := make([]credentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, toCredentialResponse(cred))
	}
	return c.JSON(fiber.Map{"credentials": out})
}

func (h *credentialHandler) create(c *fiber.Ctx) error {
	sourceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid source id")
	}
	var body struct {
		Secret string `json:"secret"`
	}
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	secret := strings.TrimSpace(body.Secret)
	if secret == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "secret is required")
	}
	if _, err := h.container.Store.GetSource(userContext(c), sourceID); err != nil {
		return httputil.WriteError(c, fiber.StatusNotFound, "source not found")
	}
	cred, err := h.container.Store.InsertCredential(userContext(c), sourceID, secret)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save credential")
	}
	return c.Status(fiber.StatusCreated).JSON(toCredentialResponse(cred))
}

func (h *credentialHandler) activate(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *credentialHandler) deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *credentialHandler) setActive(c *fiber.Ctx, active bool) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid credential id")
	}
	if err := h.container.Store.SetActive(userContext(c), id, active); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to update credential")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// toCredentialResponse never exposes the stored secret, only its tail for
// operator recognition.
func toCredentialResponse(cred models.Credential) credentialResponse {
	hint := cred.Secret
	if len(hint) > 4 {
		hint = "..." + hint[len(hint)-4:]
	}
	resp := credentialResponse{
		ID:                cred.ID.String(),
		SourceID:          cred.SourceID.String(),
		SecretHint:        hint,
		IsActive:          cred.IsActive,
		ConsecutiveErrors: cred.ConsecutiveErrors,
		ErrorCount:        cred.ErrorCount,
		TotalRequests:     cred.TotalRequests,
		TotalTokensUsed:   cred.TotalTokensUsed,
		LastError:         cred.LastError,
	}
	if cred.LastUsedAt != nil {
		ts := cred.LastUsedAt.Unix()
		resp.LastUsedAt = &ts
	}
	return resp
}
