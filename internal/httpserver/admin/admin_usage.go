package admin

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

type usageHandler struct {
	container *app.Container
}

func registerUsageRoutes(router fiber.Router, container *app.Container) {
	handler := &usageHandler{container: container}
	router.Get("/usage/:userID", handler.listForUser)
	router.Get("/quota/:userID", handler.quotaState)
}

type usageRecordResponse struct {
	ID               string `json:"id"`
	Model            string `json:"model"`
	SourceID         string `json:"source_id,omitempty"`
	PromptTokens     int32  `json:"prompt_tokens"`
	CompletionTokens int32  `json:"completion_tokens"`
	TotalTokens      int32  `json:"total_tokens"`
	Cost             string `json:"cost"`
	LatencyMS        int64  `json:"latency_ms"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

func (h *usageHandler) listForUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}

	limit := int32(100)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 || parsed > 1000 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}
		limit = int32(parsed)
	}

	records, err := h.container.Store.UsageForUser(userContext(c), userID, limit)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}

	out := make([]usageRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toUsageResponse(rec))
	}
	return c.JSON(fiber.Map{"usage": out})
}

func (h *usageHandler) quotaState(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}
	state, err := h.container.Store.QuotaState(userContext(c), userID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "quota lookup failed")
	}
	return c.JSON(fiber.Map{
		"user_id":           state.UserID.String(),
		"tier":              state.Tier,
		"tokens_used_today": state.TokensUsedToday,
		"tokens_used_month": state.TokensUsedMonth,
		"cost_today":        state.CostToday.String(),
		"cost_month":        state.CostMonth.String(),
		"day_reset_at":      state.DayResetAt.Unix(),
		"month_reset_at":    state.MonthResetAt.Unix(),
	})
}

func toUsageResponse(rec models.UsageRecord) usageRecordResponse {
	resp := usageRecordResponse{
		ID:               rec.ID.String(),
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		Cost:             rec.Cost.String(),
		LatencyMS:        rec.LatencyMS,
		Status:           rec.Status,
		ErrorMessage:     rec.ErrorMessage,
		CreatedAt:        rec.CreatedAt.Unix(),
	}
	if rec.SourceID != uuid.Nil {
		resp.SourceID = rec.SourceID.String()
	}
	return resp
}
