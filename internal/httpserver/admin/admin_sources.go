package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

type sourceHandler struct {
	container *app.Container
}

func registerSourceRoutes(router fiber.Router, container *app.Container) {
	handler := &sourceHandler{container: container}
	router.Get("/sources", handler.list)
	router.Post("/sources", handler.upsert)
	router.Post("/sync", handler.triggerSync)
}

type sourceRequest struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Standard     string            `json:"standard"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Region       string            `json:"region,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	Priority     int               `json:"priority"`
	Enabled      *bool             `json:"enabled,omitempty"`
	InputPrice   string            `json:"input_price,omitempty"`
	OutputPrice  string            `json:"output_price,omitempty"`
	PriceUnit    string            `json:"price_unit,omitempty"`
}

type sourceResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Standard     string            `json:"standard"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Region       string            `json:"region,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	Priority     int               `json:"priority"`
	Enabled      bool              `json:"enabled"`
	InputPrice   string            `json:"input_price"`
	OutputPrice  string            `json:"output_price"`
	PriceUnit    string            `json:"price_unit"`
	LastSyncAt   *int64            `json:"last_sync_at,omitempty"`
}

func (h *sourceHandler) list(c *fiber.Ctx) error {
	sources, err := h.container.Store.ListSources(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "source lookup failed")
	}
	out := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, toSourceResponse(src))
	}
	return c.JSON(fiber.Map{"sources": out})
}

func (h *sourceHandler) upsert(c *fiber.Ctx) error {
	var body sourceRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(body.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}
	if strings.TrimSpace(body.Standard) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "standard is required")
	}

	src := models.ModelSource{
		Name:         strings.TrimSpace(body.Name),
		Kind:         strings.TrimSpace(body.Kind),
		Standard:     strings.TrimSpace(body.Standard),
		Endpoint:     strings.TrimSpace(body.Endpoint),
		Region:       strings.TrimSpace(body.Region),
		ExtraHeaders: body.ExtraHeaders,
		Priority:     body.Priority,
		Enabled:      true,
		PriceUnit:    body.PriceUnit,
	}
	if body.ID != "" {
		id, err := uuid.Parse(body.ID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid source id")
		}
		src.ID = id
	}
	if body.Enabled != nil {
		src.Enabled = *body.Enabled
	}
	if body.InputPrice != "" {
		price, err := decimal.NewFromString(body.InputPrice)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid input_price")
		}
		src.InputPrice = price
	}
	if body.OutputPrice != "" {
		price, err := decimal.NewFromString(body.OutputPrice)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid output_price")
		}
		src.OutputPrice = price
	}

	saved, err := h.container.Store.UpsertSource(userContext(c), src)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to save source")
	}
	return c.Status(fiber.StatusOK).JSON(toSourceResponse(saved))
}

// triggerSync refreshes every aggregator catalog immediately instead of
// waiting for the next scheduled pass.
func (h *sourceHandler) triggerSync(c *fiber.Ctx) error {
	if err := h.container.Sync.SyncAll(userContext(c)); err != nil {
		return httputil.WriteError(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func toSourceResponse(src models.ModelSource) sourceResponse {
	resp := sourceResponse{
		ID:           src.ID.String(),
		Name:         src.Name,
		Kind:         src.Kind,
		Standard:     src.Standard,
		Endpoint:     src.Endpoint,
		Region:       src.Region,
		ExtraHeaders: src.ExtraHeaders,
		Priority:     src.Priority,
		Enabled:      src.Enabled,
		InputPrice:   src.InputPrice.String(),
		OutputPrice:  src.OutputPrice.String(),
		PriceUnit:    src.PriceUnit,
	}
	if src.LastSyncAt != nil {
		ts := src.LastSyncAt.Unix()
		resp.LastSyncAt = &ts
	}
	return resp
}
