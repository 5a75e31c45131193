package public

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

type openAIHandler struct {
	container *app.Container
	executor  *executor.Executor
}

// openAIChatRequest mirrors the OpenAI chat completions wire shape. Stop is
// kept raw because callers send either a string or an array of strings.
type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    *float32            `json:"temperature,omitempty"`
	TopP           *float32            `json:"top_p,omitempty"`
	MaxTokens      *int32              `json:"max_tokens,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	StopRaw        json.RawMessage     `json:"stop,omitempty"`
	User           string              `json:"user,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *models.Usage  `json:"usage,omitempty"`
}

type openAIChoice struct {
	Index        int                `json:"index"`
	Message      *openAIChatMessage `json:"message,omitempty"`
	Delta        *openAIChatMessage `json:"delta,omitempty"`
	FinishReason *string            `json:"finish_reason"`
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (r openAIChatRequest) stopSequences() ([]string, error) {
	if len(r.StopRaw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(r.StopRaw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(r.StopRaw, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("stop must be a string or an array of strings")
}

func (r openAIChatRequest) toChatRequest() (models.ChatRequest, error) {
	stop, err := r.stopSequences()
	if err != nil {
		return models.ChatRequest{}, err
	}
	msgs := make([]models.ChatMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.ChatMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return models.ChatRequest{
		Model:          strings.TrimSpace(r.Model),
		Messages:       msgs,
		Temperature:    r.Temperature,
		TopP:           r.TopP,
		MaxTokens:      r.MaxTokens,
		Stream:         r.Stream,
		Stop:           stop,
		ConversationID: strings.TrimSpace(r.ConversationID),
	}, nil
}

func (h *openAIHandler) listModels(c *fiber.Ctx) error {
	entries, err := h.container.Store.ListCatalog(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "catalog lookup failed")
	}

	list := make([]openAIModel, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsAvailable {
			continue
		}
		list = append(list, openAIModel{
			ID:      entry.ModelID,
			Object:  "model",
			Created: entry.SyncedAt.Unix(),
			OwnedBy: "modelrelay",
		})
	}

	return c.JSON(openAIModelList{
		Object: "list",
		Data:   list,
	})
}

func (h *openAIHandler) chatCompletions(c *fiber.Ctx) error {
	ctx := userContext(c)
	rc, ok := requestctx.FromContext(ctx)
	if !ok || rc == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "request context missing")
	}

	var body openAIChatRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(body.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "messages are required")
	}

	req, err := body.toChatRequest()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	limitKey := rc.APIKeyID.String()
	if err := h.container.RateLimiter.Allow(ctx, limitKey, h.container.DefaultLimit); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}

	if req.Stream {
		return h.streamCompletion(c, rc, req, limitKey)
	}

	defer h.container.RateLimiter.Release(ctx, limitKey, h.container.DefaultLimit)

	idempotencyKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if idempotencyKey != "" && h.container.ResponseCache != nil {
		if data, ok := h.container.ResponseCache.Get(ctx, idempotencyKey); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		}
	}

	resp, err := h.executor.Chat(ctx, rc.UserID, req)
	if err != nil {
		return writeRelayError(c, err)
	}

	payload, err := json.Marshal(convertChatResponse(resp))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to encode response")
	}
	if idempotencyKey != "" && h.container.ResponseCache != nil {
		h.container.ResponseCache.Set(ctx, idempotencyKey, payload)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload)
}

func (h *openAIHandler) streamCompletion(c *fiber.Ctx, rc *requestctx.Context, req models.ChatRequest, limitKey string) error {
	ctx := userContext(c)
	events, err := h.executor.ChatStream(ctx, rc.UserID, req)
	if err != nil {
		h.container.RateLimiter.Release(ctx, limitKey, h.container.DefaultLimit)
		return writeRelayError(c, err)
	}

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	model := req.Model

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.container.RateLimiter.Release(ctx, limitKey, h.container.DefaultLimit)

		for event := range events {
			switch event.Type {
			case models.EventContent:
				chunk := openAIChatResponse{
					ID:      completionID,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   model,
					Choices: []openAIChoice{{
						Delta: &openAIChatMessage{Role: "assistant", Content: event.Content},
					}},
				}
				if !writeSSE(w, chunk) {
					return
				}
			case models.EventDone:
				reason := event.FinishReason
				if reason == "" {
					reason = "stop"
				}
				chunk := openAIChatResponse{
					ID:      completionID,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   model,
					Choices: []openAIChoice{{
						Delta:        &openAIChatMessage{},
						FinishReason: &reason,
					}},
					Usage: event.Usage,
				}
				if !writeSSE(w, chunk) {
					return
				}
				if _, err := w.WriteString("data: [DONE]\n\n"); err != nil {
					return
				}
				_ = w.Flush()
				return
			case models.EventError:
				if !writeSSE(w, fiber.Map{"error": event.Error}) {
					return
				}
				return
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode stream event", "error", err)
		return false
	}
	if _, err := w.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	return true
}

func convertChatResponse(resp models.ChatResponse) openAIChatResponse {
	reason := resp.FinishReason
	if reason == "" {
		reason = "stop"
	}
	usage := resp.Usage
	return openAIChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created.Unix(),
		Model:   resp.Model,
		Choices: []openAIChoice{{
			Message:      &openAIChatMessage{Role: "assistant", Content: resp.Content},
			FinishReason: &reason,
		}},
		Usage: &usage,
	}
}

// writeRelayError maps the gateway error taxonomy onto HTTP statuses.
func writeRelayError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gwerr.ErrAuth):
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing or invalid caller identity")
	case errors.Is(err, gwerr.ErrQuotaExceeded):
		return httputil.WriteError(c, fiber.StatusTooManyRequests, "quota exceeded")
	case errors.Is(err, gwerr.ErrModelUnavailable):
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "no backend available for model")
	}
	if pe, ok := gwerr.AsProvider(err); ok {
		return httputil.WriteError(c, pe.Status, pe.Message)
	}
	return httputil.WriteError(c, fiber.StatusBadGateway, "upstream request failed")
}
