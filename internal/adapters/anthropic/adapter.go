// Package anthropic implements the Anthropic-style adapter: POST /v1/messages
// with a dedicated api-key header and the system prompt relocated out of the
// message array.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
)

// Options configure the adapter.
type Options struct {
	APIKey           string
	BaseURL          string
	Version          string
	ProviderName     string
	DefaultMaxTokens int32
	HTTPClient       *http.Client
}

type Adapter struct {
	client   *http.Client
	baseURL  string
	provider string
	opts     Options
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = defaultVersion
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "anthropic"
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 4096
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		}
	}
	return &Adapter{
		client:   opts.HTTPClient,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		provider: opts.ProviderName,
		opts:     opts,
	}, nil
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	payload := buildMessageRequest(req, a.opts.DefaultMaxTokens, false)
	var resp messageResponse
	if err := a.postJSON(ctx, "/v1/messages", payload, &resp); err != nil {
		return models.ChatResponse{}, err
	}
	return models.ChatResponse{
		ID:           resp.ID,
		Created:      time.Now().UTC(),
		Model:        req.Model,
		Content:      resp.JoinText(),
		FinishReason: mapStopReason(resp.StopReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	payload := buildMessageRequest(req, a.opts.DefaultMaxTokens, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	a.setAuth(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, a.transportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, nil, a.decodeAPIError(resp)
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		finishReason := ""
		var usage usagePayload

		emitTerminal := func() {
			chunk := models.ChatChunk{FinishReason: mapStopReason(finishReason)}
			if usage.InputTokens > 0 || usage.OutputTokens > 0 {
				chunk.Usage = &models.Usage{
					PromptTokens:     usage.InputTokens,
					CompletionTokens: usage.OutputTokens,
					TotalTokens:      usage.InputTokens + usage.OutputTokens,
				}
			}
			_ = yield(chunk)
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				// The protocol terminates with message_stop; any read error
				// before that, EOF included, is a broken stream.
				_ = yield(models.ChatChunk{Err: fmt.Errorf("anthropic stream read: %w", err)})
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || line == "event: ping" {
				continue
			}
			if line == "data: [DONE]" {
				emitTerminal()
				return
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			var evt streamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			switch evt.Type {
			case "message_start":
				if evt.Message != nil && evt.Message.Usage.InputTokens > 0 {
					usage.InputTokens = evt.Message.Usage.InputTokens
				}
			case "content_block_delta":
				text := evt.DeltaText()
				if text == "" {
					continue
				}
				if !yield(models.ChatChunk{Delta: text}) {
					return
				}
			case "message_delta":
				if reason := evt.StopReason(); reason != "" {
					finishReason = reason
				}
				if evt.Usage.OutputTokens > 0 {
					usage.OutputTokens = evt.Usage.OutputTokens
				}
				if evt.Usage.InputTokens > 0 {
					usage.InputTokens = evt.Usage.InputTokens
				}
			case "message_stop":
				emitTerminal()
				return
			case "error":
				_ = yield(models.ChatChunk{Err: evt.ProviderError(a.provider)})
				return
			}
		}
	}

	cancel := func() error {
		resp.Body.Close()
		return nil
	}
	chunks, closeFn := streamutil.Forward(ctx, cancel, forward)
	return chunks, closeFn, nil
}

// ListModels pulls the catalog from /v1/models.
func (a *Adapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models?limit=1000", nil)
	if err != nil {
		return nil, err
	}
	a.setAuth(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, a.decodeAPIError(resp)
	}
	var payload struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("anthropic decode models: %w", err)
	}
	out := make([]models.RemoteModel, 0, len(payload.Data))
	for _, m := range payload.Data {
		out = append(out, models.RemoteModel{ID: m.ID, DisplayName: m.DisplayName, OwnedBy: "anthropic"})
	}
	return out, nil
}

func (a *Adapter) setAuth(req *http.Request) {
	req.Header.Set("x-api-key", a.opts.APIKey)
	req.Header.Set("anthropic-version", a.opts.Version)
}

func (a *Adapter) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	a.setAuth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return a.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("anthropic decode response: %w", err)
	}
	return nil
}

func (a *Adapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerr.TimeoutError{Provider: a.provider, Phase: "connect"}
	}
	return err
}

// decodeAPIError maps {"error":{"type","message"}} bodies into the canonical
// shape; anything unparseable falls back to a generic provider error.
func (a *Adapter) decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return &gwerr.ProviderError{
			Status:   resp.StatusCode,
			Code:     payload.Error.Type,
			Type:     payload.Error.Type,
			Message:  payload.Error.Message,
			Provider: a.provider,
		}
	}
	return gwerr.NewProviderError(a.provider, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildMessageRequest(req models.ChatRequest, defaultMax int32, stream bool) messageRequest {
	var systemPrompts []string
	msgs := make([]message, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			systemPrompts = append(systemPrompts, msg.Content)
		case "assistant":
			msgs = append(msgs, message{Role: "assistant", Content: []content{{Type: "text", Text: msg.Content}}})
		default:
			msgs = append(msgs, message{Role: "user", Content: []content{{Type: "text", Text: msg.Content}}})
		}
	}

	maxTokens := defaultMax
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := messageRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if len(systemPrompts) > 0 {
		body.System = strings.Join(systemPrompts, "\n")
	}
	if req.Temperature != nil {
		body.Temperature = float64(*req.Temperature)
	}
	if req.TopP != nil {
		body.TopP = float64(*req.TopP)
	}
	if len(req.Stop) > 0 {
		body.StopSequences = append(body.StopSequences, req.Stop...)
	}
	return body
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
