// Package google implements the Google-style adapter:
// POST /models/{id}:generateContent (or :streamGenerateContent with alt=sse)
// with key-in-query auth and contents[].parts[].text message shape.
package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Options configure the adapter.
type Options struct {
	APIKey           string
	BaseURL          string
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
		return nil, errors.New("google: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "google"
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
	endpoint := a.modelURL(req.Model, "generateContent", nil)
	payload := a.buildGenerateRequest(req)

	resp, err := a.post(ctx, endpoint, payload)
	if err != nil {
		return models.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return models.ChatResponse{}, fmt.Errorf("google decode response: %w", err)
	}
	candidate := gen.FirstCandidate()
	if candidate == nil {
		return models.ChatResponse{}, gwerr.NewProviderError(a.provider, http.StatusBadGateway, "response missing candidates")
	}
	out := models.ChatResponse{
		ID:           uuid.NewString(),
		Created:      time.Now().UTC(),
		Model:        req.Model,
		Content:      candidate.Content.Text(),
		FinishReason: mapFinishReason(candidate.FinishReason),
	}
	if gen.UsageMetadata != nil {
		out.Usage = gen.UsageMetadata.toUsage()
	}
	return out, nil
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	endpoint := a.modelURL(req.Model, "streamGenerateContent", url.Values{"alt": {"sse"}})
	payload := a.buildGenerateRequest(req)

	resp, err := a.post(ctx, endpoint, payload)
	if err != nil {
		return nil, nil, err
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var usage *models.Usage
		finishReason := ""

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				// The last SSE frame carries finishReason, so EOF after it is
				// the normal terminator. EOF before it is a broken stream.
				if errors.Is(err, io.EOF) && finishReason != "" {
					_ = yield(models.ChatChunk{FinishReason: finishReason, Usage: usage})
					return
				}
				_ = yield(models.ChatChunk{Err: fmt.Errorf("google stream read: %w", err)})
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			var gen generateResponse
			if err := json.Unmarshal([]byte(data), &gen); err != nil {
				continue
			}
			if gen.UsageMetadata != nil {
				u := gen.UsageMetadata.toUsage()
				usage = &u
			}
			candidate := gen.FirstCandidate()
			if candidate == nil {
				continue
			}
			if candidate.FinishReason != "" {
				finishReason = mapFinishReason(candidate.FinishReason)
			}
			if text := candidate.Content.Text(); text != "" {
				if !yield(models.ChatChunk{Delta: text}) {
					return
				}
			}
		}
	}

	chunks, cancel := streamutil.Forward(ctx, resp.Body.Close, forward)
	return chunks, cancel, nil
}

// ListModels pulls the model catalog, including token limits.
func (a *Adapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s&pageSize=1000", a.baseURL, url.QueryEscape(a.opts.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, a.decodeAPIError(resp)
	}
	var payload struct {
		Models []struct {
			Name             string `json:"name"`
			DisplayName      string `json:"displayName"`
			InputTokenLimit  int32  `json:"inputTokenLimit"`
			OutputTokenLimit int32  `json:"outputTokenLimit"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("google decode models: %w", err)
	}
	out := make([]models.RemoteModel, 0, len(payload.Models))
	for _, m := range payload.Models {
		out = append(out, models.RemoteModel{
			ID:            strings.TrimPrefix(m.Name, "models/"),
			DisplayName:   m.DisplayName,
			OwnedBy:       "google",
			ContextWindow: m.InputTokenLimit,
			MaxOutput:     m.OutputTokenLimit,
		})
	}
	return out, nil
}

func (a *Adapter) modelURL(model, verb string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", a.opts.APIKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", a.baseURL, url.PathEscape(model), verb, query.Encode())
}

func (a *Adapter) post(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, a.decodeAPIError(resp)
	}
	return resp, nil
}

func (a *Adapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerr.TimeoutError{Provider: a.provider, Phase: "connect"}
	}
	return err
}

func (a *Adapter) decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return &gwerr.ProviderError{
			Status:   resp.StatusCode,
			Code:     payload.Error.Status,
			Type:     "api_error",
			Message:  payload.Error.Message,
			Provider: a.provider,
		}
	}
	return gwerr.NewProviderError(a.provider, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (a *Adapter) buildGenerateRequest(req models.ChatRequest) generateRequest {
	out := generateRequest{}
	var systemParts []part

	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			// System prompts live in systemInstruction, never in contents.
			systemParts = append(systemParts, part{Text: msg.Content})
		case "assistant":
			out.Contents = append(out.Contents, contentEntry{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, contentEntry{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &contentEntry{Parts: systemParts}
	}

	cfg := &generationConfig{MaxOutputTokens: a.opts.DefaultMaxTokens}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	out.GenerationConfig = cfg
	return out
}

func mapFinishReason(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}
