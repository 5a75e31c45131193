// Package openai implements the OpenAI-style adapter on top of the official
// SDK. It also serves any OpenAI-compatible endpoint via a base URL override.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

// Options configure the adapter.
type Options struct {
	APIKey           string
	BaseURL          string
	ProviderName     string
	DefaultMaxTokens int32
	RequestTimeout   time.Duration
	Extra            []option.RequestOption
}

// Adapter wraps the official OpenAI SDK.
type Adapter struct {
	client   *openai.Client
	provider string
	opts     Options
}

// New creates an adapter using the provided API key and optional base URL.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "openai"
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 4096
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	if opts.RequestTimeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	client := openai.NewClient(requestOpts...)
	return &Adapter{client: &client, provider: opts.ProviderName, opts: opts}, nil
}

// Chat performs a non-streaming chat completion request.
func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	params := a.buildChatParams(req)
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.ChatResponse{}, a.mapError(err)
	}
	return a.convertResponse(*resp), nil
}

// ChatStream performs a streaming chat completion request, asking for a final
// usage frame so the accountant gets upstream-reported numbers.
func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	params := a.buildChatParams(req)
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, a.mapError(err)
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		for stream.Next() {
			for _, chunk := range convertChunk(stream.Current()) {
				if !yield(chunk) {
					return
				}
			}
		}
		// Next returning false is either exhaustion or a broken stream;
		// only Err distinguishes them.
		if err := stream.Err(); err != nil {
			_ = yield(models.ChatChunk{Err: a.mapError(err)})
		}
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, forward)
	return chunks, cancel, nil
}

// ListModels lists available models for catalog sync.
func (a *Adapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, a.mapError(err)
	}
	out := make([]models.RemoteModel, 0, len(page.Data))
	for _, item := range page.Data {
		out = append(out, models.RemoteModel{
			ID:      item.ID,
			OwnedBy: item.OwnedBy,
		})
	}
	return out, nil
}

func (a *Adapter) buildChatParams(req models.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			union := openai.UserMessage(msg.Content)
			if name := strings.TrimSpace(msg.Name); name != "" && union.OfUser != nil {
				union.OfUser.Name = param.NewOpt(name)
			}
			messages = append(messages, union)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(float64(*req.TopP))
	}
	maxTokens := a.opts.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	params.MaxTokens = param.NewOpt(int64(maxTokens))
	if len(req.Stop) == 1 {
		params.Stop.OfString = param.NewOpt(req.Stop[0])
	} else if len(req.Stop) > 1 {
		params.Stop.OfStringArray = append(params.Stop.OfStringArray, req.Stop...)
	}
	return params
}

func (a *Adapter) convertResponse(resp openai.ChatCompletion) models.ChatResponse {
	out := models.ChatResponse{
		ID:      resp.ID,
		Created: time.Unix(resp.Created, 0),
		Model:   resp.Model,
		Usage: models.Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CompletionTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = resp.Choices[0].FinishReason
	}
	return out
}

func convertChunk(chunk openai.ChatCompletionChunk) []models.ChatChunk {
	out := make([]models.ChatChunk, 0, 2)
	for _, choice := range chunk.Choices {
		if choice.Delta.Content == "" && choice.FinishReason == "" {
			continue
		}
		out = append(out, models.ChatChunk{
			Delta:        choice.Delta.Content,
			FinishReason: choice.FinishReason,
		})
	}
	if u := chunk.Usage; u.PromptTokens > 0 || u.CompletionTokens > 0 || u.TotalTokens > 0 {
		usage := models.Usage{
			PromptTokens:     int32(u.PromptTokens),
			CompletionTokens: int32(u.CompletionTokens),
			TotalTokens:      int32(u.TotalTokens),
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		out = append(out, models.ChatChunk{Usage: &usage})
	}
	return out
}

// mapError canonicalizes SDK failures into the gateway's provider-error
// shape.
func (a *Adapter) mapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &gwerr.ProviderError{
			Status:   apierr.StatusCode,
			Code:     apierr.Code,
			Type:     apierr.Type,
			Message:  apierr.Message,
			Provider: a.provider,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerr.TimeoutError{Provider: a.provider, Phase: "connect"}
	}
	return err
}
