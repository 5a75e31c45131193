// Package bedrock implements the signed-request adapter backed by Amazon
// Bedrock. Requests are SigV4-signed by the AWS SDK rather than carrying a
// bearer token, and Claude models are invoked through the anthropic_messages
// body format.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

// Options controls how the Bedrock adapter is initialised.
type Options struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	ProviderName     string
	AnthropicVersion string
	DefaultMaxTokens int32
}

// Adapter invokes Claude models on Bedrock through the runtime API.
type Adapter struct {
	client    *bedrockruntime.Client
	stsClient *sts.Client
	provider  string
	opts      Options
}

// New creates a Bedrock adapter using the provided credentials/region.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Region == "" {
		return nil, errors.New("bedrock region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		staticProvider := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		loadOpts = append(loadOpts, config.WithCredentialsProvider(staticProvider))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = opts.Region
	}

	if opts.ProviderName == "" {
		opts.ProviderName = "bedrock"
	}
	if opts.AnthropicVersion == "" {
		opts.AnthropicVersion = "bedrock-2023-05-31"
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 4096
	}

	return &Adapter{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		stsClient: sts.NewFromConfig(awsCfg),
		provider:  opts.ProviderName,
		opts:      opts,
	}, nil
}

// Chat executes a non-streaming chat request.
func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return models.ChatResponse{}, errors.New("at least one message is required")
	}

	body, err := a.buildAnthropicBody(req)
	if err != nil {
		return models.ChatResponse{}, err
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return models.ChatResponse{}, a.mapError(err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return models.ChatResponse{}, fmt.Errorf("decode bedrock response: %w", err)
	}

	return models.ChatResponse{
		ID:           parsed.ID,
		Created:      time.Now().UTC(),
		Model:        req.Model,
		Content:      parsed.JoinText(),
		FinishReason: mapStopReason(parsed.StopReason),
		Usage: models.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// ChatStream executes a streaming chat request over the response stream API.
func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	body, err := a.buildAnthropicBody(req)
	if err != nil {
		return nil, nil, err
	}

	resp, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, nil, a.mapError(err)
	}
	stream := resp.GetStream()
	if stream == nil {
		return nil, nil, errors.New("bedrock stream missing")
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		var promptTokens, completionTokens int32
		finishSent := false

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-stream.Events():
				if !ok {
					if err := stream.Err(); err != nil {
						_ = yield(models.ChatChunk{Err: a.mapError(err)})
					} else if !finishSent {
						_ = yield(models.ChatChunk{Err: errors.New("bedrock response stream ended before message_stop")})
					}
					return
				}
				chunk, ok := evt.(*types.ResponseStreamMemberChunk)
				if !ok || chunk == nil {
					continue
				}

				var payload streamEvent
				if err := json.Unmarshal(chunk.Value.Bytes, &payload); err != nil {
					continue
				}
				if payload.Usage.InputTokens > 0 {
					promptTokens = payload.Usage.InputTokens
				}
				if payload.Usage.OutputTokens > 0 {
					completionTokens = payload.Usage.OutputTokens
				}
				if payload.Message != nil {
					if payload.Message.Usage.InputTokens > 0 {
						promptTokens = payload.Message.Usage.InputTokens
					}
					if payload.Message.Usage.OutputTokens > 0 {
						completionTokens = payload.Message.Usage.OutputTokens
					}
				}

				switch payload.Type {
				case "content_block_delta":
					text := payload.DeltaText()
					if text == "" {
						continue
					}
					if !yield(models.ChatChunk{Delta: text}) {
						return
					}
				case "message_delta":
					finish := strings.TrimSpace(payload.StopReason())
					if finish == "" || finishSent {
						continue
					}
					finishSent = true
					if !yield(models.ChatChunk{FinishReason: mapStopReason(finish)}) {
						return
					}
				case "message_stop":
					if !finishSent {
						if !yield(models.ChatChunk{FinishReason: "stop"}) {
							return
						}
					}
					usage := models.Usage{
						PromptTokens:     promptTokens,
						CompletionTokens: completionTokens,
						TotalTokens:      promptTokens + completionTokens,
					}
					if !usage.IsZero() {
						_ = yield(models.ChatChunk{Usage: &usage})
					}
					return
				}
			}
		}
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, forward)
	return chunks, cancel, nil
}

// ListModels is not supported; Bedrock catalogs are managed out of band.
func (a *Adapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	return nil, gwerr.ErrModelListingUnsupported
}

// HealthCheck verifies the signed credentials without incurring inference cost.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	return err
}

func (a *Adapter) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwerr.TimeoutError{Provider: a.provider, Phase: "connect"}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		status := statusForCode(apiErr.ErrorCode())
		return &gwerr.ProviderError{
			Status:   status,
			Code:     apiErr.ErrorCode(),
			Type:     "api_error",
			Message:  apiErr.ErrorMessage(),
			Provider: a.provider,
		}
	}
	return err
}

func statusForCode(code string) int {
	switch code {
	case "ThrottlingException", "TooManyRequestsException":
		return 429
	case "AccessDeniedException", "UnrecognizedClientException":
		return 401
	case "ValidationException":
		return 400
	case "ResourceNotFoundException", "ModelNotReadyException":
		return 404
	case "ServiceQuotaExceededException":
		return 429
	default:
		return 502
	}
}

func (a *Adapter) buildAnthropicBody(req models.ChatRequest) ([]byte, error) {
	var systemPrompts []string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			systemPrompts = append(systemPrompts, msg.Content)
		case "assistant":
			messages = append(messages, anthropicMessage{
				Role:    "assistant",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		default:
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}

	body := anthropicRequest{
		AnthropicVersion: a.opts.AnthropicVersion,
		Messages:         messages,
		MaxTokens:        a.opts.DefaultMaxTokens,
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
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

	return json.Marshal(body)
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
