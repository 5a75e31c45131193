package anthropic

import (
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/internal/gwerr"
)

type messageRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []message `json:"messages"`
	MaxTokens     int32     `json:"max_tokens"`
	Temperature   float64   `json:"temperature,omitempty"`
	TopP          float64   `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageResponse struct {
	ID         string       `json:"id"`
	Role       string       `json:"role"`
	Content    []content    `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      usagePayload `json:"usage"`
}

func (m messageResponse) JoinText() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

type usagePayload struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
}

type streamEvent struct {
	Type    string         `json:"type"`
	Index   int            `json:"index"`
	Message *streamMessage `json:"message"`
	Delta   *streamDelta   `json:"delta"`
	Usage   usagePayload   `json:"usage"`
	Error   *errorDetail   `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProviderError converts an in-band error event (overloaded_error and
// friends) into the canonical upstream-error shape.
func (e streamEvent) ProviderError(provider string) *gwerr.ProviderError {
	pe := &gwerr.ProviderError{
		Status:   http.StatusBadGateway,
		Code:     "stream_error",
		Type:     "api_error",
		Message:  "upstream reported a stream error",
		Provider: provider,
	}
	if e.Error != nil {
		if e.Error.Type != "" {
			pe.Code = e.Error.Type
			pe.Type = e.Error.Type
		}
		if e.Error.Message != "" {
			pe.Message = e.Error.Message
		}
	}
	return pe
}

type streamMessage struct {
	ID    string       `json:"id"`
	Model string       `json:"model"`
	Usage usagePayload `json:"usage"`
}

type streamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

func (e streamEvent) DeltaText() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.Text
}

func (e streamEvent) StopReason() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.StopReason
}
