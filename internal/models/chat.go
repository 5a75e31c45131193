package models

import "time"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
	Pinned  bool   `json:"pinned,omitempty"`
}

// ChatRequest is the gateway's normalized inbound request. Adapters translate
// it into their provider's wire shape; nothing provider-specific appears here.
type ChatRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Temperature    *float32      `json:"temperature,omitempty"`
	TopP           *float32      `json:"top_p,omitempty"`
	MaxTokens      *int32        `json:"max_tokens,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
	Stop           []string      `json:"stop,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

type ChatResponse struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason"`
	Usage        Usage     `json:"usage"`
}

// ChatChunk is the single internal streaming message shape every adapter
// normalizes into: a content delta, an optional usage snapshot, or both.
// A chunk with Err set is terminal: the upstream stream broke mid-flight and
// no further chunks follow. A channel that closes without an Err chunk ended
// cleanly.
type ChatChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"-"`
	Err          error  `json:"-"`
}

func (c ChatChunk) IsUsageOnly() bool {
	return c.Delta == "" && c.FinishReason == "" && c.Usage != nil
}
