package google

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/models"
)

type generateRequest struct {
	Contents          []contentEntry    `json:"contents"`
	SystemInstruction *contentEntry     `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type contentEntry struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int32    `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      contentEntry `json:"content"`
	FinishReason string       `json:"finishReason"`
}

// FirstCandidate returns the first candidate, or nil if there are none.
func (g *generateResponse) FirstCandidate() *candidate {
	if len(g.Candidates) == 0 {
		return nil
	}
	return &g.Candidates[0]
}

// Text joins all text parts of a content entry.
func (c contentEntry) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

type usageMetadata struct {
	PromptTokenCount     int32 `json:"promptTokenCount"`
	CandidatesTokenCount int32 `json:"candidatesTokenCount"`
	TotalTokenCount      int32 `json:"totalTokenCount"`
}

func (u *usageMetadata) toUsage() models.Usage {
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return models.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      total,
	}
}
