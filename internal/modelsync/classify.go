package modelsync

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/tokenizer"
)

// classifyType maps a model id onto a coarse model type from id substrings.
func classifyType(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "embed"):
		return models.ModelTypeEmbedding
	case strings.Contains(lower, "rerank"):
		return models.ModelTypeRerank
	case strings.Contains(lower, "whisper"), strings.Contains(lower, "-tts"),
		strings.Contains(lower, "audio"), strings.Contains(lower, "speech"):
		return models.ModelTypeAudio
	case strings.Contains(lower, "dall-e"), strings.Contains(lower, "stable-diffusion"),
		strings.Contains(lower, "image"), strings.Contains(lower, "flux"):
		return models.ModelTypeImage
	default:
		return models.ModelTypeChat
	}
}

// visionIDHints marks chat models whose id advertises multimodal input.
var visionIDHints = []string{
	"vision", "-4o", "gpt-4.1", "gpt-5", "gemini", "claude-3", "claude-opus",
	"claude-sonnet", "claude-haiku", "pixtral", "llava", "-vl",
}

// functionIDHints marks families known to support tool calling.
var functionIDHints = []string{
	"gpt-4", "gpt-5", "gpt-3.5-turbo", "o1", "o3", "claude-3", "claude-opus",
	"claude-sonnet", "claude-haiku", "gemini", "mistral-large", "qwen",
	"deepseek", "llama-3", "llama3",
}

// classifyCapabilities infers capabilities from the id, letting explicit
// provider flags on the raw entry win when present.
func classifyCapabilities(raw models.RemoteModel, modelType string) models.Capabilities {
	if modelType != models.ModelTypeChat {
		return models.Capabilities{}
	}
	lower := strings.ToLower(raw.ID)
	caps := models.Capabilities{
		Streaming: true,
		Vision:    matchesAny(lower, visionIDHints),
		Functions: matchesAny(lower, functionIDHints),
	}
	// JSON mode tracks tool calling for every family we know of.
	caps.JSONMode = caps.Functions
	if raw.Vision != nil {
		caps.Vision = *raw.Vision
	}
	if raw.Functions != nil {
		caps.Functions = *raw.Functions
	}
	return caps
}

func matchesAny(id string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(id, h) {
			return true
		}
	}
	return false
}

// maxOutputDefaults maps model id prefixes to known completion ceilings for
// providers that do not report one.
var maxOutputDefaults = []struct {
	prefix string
	limit  int32
}{
	{"gpt-4o", 16384},
	{"gpt-4.1", 32768},
	{"gpt-4-turbo", 4096},
	{"gpt-4", 8192},
	{"gpt-3.5", 4096},
	{"o1", 32768},
	{"claude-3-5", 8192},
	{"claude-3", 4096},
	{"claude", 8192},
	{"gemini-1.5", 8192},
	{"gemini-2", 8192},
	{"gemini", 8192},
}

// contextWindow fills a missing context window from the estimator's model
// limit table, which already has generic fallbacks.
func contextWindow(raw models.RemoteModel) int32 {
	if raw.ContextWindow > 0 {
		return raw.ContextWindow
	}
	return int32(tokenizer.ModelLimit(raw.ID))
}

func maxOutputTokens(raw models.RemoteModel) int32 {
	if raw.MaxOutput > 0 {
		return raw.MaxOutput
	}
	id := strings.ToLower(raw.ID)
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		id = id[idx+1:]
	}
	for _, entry := range maxOutputDefaults {
		if strings.HasPrefix(id, entry.prefix) {
			return entry.limit
		}
	}
	return 4096
}
