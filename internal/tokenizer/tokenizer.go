// Package tokenizer provides heuristic token estimation, context-limit
// lookup, and budget-aware message truncation. Counts are approximations for
// budgeting and cost fallback; upstream-reported usage is authoritative
// whenever a provider supplies it.
package tokenizer

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/models"
)

const (
	// Characters per token for CJK scripts vs everything else.
	cjkCharsPerToken   = 2
	otherCharsPerToken = 4

	// Per-message framing overhead, matching GPT-family chat formatting.
	messageOverhead = 4

	defaultModelLimit = 4096
)

// Usage status thresholds, boundaries inclusive on the lower class.
const (
	StatusNormal   = "normal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Estimate returns the heuristic token count for text: CJK characters at two
// per token, all remaining characters at four per token, each rounded up.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	total := 0
	if cjk > 0 {
		total += (cjk + cjkCharsPerToken - 1) / cjkCharsPerToken
	}
	if other > 0 {
		total += (other + otherCharsPerToken - 1) / otherCharsPerToken
	}
	return total
}

// EstimateMessage counts one message including role and framing overhead.
func EstimateMessage(msg models.ChatMessage) int {
	n := messageOverhead + Estimate(msg.Role) + Estimate(msg.Content)
	if msg.Name != "" {
		n += Estimate(msg.Name) + 1
	}
	return n
}

// EstimateMessages counts a whole conversation, including the reply priming
// tokens every completion request pays for.
func EstimateMessages(msgs []models.ChatMessage) int {
	total := 3
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// isCJK covers the common CJK blocks plus their punctuation and fullwidth
// forms.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0x3040 && r <= 0x309F: // Hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul Syllables
		return true
	case r >= 0x1100 && r <= 0x11FF: // Hangul Jamo
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // fullwidth / halfwidth forms
		return true
	case r >= 0x20000 && r <= 0x2A6DF: // Extension B
		return true
	}
	return false
}

// modelLimits maps model-id prefixes to context windows. Longest prefix wins.
var modelLimits = []struct {
	prefix string
	limit  int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4-32k", 32768},
	{"gpt-4.1", 1047576},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo-16k", 16385},
	{"gpt-3.5-turbo", 16385},
	{"o1", 200000},
	{"o3", 200000},
	{"claude-3-5", 200000},
	{"claude-3", 200000},
	{"claude-sonnet", 200000},
	{"claude-opus", 200000},
	{"claude-haiku", 200000},
	{"claude-2", 100000},
	{"gemini-2", 1048576},
	{"gemini-1.5-pro", 2097152},
	{"gemini-1.5", 1048576},
	{"gemini", 32768},
	{"deepseek", 65536},
	{"qwen-max", 32768},
	{"qwen", 131072},
	{"glm-4", 131072},
	{"moonshot", 131072},
	{"llama-3.1", 131072},
	{"llama-3", 8192},
	{"mistral-large", 131072},
	{"mixtral", 32768},
}

// ModelLimit returns the context window for a model id, defaulting
// conservatively for unknown models.
func ModelLimit(model string) int {
	id := strings.ToLower(strings.TrimSpace(model))
	// Aggregator ids carry an org prefix ("openai/gpt-4o"); match the tail.
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	best := 0
	bestLen := -1
	for _, e := range modelLimits {
		if strings.HasPrefix(id, e.prefix) && len(e.prefix) > bestLen {
			best = e.limit
			bestLen = len(e.prefix)
		}
	}
	if bestLen < 0 {
		return defaultModelLimit
	}
	return best
}

// UsagePercent returns how much of the model's context window tokens occupy,
// capped at 100.
func UsagePercent(tokens int, model string) float64 {
	limit := ModelLimit(model)
	if limit <= 0 {
		return 100
	}
	pct := float64(tokens) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// UsageStatus classifies a usage percentage: above 85 is critical, above 70
// is a warning, anything else is normal.
func UsageStatus(pct float64) string {
	switch {
	case pct > 85:
		return StatusCritical
	case pct > 70:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// ResponseReserve returns the token budget held back for the anticipated
// response, scaled with the model family's context window.
func ResponseReserve(model string) int {
	limit := ModelLimit(model)
	switch {
	case limit >= 200000:
		return 8192
	case limit >= 100000:
		return 4096
	case limit >= 32000:
		return 2048
	default:
		return 1024
	}
}
