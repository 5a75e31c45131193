package tokenizer

import (
	"strings"
	"testing"

	"github.com/modelrelay/modelrelay/internal/models"
)

func TestEstimateMixedScripts(t *testing.T) {
	// "你好" = 2 CJK chars -> 1 token; "hello" = 5 chars -> 2 tokens.
	if got := Estimate("你好hello"); got != 3 {
		t.Fatalf("Estimate(你好hello) = %d, want 3", got)
	}
	if got := Estimate(""); got != 0 {
		t.Fatalf("Estimate(empty) = %d, want 0", got)
	}
	if got := Estimate("abcd"); got != 1 {
		t.Fatalf("Estimate(abcd) = %d, want 1", got)
	}
	if got := Estimate("abcde"); got != 2 {
		t.Fatalf("Estimate(abcde) = %d, want 2", got)
	}
	// Hiragana and Hangul count as CJK too.
	if got := Estimate("こん"); got != 1 {
		t.Fatalf("Estimate(こん) = %d, want 1", got)
	}
	if got := Estimate("한국"); got != 1 {
		t.Fatalf("Estimate(한국) = %d, want 1", got)
	}
}

func TestModelLimitLookup(t *testing.T) {
	cases := map[string]int{
		"gpt-4o":                128000,
		"gpt-4o-mini":           128000,
		"gpt-4":                 8192,
		"claude-3-5-sonnet":     200000,
		"gemini-1.5-pro-latest": 2097152,
		"openai/gpt-4o":         128000,
		"totally-unknown-model": 4096,
	}
	for model, want := range cases {
		if got := ModelLimit(model); got != want {
			t.Errorf("ModelLimit(%s) = %d, want %d", model, got, want)
		}
	}
}

func TestUsageStatusBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{51, StatusNormal},
		{70, StatusNormal},
		{71, StatusWarning},
		{85, StatusWarning},
		{86, StatusCritical},
		{100, StatusCritical},
	}
	for _, tc := range cases {
		if got := UsageStatus(tc.pct); got != tc.want {
			t.Errorf("UsageStatus(%v) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestUsagePercentCaps(t *testing.T) {
	if got := UsagePercent(10_000_000, "gpt-4"); got != 100 {
		t.Fatalf("UsagePercent over limit = %v, want 100", got)
	}
	if got := UsagePercent(4096, "gpt-4"); got <= 0 || got > 100 {
		t.Fatalf("UsagePercent = %v, want in (0,100]", got)
	}
}

func TestResponseReserveScalesWithFamily(t *testing.T) {
	if got := ResponseReserve("claude-3-5-sonnet"); got != 8192 {
		t.Fatalf("claude reserve = %d, want 8192", got)
	}
	if got := ResponseReserve("unknown"); got != 1024 {
		t.Fatalf("default reserve = %d, want 1024", got)
	}
}

func TestTruncateKeepsSystemAndPinned(t *testing.T) {
	long := strings.Repeat("word ", 4000)
	msgs := []models.ChatMessage{
		{Role: "system", Content: "you are terse"},
		{Role: "user", Content: long},
		{Role: "user", Content: "pinned fact", Pinned: true},
		{Role: "assistant", Content: "old reply"},
		{Role: "user", Content: "latest question"},
	}

	out := TruncateMessages(msgs, "gpt-4", TruncateOptions{})

	roles := make([]string, 0, len(out))
	hasPinned, hasSystem, hasLatest, hasLong := false, false, false, false
	for _, m := range out {
		roles = append(roles, m.Role)
		if m.Pinned {
			hasPinned = true
		}
		if m.Role == "system" {
			hasSystem = true
		}
		if m.Content == "latest question" {
			hasLatest = true
		}
		if m.Content == long {
			hasLong = true
		}
	}
	if !hasSystem || !hasPinned || !hasLatest {
		t.Fatalf("system/pinned/latest must survive truncation, got roles %v", roles)
	}
	if hasLong {
		t.Fatalf("oversized old message should have been dropped")
	}
}

func TestTruncateBudgetBound(t *testing.T) {
	msgs := make([]models.ChatMessage, 0, 60)
	msgs = append(msgs, models.ChatMessage{Role: "system", Content: strings.Repeat("s", 400)})
	for i := 0; i < 59; i++ {
		msgs = append(msgs, models.ChatMessage{Role: "user", Content: strings.Repeat("x", 900)})
	}

	model := "gpt-4"
	out := TruncateMessages(msgs, model, TruncateOptions{ExternalReserve: 200})

	bound := ModelLimit(model) - ResponseReserve(model)
	if got := EstimateMessages(out); got > bound {
		t.Fatalf("truncated conversation estimates %d tokens, budget bound %d", got, bound)
	}
	if len(out) == 0 {
		t.Fatalf("expected some messages to survive")
	}
}

func TestTruncateDropsOldestFirst(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: "user", Content: strings.Repeat("a", 16000)},
		{Role: "user", Content: strings.Repeat("b", 16000)},
		{Role: "user", Content: "newest"},
	}
	out := TruncateMessages(msgs, "gpt-4", TruncateOptions{})
	if len(out) == 0 {
		t.Fatalf("expected newest message kept")
	}
	if out[len(out)-1].Content != "newest" {
		t.Fatalf("newest message must survive, got %q", out[len(out)-1].Content)
	}
	for _, m := range out {
		if strings.HasPrefix(m.Content, "a") && len(m.Content) == 16000 {
			// If the oldest big message fits the whole set must fit; with
			// gpt-4's 8192 window it cannot.
			t.Fatalf("oldest oversized message should be dropped before newer ones")
		}
	}
}
