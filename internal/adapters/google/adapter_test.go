package google

import (
	"testing"

	"github.com/modelrelay/modelrelay/internal/models"
)

func TestBuildGenerateRequestShapesRolesAndSystem(t *testing.T) {
	a := &Adapter{opts: Options{DefaultMaxTokens: 2048}}
	req := models.ChatRequest{
		Model: "gemini-test",
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}

	out := a.buildGenerateRequest(req)

	if out.SystemInstruction == nil || len(out.SystemInstruction.Parts) != 1 {
		t.Fatal("system prompt not relocated to systemInstruction")
	}
	if out.SystemInstruction.Parts[0].Text != "be helpful" {
		t.Fatalf("system text = %q", out.SystemInstruction.Parts[0].Text)
	}
	if len(out.Contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(out.Contents))
	}
	if out.Contents[0].Role != "user" || out.Contents[1].Role != "model" {
		t.Fatalf("roles = %s/%s", out.Contents[0].Role, out.Contents[1].Role)
	}
	if out.GenerationConfig == nil || out.GenerationConfig.MaxOutputTokens != 2048 {
		t.Fatal("default max output tokens not applied")
	}
}

func TestBuildGenerateRequestSamplingOverrides(t *testing.T) {
	a := &Adapter{opts: Options{DefaultMaxTokens: 2048}}
	temp := float32(0.7)
	maxTokens := int32(128)
	req := models.ChatRequest{
		Model:       "gemini-test",
		Messages:    []models.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"##"},
	}

	out := a.buildGenerateRequest(req)

	cfg := out.GenerationConfig
	if cfg.MaxOutputTokens != 128 {
		t.Fatalf("maxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatal("temperature not mapped")
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "##" {
		t.Fatalf("stopSequences = %v", cfg.StopSequences)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"STOP":       "stop",
		"stop":       "stop",
		"MAX_TOKENS": "length",
	}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
