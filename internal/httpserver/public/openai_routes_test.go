package public

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
)

func TestStopSequencesAcceptsStringAndArray(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"absent", `{}`, nil},
		{"single", `{"stop":"END"}`, []string{"END"}},
		{"empty string", `{"stop":""}`, nil},
		{"array", `{"stop":["a","b"]}`, []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req openAIChatRequest
			if err := json.Unmarshal([]byte(tc.raw), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := req.stopSequences()
			if err != nil {
				t.Fatalf("stopSequences: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}

func TestStopSequencesRejectsOtherShapes(t *testing.T) {
	var req openAIChatRequest
	if err := json.Unmarshal([]byte(`{"stop":42}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := req.stopSequences(); err == nil {
		t.Fatal("expected error for numeric stop")
	}
}

func TestToChatRequestCopiesFields(t *testing.T) {
	temp := float32(0.5)
	body := openAIChatRequest{
		Model:          "  gpt-test  ",
		Messages:       []openAIChatMessage{{Role: "user", Content: "hi"}},
		Temperature:    &temp,
		Stream:         true,
		ConversationID: "conv-1",
	}
	req, err := body.toChatRequest()
	if err != nil {
		t.Fatalf("toChatRequest: %v", err)
	}
	if req.Model != "gpt-test" {
		t.Fatalf("model = %q", req.Model)
	}
	if !req.Stream || req.ConversationID != "conv-1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Fatalf("messages not copied: %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.5 {
		t.Fatal("temperature not copied")
	}
}

func TestConvertChatResponseDefaultsFinishReason(t *testing.T) {
	resp := convertChatResponse(models.ChatResponse{
		ID:      "chatcmpl-1",
		Created: time.Unix(1700000000, 0),
		Model:   "gpt-test",
		Content: "hello",
		Usage:   models.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	})
	if resp.Object != "chat.completion" {
		t.Fatalf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello" {
		t.Fatalf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason == nil || *resp.Choices[0].FinishReason != "stop" {
		t.Fatal("finish_reason should default to stop")
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestWriteRelayErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"auth", gwerr.ErrAuth, fiber.StatusUnauthorized},
		{"quota", gwerr.ErrQuotaExceeded, fiber.StatusTooManyRequests},
		{"no source", gwerr.ErrModelUnavailable, fiber.StatusServiceUnavailable},
		{"provider", gwerr.NewProviderError("openai", 503, "overloaded"), 503},
		{"unknown", io.ErrUnexpectedEOF, fiber.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return writeRelayError(c, tc.err)
			})
			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("test request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			var payload map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if _, ok := payload["error"]; !ok {
				t.Fatal("body missing error field")
			}
		})
	}
}
