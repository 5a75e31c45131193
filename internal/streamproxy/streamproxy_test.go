package streamproxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
)

func collect(t *testing.T, events <-chan models.StreamEvent) []models.StreamEvent {
	t.Helper()
	var out []models.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}

func terminalCount(events []models.StreamEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Type == models.EventDone || ev.Type == models.EventError {
			n++
		}
	}
	return n
}

func TestCleanStreamEmitsOneDone(t *testing.T) {
	chunks := make(chan models.ChatChunk, 4)
	chunks <- models.ChatChunk{Delta: "Hello"}
	chunks <- models.ChatChunk{Delta: " world"}
	chunks <- models.ChatChunk{FinishReason: "stop"}
	chunks <- models.ChatChunk{Usage: &models.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}
	close(chunks)

	cancelled := false
	p := New(Options{Provider: "test"})
	events := collect(t, p.Run(context.Background(), chunks, func() error {
		cancelled = true
		return nil
	}))

	if n := terminalCount(events); n != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", n)
	}
	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	if last.FinishReason != "stop" {
		t.Fatalf("finish reason = %q, want stop", last.FinishReason)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 12 {
		t.Fatalf("done event usage = %+v", last.Usage)
	}

	res := p.Result()
	if res.Content != "Hello world" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Estimated {
		t.Fatal("usage flagged estimated despite upstream report")
	}
	if !res.FirstByteSent {
		t.Fatal("first byte not marked sent")
	}
	if !cancelled {
		t.Fatal("upstream cancel not invoked")
	}
}

func TestUsageEstimationFallback(t *testing.T) {
	chunks := make(chan models.ChatChunk, 2)
	chunks <- models.ChatChunk{Delta: "abcdefgh"}
	close(chunks)

	p := New(Options{
		Provider:     "test",
		PromptTokens: 7,
		EstimateCompletion: func(text string) int32 {
			return int32((len(text) + 3) / 4)
		},
	})
	events := collect(t, p.Run(context.Background(), chunks, nil))

	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	res := p.Result()
	if !res.Estimated {
		t.Fatal("estimation fallback not applied")
	}
	if res.Usage.PromptTokens != 7 || res.Usage.CompletionTokens != 2 || res.Usage.TotalTokens != 9 {
		t.Fatalf("estimated usage = %+v", res.Usage)
	}
}

func TestIdleTimeoutEmitsError(t *testing.T) {
	chunks := make(chan models.ChatChunk)
	cancelled := make(chan struct{})

	p := New(Options{Provider: "test", IdleTimeout: 30 * time.Millisecond})
	events := collect(t, p.Run(context.Background(), chunks, func() error {
		close(cancelled)
		return nil
	}))

	if n := terminalCount(events); n != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", n)
	}
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if last.Error == nil || last.Error.Status != 504 {
		t.Fatalf("error event = %+v", last.Error)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream not cancelled on timeout")
	}

	var te *gwerr.TimeoutError
	if !errors.As(p.Result().Err, &te) || te.Phase != "stream" {
		t.Fatalf("result err = %v, want stream timeout", p.Result().Err)
	}
}

func TestClientCancellationStopsRelay(t *testing.T) {
	chunks := make(chan models.ChatChunk)
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunks <- models.ChatChunk{Delta: "partial"}
		// Feed slowly so cancellation lands between chunks.
		time.Sleep(10 * time.Millisecond)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	upstreamClosed := false
	p := New(Options{Provider: "test"})
	events := p.Run(ctx, chunks, func() error {
		upstreamClosed = true
		return nil
	})

	first := <-events
	if first.Type != models.EventContent || first.Content != "partial" {
		t.Fatalf("first event = %+v", first)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				goto closed
			}
		case <-deadline:
			t.Fatal("event channel never closed after cancellation")
		}
	}
closed:
	if !upstreamClosed {
		t.Fatal("upstream connection not closed on client cancellation")
	}
	if !errors.Is(p.Result().Err, context.Canceled) {
		t.Fatalf("result err = %v, want context.Canceled", p.Result().Err)
	}
	<-done
}

func TestRelayErrorShapesProviderError(t *testing.T) {
	ev := RelayError("openai", &gwerr.ProviderError{
		Status: 429, Code: "rate_limit_exceeded", Type: "rate_limit_error", Message: "slow down",
	})
	if ev.Type != models.EventError {
		t.Fatalf("event type = %s", ev.Type)
	}
	if ev.Error.Status != 429 || ev.Error.Code != "rate_limit_exceeded" {
		t.Fatalf("error payload = %+v", ev.Error)
	}

	ev = RelayError("openai", errors.New("connection reset"))
	if ev.Error.Status != 502 {
		t.Fatalf("generic error status = %d, want 502", ev.Error.Status)
	}
}

func TestBrokenStreamBeforeContentEmitsError(t *testing.T) {
	chunks := make(chan models.ChatChunk, 1)
	chunks <- models.ChatChunk{Err: errors.New("connection reset by peer")}
	close(chunks)

	p := New(Options{
		Provider:           "test",
		PromptTokens:       7,
		EstimateCompletion: func(text string) int32 { return int32(len(text) / 4) },
	})
	events := collect(t, p.Run(context.Background(), chunks, nil))

	if n := terminalCount(events); n != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", n)
	}
	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("events = %+v, want a single error event", events)
	}
	if events[0].Error == nil || events[0].Error.Status != 502 {
		t.Fatalf("error payload = %+v", events[0].Error)
	}

	res := p.Result()
	var se *gwerr.StreamError
	if !errors.As(res.Err, &se) {
		t.Fatalf("result err = %v, want StreamError", res.Err)
	}
	if res.FirstByteSent {
		t.Fatal("no content was forwarded")
	}
}

func TestBrokenStreamAfterContentClosesWithEstimate(t *testing.T) {
	chunks := make(chan models.ChatChunk, 3)
	chunks <- models.ChatChunk{Delta: "partial "}
	chunks <- models.ChatChunk{Delta: "output"}
	chunks <- models.ChatChunk{Err: errors.New("unexpected EOF")}
	close(chunks)

	p := New(Options{
		Provider:           "test",
		PromptTokens:       10,
		EstimateCompletion: func(text string) int32 { return int32((len(text) + 3) / 4) },
	})
	events := collect(t, p.Run(context.Background(), chunks, nil))

	if n := terminalCount(events); n != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", n)
	}
	last := events[len(events)-1]
	if last.Type != models.EventDone {
		t.Fatalf("last event = %s, want done (partial content already forwarded)", last.Type)
	}
	if last.Usage == nil || last.Usage.CompletionTokens != 4 {
		t.Fatalf("done usage = %+v, want estimated completion 4", last.Usage)
	}

	res := p.Result()
	var se *gwerr.StreamError
	if !errors.As(res.Err, &se) {
		t.Fatalf("result err = %v, want StreamError", res.Err)
	}
	if !res.Estimated {
		t.Fatal("usage should be flagged estimated")
	}
	if res.Content != "partial output" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestBrokenStreamProviderErrorShapesEvent(t *testing.T) {
	chunks := make(chan models.ChatChunk, 1)
	chunks <- models.ChatChunk{Err: &gwerr.ProviderError{
		Status:   529,
		Code:     "overloaded_error",
		Type:     "overloaded_error",
		Message:  "Overloaded",
		Provider: "anthropic",
	}}
	close(chunks)

	p := New(Options{Provider: "anthropic"})
	events := collect(t, p.Run(context.Background(), chunks, nil))

	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("events = %+v, want a single error event", events)
	}
	if events[0].Error.Status != 529 || events[0].Error.Code != "overloaded_error" {
		t.Fatalf("error payload = %+v", events[0].Error)
	}
}
