// Package streamproxy relays adapter chunk streams to the client as canonical
// gateway events. It enforces the terminal-event contract (exactly one done
// or error event per stream), applies an inter-chunk idle timeout, and fills
// in estimated usage when the upstream never reported real numbers.
package streamproxy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
)

// DefaultIdleTimeout bounds the wait between upstream chunks.
const DefaultIdleTimeout = 60 * time.Second

// Options configure one proxied stream.
type Options struct {
	// Provider names the upstream in timeout and stream errors.
	Provider string
	// IdleTimeout is the maximum silence between chunks before the stream is
	// treated as stalled. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
	// PromptTokens is the pre-flight estimate used when the upstream reports
	// no usage.
	PromptTokens int32
	// EstimateCompletion estimates completion tokens from the accumulated
	// text for the same fallback. Required when PromptTokens is set.
	EstimateCompletion func(text string) int32
}

// Result summarizes a finished stream. Valid once the event channel closes.
type Result struct {
	// Usage is the upstream-reported usage, or the estimate when Estimated.
	Usage     models.Usage
	Estimated bool
	// Content is the full assistant text that was forwarded.
	Content      string
	FinishReason string
	// FirstByteSent reports whether any content reached the client. Once
	// true, failover to another source is off the table.
	FirstByteSent bool
	// Err is nil for a clean finish, context.Canceled when the client went
	// away, or the terminal stream error otherwise.
	Err error
}

// Proxy relays a single upstream stream. Not reusable.
type Proxy struct {
	opts Options
	res  Result
}

func New(opts Options) *Proxy {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Provider == "" {
		opts.Provider = "upstream"
	}
	return &Proxy{opts: opts}
}

// Run consumes chunks and emits canonical events on the returned channel. The
// channel always closes after exactly one terminal event (done or error),
// except when the caller's context is cancelled, in which case the client is
// gone and no terminal event has an audience. cancel is always invoked before
// Run finishes.
func (p *Proxy) Run(ctx context.Context, chunks <-chan models.ChatChunk, cancel func() error) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 8)
	go p.relay(ctx, chunks, cancel, events)
	return events
}

// Result reports the stream outcome. Only call after the event channel from
// Run has closed.
func (p *Proxy) Result() Result { return p.res }

func (p *Proxy) relay(ctx context.Context, chunks <-chan models.ChatChunk, cancel func() error, events chan<- models.StreamEvent) {
	defer close(events)
	defer func() {
		if cancel != nil {
			_ = cancel()
		}
	}()

	var content strings.Builder
	idle := time.NewTimer(p.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			p.res.Content = content.String()
			p.res.Err = context.Canceled
			p.finalizeUsage()
			return

		case <-idle.C:
			p.res.Content = content.String()
			p.res.Err = &gwerr.TimeoutError{Provider: p.opts.Provider, Phase: "stream"}
			p.finalizeUsage()
			p.emit(ctx, events, models.ErrorEvent(504, "stream_timeout", "timeout_error",
				"upstream produced no data within the idle window"))
			return

		case chunk, ok := <-chunks:
			if !ok {
				p.res.Content = content.String()
				p.finalizeUsage()
				p.emit(ctx, events, models.DoneEvent(p.res.FinishReason, p.res.Usage))
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(p.opts.IdleTimeout)

			if chunk.Err != nil {
				p.res.Content = content.String()
				p.res.Err = &gwerr.StreamError{Provider: p.opts.Provider, Err: chunk.Err}
				p.finalizeUsage()
				if p.res.FirstByteSent {
					// The caller already saw partial output; close the
					// stream with the estimate rather than yanking it.
					p.emit(ctx, events, models.DoneEvent(p.res.FinishReason, p.res.Usage))
				} else {
					p.emit(ctx, events, RelayError(p.opts.Provider, chunk.Err))
				}
				return
			}

			if chunk.Usage != nil && !chunk.Usage.IsZero() {
				p.res.Usage = *chunk.Usage
			}
			if chunk.FinishReason != "" {
				p.res.FinishReason = chunk.FinishReason
			}
			if chunk.Delta == "" {
				continue
			}
			content.WriteString(chunk.Delta)
			if !p.emit(ctx, events, models.ContentEvent(chunk.Delta)) {
				p.res.Content = content.String()
				p.res.Err = context.Canceled
				p.finalizeUsage()
				return
			}
			p.res.FirstByteSent = true
		}
	}
}

// emit delivers an event unless the client context is gone.
func (p *Proxy) emit(ctx context.Context, events chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finalizeUsage substitutes the character-count estimate when the upstream
// never reported usage.
func (p *Proxy) finalizeUsage() {
	if !p.res.Usage.IsZero() {
		return
	}
	if p.opts.EstimateCompletion == nil {
		return
	}
	completion := p.opts.EstimateCompletion(p.res.Content)
	p.res.Usage = models.Usage{
		PromptTokens:     p.opts.PromptTokens,
		CompletionTokens: completion,
		TotalTokens:      p.opts.PromptTokens + completion,
	}
	p.res.Estimated = true
}

// RelayError produces the single terminal error event for a request that
// failed after streaming began, shaped from the gateway error taxonomy.
func RelayError(provider string, err error) models.StreamEvent {
	if pe, ok := gwerr.AsProvider(err); ok {
		return models.ErrorEvent(pe.Status, pe.Code, pe.Type, pe.Message)
	}
	var te *gwerr.TimeoutError
	if errors.As(err, &te) {
		return models.ErrorEvent(504, "stream_timeout", "timeout_error", te.Error())
	}
	return models.ErrorEvent(502, "stream_error", "api_error", err.Error())
}
