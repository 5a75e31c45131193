// Package executor runs the full request pipeline: quota check, preset
// resolution, context truncation, routing with pre-stream failover, adapter
// dispatch, stream relay, and usage finalization. HTTP handlers stay thin;
// everything that decides how a request terminates lives here.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/accounting"
	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/streamproxy"
	"github.com/modelrelay/modelrelay/internal/tokenizer"
)

// maxAttempts bounds the failover chain for a single request.
const maxAttempts = 5

// Resolver picks the next (source, credential) pair for a model.
type Resolver interface {
	ResolveNext(ctx context.Context, model string, exclude map[uuid.UUID]bool) (models.RouteDecision, error)
}

// AdapterFactory binds a source and credential secret to a protocol adapter.
type AdapterFactory interface {
	Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error)
}

// QuotaChecker rejects callers who exhausted a usage window.
type QuotaChecker interface {
	Check(ctx context.Context, userID uuid.UUID) error
}

// Finalizer turns a finished attempt into a usage record.
type Finalizer interface {
	Finalize(ctx context.Context, outcome accounting.Outcome)
}

// CredentialRecorder debits a credential whose attempt failed over. Terminal
// attempts are debited by the accountant instead.
type CredentialRecorder interface {
	RecordError(ctx context.Context, cred models.Credential, cause error) error
}

// PresetStore resolves conversation-pinned defaults. Optional.
type PresetStore interface {
	ConversationPreset(ctx context.Context, conversationID string) (models.ConversationPreset, error)
}

// Options wires an Executor.
type Options struct {
	Router      Resolver
	Factory     AdapterFactory
	Quota       QuotaChecker
	Accountant  Finalizer
	Pool        CredentialRecorder
	Presets     PresetStore
	Metrics     *observability.Provider
	Logger      *slog.Logger
	IdleTimeout time.Duration
}

type Executor struct {
	router      Resolver
	factory     AdapterFactory
	quota       QuotaChecker
	accountant  Finalizer
	pool        CredentialRecorder
	presets     PresetStore
	metrics     *observability.Provider
	logger      *slog.Logger
	idleTimeout time.Duration
	now         func() time.Time
}

func New(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = streamproxy.DefaultIdleTimeout
	}
	return &Executor{
		router:      opts.Router,
		factory:     opts.Factory,
		quota:       opts.Quota,
		accountant:  opts.Accountant,
		pool:        opts.Pool,
		presets:     opts.Presets,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		idleTimeout: opts.IdleTimeout,
		now:         time.Now,
	}
}

// Chat executes a non-streaming completion with failover across sources.
func (e *Executor) Chat(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (models.ChatResponse, error) {
	req, err := e.prepare(ctx, userID, &req)
	if err != nil {
		return models.ChatResponse{}, err
	}

	exclude := make(map[uuid.UUID]bool)
	var lastErr error
	var lastDecision models.RouteDecision

	for attempt := 0; attempt < maxAttempts; attempt++ {
		decision, err := e.router.ResolveNext(ctx, req.Model, exclude)
		if err != nil {
			return models.ChatResponse{}, e.exhausted(ctx, userID, req.Model, lastDecision, lastErr, err)
		}
		e.logDecision(decision, req.Model)

		adapter, err := e.factory.Build(ctx, decision.Source, decision.Credential.Secret)
		if err != nil {
			// Misconfigured source; skip it without touching the credential.
			e.logger.Error("adapter build failed", "source", decision.Source.Name, "error", err)
			exclude[decision.Source.ID] = true
			lastErr = err
			continue
		}

		start := e.now()
		resp, err := adapter.Chat(ctx, req)
		latency := e.now().Sub(start)

		if err != nil {
			if e.shouldFailover(ctx, decision, req.Model, err) {
				exclude[decision.Source.ID] = true
				lastErr = err
				lastDecision = decision
				continue
			}
			e.accountant.Finalize(ctx, accounting.Outcome{
				Decision:  decision,
				UserID:    userID,
				Model:     req.Model,
				StartedAt: start,
				Status:    models.StatusError,
				Err:       err,
			})
			e.recordRelay(decision, req.Model, err, latency, models.Usage{})
			return models.ChatResponse{}, err
		}

		e.accountant.Finalize(ctx, accounting.Outcome{
			Decision:  decision,
			UserID:    userID,
			Model:     req.Model,
			Usage:     resp.Usage,
			StartedAt: start,
			Status:    models.StatusSuccess,
		})
		e.recordRelay(decision, req.Model, nil, latency, resp.Usage)
		return resp, nil
	}

	return models.ChatResponse{}, e.exhausted(ctx, userID, req.Model, lastDecision, lastErr, gwerr.ErrModelUnavailable)
}

// ChatStream executes a streaming completion. The returned channel carries
// zero or more content events followed by exactly one terminal event, except
// when ctx is cancelled, in which case it just closes. Usage is finalized
// after the channel closes.
func (e *Executor) ChatStream(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (<-chan models.StreamEvent, error) {
	req, err := e.prepare(ctx, userID, &req)
	if err != nil {
		return nil, err
	}
	promptEstimate := int32(tokenizer.EstimateMessages(req.Messages))

	exclude := make(map[uuid.UUID]bool)
	var lastErr error
	var lastDecision models.RouteDecision

	for attempt := 0; attempt < maxAttempts; attempt++ {
		decision, err := e.router.ResolveNext(ctx, req.Model, exclude)
		if err != nil {
			return nil, e.exhausted(ctx, userID, req.Model, lastDecision, lastErr, err)
		}
		e.logDecision(decision, req.Model)

		adapter, err := e.factory.Build(ctx, decision.Source, decision.Credential.Secret)
		if err != nil {
			e.logger.Error("adapter build failed", "source", decision.Source.Name, "error", err)
			exclude[decision.Source.ID] = true
			lastErr = err
			continue
		}

		start := e.now()
		chunks, cancel, err := adapter.ChatStream(ctx, req)
		if err != nil {
			// Dispatch failed before any byte reached the caller, so
			// failover is still on the table.
			if e.shouldFailover(ctx, decision, req.Model, err) {
				exclude[decision.Source.ID] = true
				lastErr = err
				lastDecision = decision
				continue
			}
			e.accountant.Finalize(ctx, accounting.Outcome{
				Decision:  decision,
				UserID:    userID,
				Model:     req.Model,
				StartedAt: start,
				Status:    models.StatusError,
				Err:       err,
			})
			return nil, err
		}

		proxy := streamproxy.New(streamproxy.Options{
			Provider:     decision.Source.Name,
			IdleTimeout:  e.idleTimeout,
			PromptTokens: promptEstimate,
			EstimateCompletion: func(text string) int32 {
				return int32(tokenizer.Estimate(text))
			},
		})
		events := proxy.Run(ctx, chunks, cancel)

		out := make(chan models.StreamEvent, 8)
		go e.relayAndFinalize(ctx, decision, userID, req.Model, start, proxy, events, out)
		return out, nil
	}

	return nil, e.exhausted(ctx, userID, req.Model, lastDecision, lastErr, gwerr.ErrModelUnavailable)
}

// relayAndFinalize forwards proxied events to the caller and writes the
// usage record once the relay settles.
func (e *Executor) relayAndFinalize(ctx context.Context, decision models.RouteDecision, userID uuid.UUID, model string, start time.Time, proxy *streamproxy.Proxy, events <-chan models.StreamEvent, out chan<- models.StreamEvent) {
	defer close(out)
	for ev := range events {
		select {
		case out <- ev:
		case <-ctx.Done():
			// Drain so the proxy can settle its result.
			for range events {
			}
		}
	}

	res := proxy.Result()
	status := models.StatusSuccess
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, context.Canceled):
		status = models.StatusCancelled
	default:
		status = models.StatusError
	}

	// The client may be gone; accounting still has to happen.
	finCtx := context.WithoutCancel(ctx)
	e.accountant.Finalize(finCtx, accounting.Outcome{
		Decision:  decision,
		UserID:    userID,
		Model:     model,
		Usage:     res.Usage,
		Estimated: res.Estimated,
		StartedAt: start,
		Status:    status,
		Err:       res.Err,
	})
	e.recordRelay(decision, model, res.Err, e.now().Sub(start), res.Usage)
}

// prepare runs the fail-fast phase: quota check, preset resolution, and
// context-window truncation. No usage record is produced for rejections here.
func (e *Executor) prepare(ctx context.Context, userID uuid.UUID, req *models.ChatRequest) (models.ChatRequest, error) {
	if e.quota != nil {
		if err := e.quota.Check(ctx, userID); err != nil {
			return models.ChatRequest{}, err
		}
	}

	e.applyPreset(ctx, req)
	if req.Model == "" {
		return models.ChatRequest{}, gwerr.ErrModelUnavailable
	}
	req.Messages = tokenizer.TruncateMessages(req.Messages, req.Model, tokenizer.TruncateOptions{})
	return *req, nil
}

// applyPreset fills request gaps from the conversation's pinned defaults.
// Explicit request values always win.
func (e *Executor) applyPreset(ctx context.Context, req *models.ChatRequest) {
	if e.presets == nil || req.ConversationID == "" {
		return
	}
	preset, err := e.presets.ConversationPreset(ctx, req.ConversationID)
	if err != nil {
		return
	}
	if req.Model == "" {
		req.Model = preset.Model
	}
	if req.Temperature == nil && preset.Temperature != nil {
		req.Temperature = preset.Temperature
	}
	if req.MaxTokens == nil && preset.MaxTokens != nil {
		req.MaxTokens = preset.MaxTokens
	}
	if preset.SystemPrompt != "" && !hasSystemMessage(req.Messages) {
		msgs := make([]models.ChatMessage, 0, len(req.Messages)+1)
		msgs = append(msgs, models.ChatMessage{Role: "system", Content: preset.SystemPrompt})
		req.Messages = append(msgs, req.Messages...)
	}
}

func hasSystemMessage(msgs []models.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

// shouldFailover debits the failed credential and reports whether another
// source should be tried. Attempts that fail over produce no usage record;
// the credential debit is their only trace.
func (e *Executor) shouldFailover(ctx context.Context, decision models.RouteDecision, model string, err error) bool {
	pe, ok := gwerr.AsProvider(err)
	if !ok || !pe.Retryable() {
		return false
	}
	if e.pool != nil {
		if rerr := e.pool.RecordError(ctx, decision.Credential, err); rerr != nil {
			e.logger.Error("credential debit failed", "credential_id", decision.Credential.ID, "error", rerr)
		}
	}
	e.logger.Warn("source failed, trying next",
		"source", decision.Source.Name, "status", pe.Status, "error", pe.Message)
	if e.metrics != nil {
		e.metrics.RecordFailover(model, decision.Source.Name, "next")
	}
	return true
}

// exhausted terminates a request whose failover chain ran out. When at least
// one upstream was reached, the lifecycle still gets its single error record;
// the credential is not debited again since each failed attempt already was.
func (e *Executor) exhausted(ctx context.Context, userID uuid.UUID, model string, lastDecision models.RouteDecision, lastErr, resolveErr error) error {
	if lastErr == nil {
		return resolveErr
	}
	if lastDecision.AttemptID != uuid.Nil {
		lastDecision.Credential = models.Credential{}
		e.accountant.Finalize(ctx, accounting.Outcome{
			Decision: lastDecision,
			UserID:   userID,
			Model:    model,
			Status:   models.StatusError,
			Err:      lastErr,
		})
	}
	return lastErr
}

func (e *Executor) logDecision(decision models.RouteDecision, model string) {
	e.logger.Info("route decision",
		"model", model,
		"source", decision.Source.Name,
		"reason", decision.Reason,
		"attempt_id", decision.AttemptID,
	)
}

func (e *Executor) recordRelay(decision models.RouteDecision, model string, err error, latency time.Duration, usage models.Usage) {
	if e.metrics == nil {
		return
	}
	status := 200
	if pe, ok := gwerr.AsProvider(err); ok {
		status = pe.Status
	} else if err != nil {
		status = 502
	}
	e.metrics.RecordRelayLatency(model, decision.Source.Name, status, latency)
	e.metrics.RecordTokens(model, decision.Source.Name, int64(usage.PromptTokens), int64(usage.CompletionTokens))
}
