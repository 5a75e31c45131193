// Package accounting turns finished request attempts into usage records.
// Every request lifecycle that reached an upstream produces exactly one
// record, keyed by the attempt ID so crash-replay cannot double-bill, and the
// record insert shares a transaction with the quota deduction.
package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

// Store persists usage atomically with the quota deduction.
type Store interface {
	// InsertUsageAndDeduct writes the record and applies its token/cost
	// deltas to the user's quota counters in one transaction. A record whose
	// attempt ID was already written is skipped and reported as not inserted.
	InsertUsageAndDeduct(ctx context.Context, rec models.UsageRecord, day, month timeutil.Window) (inserted bool, err error)
}

// CredentialRecorder is the slice of the key pool fed by attempt outcomes.
type CredentialRecorder interface {
	RecordSuccess(ctx context.Context, credID uuid.UUID, tokens int64) error
	RecordError(ctx context.Context, cred models.Credential, cause error) error
}

// Outcome describes one finished attempt against an upstream.
type Outcome struct {
	Decision  models.RouteDecision
	UserID    uuid.UUID
	Model     string
	Usage     models.Usage
	Estimated bool
	StartedAt time.Time
	Status    string
	Err       error
}

// Accountant writes usage records and propagates credential health.
type Accountant struct {
	store  Store
	pool   CredentialRecorder
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func New(store Store, pool CredentialRecorder, loc *time.Location, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		store:  store,
		pool:   pool,
		logger: logger,
		loc:    timeutil.EnsureLocation(loc),
		now:    time.Now,
	}
}

// Finalize records the attempt. It never returns the attempt's own error;
// the caller has already decided how the request terminates. Accounting
// failures are logged, not propagated, so a billing hiccup cannot break an
// otherwise delivered response.
func (a *Accountant) Finalize(ctx context.Context, outcome Outcome) {
	now := a.now()
	rec := models.UsageRecord{
		ID:               uuid.New(),
		AttemptID:        outcome.Decision.AttemptID,
		UserID:           outcome.UserID,
		Model:            outcome.Model,
		SourceID:         outcome.Decision.Source.ID,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		TotalTokens:      outcome.Usage.TotalTokens,
		Cost:             Cost(outcome.Usage, outcome.Decision.Source),
		Status:           outcome.Status,
		CreatedAt:        now,
	}
	if !outcome.StartedAt.IsZero() {
		rec.LatencyMS = now.Sub(outcome.StartedAt).Milliseconds()
	}
	if outcome.Err != nil {
		rec.ErrorMessage = outcome.Err.Error()
	}

	day := timeutil.DayWindow(now, a.loc)
	month := timeutil.MonthWindow(now, a.loc)
	inserted, err := a.store.InsertUsageAndDeduct(ctx, rec, day, month)
	if err != nil {
		a.logger.Error("usage record not persisted",
			"attempt_id", rec.AttemptID, "user_id", rec.UserID, "error", err)
		return
	}
	if !inserted {
		// Replay of an attempt that was already billed. The credential
		// outcome was applied the first time around too.
		return
	}

	a.applyCredentialOutcome(ctx, outcome)
}

func (a *Accountant) applyCredentialOutcome(ctx context.Context, outcome Outcome) {
	if a.pool == nil || outcome.Decision.Credential.ID == uuid.Nil {
		return
	}
	var err error
	switch outcome.Status {
	case models.StatusError:
		err = a.pool.RecordError(ctx, outcome.Decision.Credential, outcome.Err)
	default:
		// Cancellations count as credential successes: the upstream behaved.
		err = a.pool.RecordSuccess(ctx, outcome.Decision.Credential.ID, int64(outcome.Usage.TotalTokens))
	}
	if err != nil {
		a.logger.Error("credential outcome not recorded",
			"credential_id", outcome.Decision.Credential.ID, "error", err)
	}
}

// Cost prices usage against the source's published rates, honoring the
// source's price unit (per 1K or per 1M tokens).
func Cost(usage models.Usage, source models.ModelSource) decimal.Decimal {
	denom := decimal.NewFromInt(1000)
	if source.PriceUnit == models.PriceUnitPer1M {
		denom = decimal.NewFromInt(1_000_000)
	}
	prompt := source.InputPrice.Mul(decimal.NewFromInt32(usage.PromptTokens)).Div(denom)
	completion := source.OutputPrice.Mul(decimal.NewFromInt32(usage.CompletionTokens)).Div(denom)
	return prompt.Add(completion)
}
