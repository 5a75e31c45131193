// Package quota enforces per-user token and cost ceilings over calendar day
// and month windows. Checks happen before routing; deductions are applied by
// the usage accountant in the same transaction as the usage record.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

// TierLimits caps a pricing tier. Zero values mean unlimited.
type TierLimits struct {
	DailyTokens   int64
	MonthlyTokens int64
	DailyCost     decimal.Decimal
	MonthlyCost   decimal.Decimal
}

// Store reads quota state. The accountant owns writes.
type Store interface {
	// QuotaState returns the user's current counters; first-time users get a
	// zeroed state.
	QuotaState(ctx context.Context, userID uuid.UUID) (models.QuotaState, error)
}

// Checker evaluates quota state against tier limits.
type Checker struct {
	store Store
	tiers map[string]TierLimits
	loc   *time.Location
	now   func() time.Time
}

func New(store Store, tiers map[string]TierLimits, loc *time.Location) *Checker {
	return &Checker{
		store: store,
		tiers: tiers,
		loc:   timeutil.EnsureLocation(loc),
		now:   time.Now,
	}
}

// Check rejects a request whose user already exhausted a window. Counters
// from a window that has since rolled over read as zero; the stored row is
// reset lazily on the next deduction.
func (c *Checker) Check(ctx context.Context, userID uuid.UUID) error {
	state, err := c.store.QuotaState(ctx, userID)
	if err != nil {
		return fmt.Errorf("load quota for %s: %w", userID, err)
	}
	limits, ok := c.tiers[state.Tier]
	if !ok {
		limits, ok = c.tiers["default"]
	}
	if !ok {
		// Unknown tier with no default: nothing to enforce.
		return nil
	}

	now := c.now()
	tokensDay, costDay := state.TokensUsedToday, state.CostToday
	if !timeutil.DayWindow(now, c.loc).Contains(state.DayResetAt) {
		tokensDay, costDay = 0, decimal.Zero
	}
	tokensMonth, costMonth := state.TokensUsedMonth, state.CostMonth
	if !timeutil.MonthWindow(now, c.loc).Contains(state.MonthResetAt) {
		tokensMonth, costMonth = 0, decimal.Zero
	}

	switch {
	case limits.DailyTokens > 0 && tokensDay >= limits.DailyTokens:
		return fmt.Errorf("daily token limit %d reached: %w", limits.DailyTokens, gwerr.ErrQuotaExceeded)
	case limits.MonthlyTokens > 0 && tokensMonth >= limits.MonthlyTokens:
		return fmt.Errorf("monthly token limit %d reached: %w", limits.MonthlyTokens, gwerr.ErrQuotaExceeded)
	case limits.DailyCost.IsPositive() && costDay.GreaterThanOrEqual(limits.DailyCost):
		return fmt.Errorf("daily cost limit %s reached: %w", limits.DailyCost, gwerr.ErrQuotaExceeded)
	case limits.MonthlyCost.IsPositive() && costMonth.GreaterThanOrEqual(limits.MonthlyCost):
		return fmt.Errorf("monthly cost limit %s reached: %w", limits.MonthlyCost, gwerr.ErrQuotaExceeded)
	}
	return nil
}
