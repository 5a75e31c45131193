package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
)

var user1 = uuid.New()

type stateStore map[uuid.UUID]models.QuotaState

func (s stateStore) QuotaState(ctx context.Context, userID uuid.UUID) (models.QuotaState, error) {
	return s[userID], nil
}

var testNow = time.Date(2026, time.April, 10, 14, 0, 0, 0, time.UTC)

func newChecker(store Store, tiers map[string]TierLimits) *Checker {
	c := New(store, tiers, time.UTC)
	c.now = func() time.Time { return testNow }
	return c
}

func TestCheckUnderLimit(t *testing.T) {
	store := stateStore{user1: {
		UserID: user1, Tier: "pro",
		TokensUsedToday: 500, DayResetAt: testNow,
		MonthResetAt: testNow,
	}}
	c := newChecker(store, map[string]TierLimits{"pro": {DailyTokens: 1000}})
	if err := c.Check(context.Background(), user1); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestCheckDailyTokensExhausted(t *testing.T) {
	store := stateStore{user1: {
		UserID: user1, Tier: "pro",
		TokensUsedToday: 1000, DayResetAt: testNow,
		MonthResetAt: testNow,
	}}
	c := newChecker(store, map[string]TierLimits{"pro": {DailyTokens: 1000}})
	if err := c.Check(context.Background(), user1); !errors.Is(err, gwerr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestCheckStaleWindowReadsAsZero(t *testing.T) {
	// Counters were last reset yesterday, so today's usage is zero even
	// though the stored numbers are over the limit.
	store := stateStore{user1: {
		UserID: user1, Tier: "pro",
		TokensUsedToday: 5000, DayResetAt: testNow.AddDate(0, 0, -1),
		TokensUsedMonth: 100, MonthResetAt: testNow,
	}}
	c := newChecker(store, map[string]TierLimits{"pro": {DailyTokens: 1000}})
	if err := c.Check(context.Background(), user1); err != nil {
		t.Fatalf("stale day window should not block: %v", err)
	}
}

func TestCheckMonthlyCostExhausted(t *testing.T) {
	store := stateStore{user1: {
		UserID: user1, Tier: "free",
		CostMonth: decimal.NewFromInt(10), DayResetAt: testNow, MonthResetAt: testNow,
	}}
	c := newChecker(store, map[string]TierLimits{"free": {MonthlyCost: decimal.NewFromInt(10)}})
	if err := c.Check(context.Background(), user1); !errors.Is(err, gwerr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestCheckUnknownTierFallsBackToDefault(t *testing.T) {
	store := stateStore{user1: {
		UserID: user1, Tier: "legacy",
		TokensUsedToday: 200, DayResetAt: testNow, MonthResetAt: testNow,
	}}
	c := newChecker(store, map[string]TierLimits{"default": {DailyTokens: 100}})
	if err := c.Check(context.Background(), user1); !errors.Is(err, gwerr.ErrQuotaExceeded) {
		t.Fatalf("expected default tier enforcement, got %v", err)
	}

	// No default tier either: nothing to enforce.
	c = newChecker(store, map[string]TierLimits{"pro": {DailyTokens: 100}})
	if err := c.Check(context.Background(), user1); err != nil {
		t.Fatalf("unknown tier without default should pass: %v", err)
	}
}
