package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/models"
)

// QuotaState reads a user's quota counters. First-time users get a zeroed
// state on the default tier without a row being written; the accountant's
// first deduction creates it.
func (s *Store) QuotaState(ctx context.Context, userID uuid.UUID) (models.QuotaState, error) {
	const q = `
SELECT user_id, tier, tokens_used_today, tokens_used_month,
       cost_today::text, cost_month::text, day_reset_at, month_reset_at
FROM user_quotas
WHERE user_id = $1`

	var state models.QuotaState
	var costToday, costMonth string
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&state.UserID, &state.Tier, &state.TokensUsedToday,
		&state.TokensUsedMonth, &costToday, &costMonth,
		&state.DayResetAt, &state.MonthResetAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QuotaState{
			UserID:    userID,
			Tier:      "default",
			CostToday: decimal.Zero,
			CostMonth: decimal.Zero,
		}, nil
	}
	if err != nil {
		return models.QuotaState{}, fmt.Errorf("load quota state: %w", err)
	}
	if state.CostToday, err = parseDecimal(costToday); err != nil {
		return models.QuotaState{}, err
	}
	if state.CostMonth, err = parseDecimal(costMonth); err != nil {
		return models.QuotaState{}, err
	}
	return state, nil
}

// SetTier moves a user onto a tier, creating the quota row if needed.
func (s *Store) SetTier(ctx context.Context, userID uuid.UUID, tier string) error {
	const q = `
INSERT INTO user_quotas (user_id, tier, day_reset_at, month_reset_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier`
	if _, err := s.pool.Exec(ctx, q, userID, tier); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}
