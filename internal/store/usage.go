package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

// InsertUsageAndDeduct writes a usage record and applies its deltas to the
// user's quota counters in one transaction. The attempt ID is the idempotency
// key: a replay of an already-billed attempt is a no-op and reports
// inserted=false, leaving the quota untouched.
func (s *Store) InsertUsageAndDeduct(ctx context.Context, rec models.UsageRecord, day, month timeutil.Window) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin usage insert: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `
INSERT INTO usage_records
    (id, attempt_id, user_id, model, source_id, prompt_tokens,
     completion_tokens, total_tokens, cost, latency_ms, status,
     error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13)
ON CONFLICT (attempt_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insert,
		rec.ID, rec.AttemptID, rec.UserID, rec.Model, rec.SourceID,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.Cost.String(), rec.LatencyMS, rec.Status, rec.ErrorMessage,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert usage record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	// Rolling a counter into a new window resets it to this record's delta;
	// within the same window it accumulates. The stored reset markers are the
	// window start timestamps.
	const deduct = `
INSERT INTO user_quotas
    (user_id, tier, tokens_used_today, tokens_used_month, cost_today,
     cost_month, day_reset_at, month_reset_at)
VALUES ($1, 'default', $2, $2, $3::numeric, $3::numeric, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
    tokens_used_today = CASE WHEN user_quotas.day_reset_at >= $4
        THEN user_quotas.tokens_used_today + $2 ELSE $2 END,
    cost_today = CASE WHEN user_quotas.day_reset_at >= $4
        THEN user_quotas.cost_today + $3::numeric ELSE $3::numeric END,
    tokens_used_month = CASE WHEN user_quotas.month_reset_at >= $5
        THEN user_quotas.tokens_used_month + $2 ELSE $2 END,
    cost_month = CASE WHEN user_quotas.month_reset_at >= $5
        THEN user_quotas.cost_month + $3::numeric ELSE $3::numeric END,
    day_reset_at = GREATEST(user_quotas.day_reset_at, $4),
    month_reset_at = GREATEST(user_quotas.month_reset_at, $5)`

	_, err = tx.Exec(ctx, deduct,
		rec.UserID, int64(rec.TotalTokens), rec.Cost.String(),
		day.Start(), month.Start(),
	)
	if err != nil {
		return false, fmt.Errorf("deduct quota: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit usage insert: %w", err)
	}
	return true, nil
}

// UsageForUser lists a user's recent usage records, newest first.
func (s *Store) UsageForUser(ctx context.Context, userID uuid.UUID, limit int32) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, attempt_id, user_id, model, source_id, prompt_tokens,
       completion_tokens, total_tokens, cost::text, latency_ms, status,
       error_message, created_at
FROM usage_records
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("usage for user: %w", err)
	}
	defer rows.Close()

	var out []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var cost string
		if err := rows.Scan(
			&rec.ID, &rec.AttemptID, &rec.UserID, &rec.Model, &rec.SourceID,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&cost, &rec.LatencyMS, &rec.Status, &rec.ErrorMessage,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if rec.Cost, err = parseDecimal(cost); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
