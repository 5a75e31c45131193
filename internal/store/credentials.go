package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/keypool"
	"github.com/modelrelay/modelrelay/internal/models"
)

// selectCredentialSQL excludes credentials sitting at the error threshold
// even when a deactivation race left is_active stale.
const selectCredentialSQL = `
WITH picked AS (
    SELECT id
    FROM credentials
    WHERE source_id = $1 AND is_active AND consecutive_errors < $2
    ORDER BY last_used_at ASC NULLS FIRST
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE credentials c
SET last_used_at = now()
FROM picked
WHERE c.id = picked.id
RETURNING c.id, c.source_id, c.secret, c.is_active, c.consecutive_errors,
          c.error_count, c.total_requests, c.total_tokens_used,
          c.rate_limit_remain, c.last_used_at, c.last_error, c.created_at`

// SelectCredential picks the least-recently-used healthy credential for a
// source and stamps it used. SKIP LOCKED keeps concurrent selections from
// converging on the same row across gateway instances.
func (s *Store) SelectCredential(ctx context.Context, sourceID uuid.UUID) (models.Credential, error) {
	var cred models.Credential
	err := s.pool.QueryRow(ctx, selectCredentialSQL, sourceID, keypool.ErrorThreshold).Scan(
		&cred.ID, &cred.SourceID, &cred.Secret, &cred.IsActive,
		&cred.ConsecutiveErrors, &cred.ErrorCount, &cred.TotalRequests,
		&cred.TotalTokensUsed, &cred.RateLimitRemain, &cred.LastUsedAt,
		&cred.LastError, &cred.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, keypool.ErrNoCredential
	}
	if err != nil {
		return models.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return cred, nil
}

const applySuccessSQL = `
UPDATE credentials
SET consecutive_errors = 0,
    total_requests = total_requests + 1,
    total_tokens_used = total_tokens_used + $2,
    last_used_at = now()
WHERE id = $1`

// ApplySuccess resets the consecutive error run, adds to usage totals, and
// refreshes last_used_at so rotation reflects completion, not selection.
func (s *Store) ApplySuccess(ctx context.Context, id uuid.UUID, tokens int64) error {
	tag, err := s.pool.Exec(ctx, applySuccessSQL, id, tokens)
	if err != nil {
		return fmt.Errorf("apply credential success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s not found", id)
	}
	return nil
}

// ApplyError bumps both error counters and atomically retires the credential
// once the run reaches threshold.
func (s *Store) ApplyError(ctx context.Context, id uuid.UUID, message string, threshold int32) (int32, bool, error) {
	const q = `
UPDATE credentials
SET consecutive_errors = consecutive_errors + 1,
    error_count = error_count + 1,
    last_error = $2,
    is_active = is_active AND consecutive_errors + 1 < $3
WHERE id = $1
RETURNING consecutive_errors, is_active`

	var run int32
	var active bool
	if err := s.pool.QueryRow(ctx, q, id, message, threshold).Scan(&run, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("credential %s not found", id)
		}
		return 0, false, fmt.Errorf("apply credential error: %w", err)
	}
	return run, !active && run == threshold, nil
}

// SetActive flips the active flag; reactivation clears the error run.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `
UPDATE credentials
SET is_active = $2,
    consecutive_errors = CASE WHEN $2 THEN 0 ELSE consecutive_errors END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s not found", id)
	}
	return nil
}

// InsertCredential registers a new secret for a source.
func (s *Store) InsertCredential(ctx context.Context, sourceID uuid.UUID, secret string) (models.Credential, error) {
	const q = `
INSERT INTO credentials (id, source_id, secret, is_active, created_at)
VALUES ($1, $2, $3, true, now())
RETURNING id, source_id, secret, is_active, consecutive_errors,
          error_count, total_requests, total_tokens_used,
          rate_limit_remain, last_used_at, last_error, created_at`

	var cred models.Credential
	err := s.pool.QueryRow(ctx, q, uuid.New(), sourceID, secret).Scan(
		&cred.ID, &cred.SourceID, &cred.Secret, &cred.IsActive,
		&cred.ConsecutiveErrors, &cred.ErrorCount, &cred.TotalRequests,
		&cred.TotalTokensUsed, &cred.RateLimitRemain, &cred.LastUsedAt,
		&cred.LastError, &cred.CreatedAt,
	)
	if err != nil {
		return models.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return cred, nil
}

// ListCredentials returns every credential for a source, newest first, for
// the admin surface. Secrets are included; the handler redacts them.
func (s *Store) ListCredentials(ctx context.Context, sourceID uuid.UUID) ([]models.Credential, error) {
	const q = `
SELECT id, source_id, secret, is_active, consecutive_errors,
       error_count, total_requests, total_tokens_used,
       rate_limit_remain, last_used_at, last_error, created_at
FROM credentials
WHERE source_id = $1
ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		var cred models.Credential
		if err := rows.Scan(
			&cred.ID, &cred.SourceID, &cred.Secret, &cred.IsActive,
			&cred.ConsecutiveErrors, &cred.ErrorCount, &cred.TotalRequests,
			&cred.TotalTokensUsed, &cred.RateLimitRemain, &cred.LastUsedAt,
			&cred.LastError, &cred.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

var _ keypool.Store = (*Store)(nil)

// UpdateRateLimitRemain records the remaining-rate-limit header some
// providers send.
func (s *Store) UpdateRateLimitRemain(ctx context.Context, id uuid.UUID, remain int32, at time.Time) error {
	const q = `UPDATE credentials SET rate_limit_remain = $2, last_used_at = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, remain, at)
	return err
}
