package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ErrAPIKeyNotFound is returned when no active key matches a prefix.
var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKeyByPrefix resolves an active key from its public prefix. The caller
// still needs to verify the secret against SecretHash.
func (s *Store) APIKeyByPrefix(ctx context.Context, prefix string) (models.APIKey, error) {
	const q = `
SELECT id, user_id, name, key_prefix, secret_hash, tier, is_admin, is_active, created_at, last_used_at
FROM api_keys
WHERE key_prefix = $1 AND is_active`

	var key models.APIKey
	err := s.pool.QueryRow(ctx, q, prefix).Scan(
		&key.ID, &key.UserID, &key.Name, &key.KeyPrefix, &key.SecretHash,
		&key.Tier, &key.IsAdmin, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return models.APIKey{}, fmt.Errorf("lookup api key: %w", err)
	}
	return key, nil
}

// TouchAPIKey stamps a key's last use. Called off the hot path.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// InsertAPIKey registers a new key with a hashed secret.
func (s *Store) InsertAPIKey(ctx context.Context, key models.APIKey) error {
	const q = `
INSERT INTO api_keys (id, user_id, name, key_prefix, secret_hash, tier, is_admin, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, now())`
	_, err := s.pool.Exec(ctx, q, key.ID, key.UserID, key.Name, key.KeyPrefix, key.SecretHash, key.Tier, key.IsAdmin)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}
