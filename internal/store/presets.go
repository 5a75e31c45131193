package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ErrPresetNotFound is returned when a conversation has no stored preset.
var ErrPresetNotFound = errors.New("conversation preset not found")

// ConversationPreset resolves the defaults pinned to a conversation id.
func (s *Store) ConversationPreset(ctx context.Context, conversationID string) (models.ConversationPreset, error) {
	const q = `
SELECT conversation_id, user_id, model, system_prompt, temperature,
       max_tokens, created_at
FROM conversation_presets
WHERE conversation_id = $1`

	var p models.ConversationPreset
	err := s.pool.QueryRow(ctx, q, conversationID).Scan(
		&p.ConversationID, &p.UserID, &p.Model, &p.SystemPrompt,
		&p.Temperature, &p.MaxTokens, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ConversationPreset{}, ErrPresetNotFound
	}
	if err != nil {
		return models.ConversationPreset{}, fmt.Errorf("load conversation preset: %w", err)
	}
	return p, nil
}

// SaveConversationPreset pins defaults to a conversation id.
func (s *Store) SaveConversationPreset(ctx context.Context, p models.ConversationPreset) error {
	const q = `
INSERT INTO conversation_presets
    (conversation_id, user_id, model, system_prompt, temperature, max_tokens, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (conversation_id) DO UPDATE SET
    model = EXCLUDED.model,
    system_prompt = EXCLUDED.system_prompt,
    temperature = EXCLUDED.temperature,
    max_tokens = EXCLUDED.max_tokens`
	_, err := s.pool.Exec(ctx, q,
		p.ConversationID, p.UserID, p.Model, p.SystemPrompt,
		p.Temperature, p.MaxTokens,
	)
	if err != nil {
		return fmt.Errorf("save conversation preset: %w", err)
	}
	return nil
}
