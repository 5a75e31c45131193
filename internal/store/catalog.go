package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ReplaceCatalog swaps a source's published catalog in one transaction. The
// delete and inserts either all land or none do, so readers never observe a
// partially synced source.
func (s *Store) ReplaceCatalog(ctx context.Context, sourceID uuid.UUID, entries []models.AggregatorModel, syncedAt time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin catalog replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM catalog_models WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	const insert = `
INSERT INTO catalog_models
    (source_id, model_id, display_name, model_type, capabilities,
     context_window, max_output_tokens, input_price, output_price,
     price_unit, is_available, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12)`

	for _, e := range entries {
		_, err := tx.Exec(ctx, insert,
			sourceID, e.ModelID, e.DisplayName, e.ModelType, e.Capabilities,
			e.ContextWindow, e.MaxOutputTokens,
			e.InputPrice.String(), e.OutputPrice.String(), e.PriceUnit,
			e.IsAvailable, syncedAt,
		)
		if err != nil {
			return fmt.Errorf("insert catalog row %s: %w", e.ModelID, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE model_sources SET last_sync_at = $2 WHERE id = $1`, sourceID, syncedAt); err != nil {
		return fmt.Errorf("stamp source sync: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit catalog replace: %w", err)
	}
	return nil
}

// ListCatalog returns the published catalog across all sources, for the
// /v1/models surface. A model served by several sources appears once per
// source; callers dedupe if they need to.
func (s *Store) ListCatalog(ctx context.Context) ([]models.AggregatorModel, error) {
	const q = `
SELECT source_id, model_id, display_name, model_type, capabilities,
       context_window, max_output_tokens, input_price::text,
       output_price::text, price_unit, is_available, synced_at
FROM catalog_models
WHERE is_available
ORDER BY model_id, source_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	var out []models.AggregatorModel
	for rows.Next() {
		var e models.AggregatorModel
		var inputPrice, outputPrice string
		if err := rows.Scan(
			&e.SourceID, &e.ModelID, &e.DisplayName, &e.ModelType,
			&e.Capabilities, &e.ContextWindow, &e.MaxOutputTokens,
			&inputPrice, &outputPrice, &e.PriceUnit, &e.IsAvailable,
			&e.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if e.InputPrice, err = parseDecimal(inputPrice); err != nil {
			return nil, err
		}
		if e.OutputPrice, err = parseDecimal(outputPrice); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
