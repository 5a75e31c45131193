package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ErrSourceNotFound is returned for lookups of unknown sources.
var ErrSourceNotFound = errors.New("model source not found")

const sourceColumns = `
id, name, kind, standard, endpoint, region, extra_headers, priority, enabled,
input_price::text, output_price::text, price_unit, last_sync_at, created_at`

func scanSource(row pgx.Row) (models.ModelSource, error) {
	var src models.ModelSource
	var inputPrice, outputPrice string
	err := row.Scan(
		&src.ID, &src.Name, &src.Kind, &src.Standard, &src.Endpoint,
		&src.Region, &src.ExtraHeaders, &src.Priority, &src.Enabled,
		&inputPrice, &outputPrice, &src.PriceUnit, &src.LastSyncAt,
		&src.CreatedAt,
	)
	if err != nil {
		return models.ModelSource{}, err
	}
	if src.InputPrice, err = parseDecimal(inputPrice); err != nil {
		return models.ModelSource{}, err
	}
	if src.OutputPrice, err = parseDecimal(outputPrice); err != nil {
		return models.ModelSource{}, err
	}
	return src, nil
}

// SourcesForModel lists the enabled sources whose published catalog carries
// the model, highest priority first with name as the tiebreak.
func (s *Store) SourcesForModel(ctx context.Context, model string) ([]models.ModelSource, error) {
	const q = `
SELECT ` + sourceColumns + `
FROM model_sources
WHERE enabled
  AND id IN (
      SELECT source_id FROM catalog_models
      WHERE model_id = $1 AND is_available
  )
ORDER BY priority DESC, name ASC`

	rows, err := s.pool.Query(ctx, q, model)
	if err != nil {
		return nil, fmt.Errorf("sources for model: %w", err)
	}
	defer rows.Close()

	var out []models.ModelSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ListSources returns every enabled source, for sync passes.
func (s *Store) ListSources(ctx context.Context) ([]models.ModelSource, error) {
	const q = `SELECT ` + sourceColumns + ` FROM model_sources WHERE enabled ORDER BY priority DESC, name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.ModelSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource fetches one source by id.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (models.ModelSource, error) {
	const q = `SELECT ` + sourceColumns + ` FROM model_sources WHERE id = $1`
	src, err := scanSource(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ModelSource{}, ErrSourceNotFound
	}
	if err != nil {
		return models.ModelSource{}, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// UpsertSource creates or updates a source keyed by name.
func (s *Store) UpsertSource(ctx context.Context, src models.ModelSource) (models.ModelSource, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	const q = `
INSERT INTO model_sources
    (id, name, kind, standard, endpoint, region, extra_headers, priority,
     enabled, input_price, output_price, price_unit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12, now())
ON CONFLICT (name) DO UPDATE SET
    kind = EXCLUDED.kind,
    standard = EXCLUDED.standard,
    endpoint = EXCLUDED.endpoint,
    region = EXCLUDED.region,
    extra_headers = EXCLUDED.extra_headers,
    priority = EXCLUDED.priority,
    enabled = EXCLUDED.enabled,
    input_price = EXCLUDED.input_price,
    output_price = EXCLUDED.output_price,
    price_unit = EXCLUDED.price_unit
RETURNING ` + sourceColumns

	row := s.pool.QueryRow(ctx, q,
		src.ID, src.Name, src.Kind, src.Standard, src.Endpoint, src.Region,
		src.ExtraHeaders, src.Priority, src.Enabled,
		src.InputPrice.String(), src.OutputPrice.String(), src.PriceUnit,
	)
	out, err := scanSource(row)
	if err != nil {
		return models.ModelSource{}, fmt.Errorf("upsert source: %w", err)
	}
	return out, nil
}
