// Package store is the gateway's Postgres query layer. One Store wraps a pgx
// pool and exposes the narrow per-concern interfaces the domain packages
// consume (credential selection, routing lookups, usage accounting, catalog
// replacement).
package store

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store executes the gateway's queries against a shared pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// parseDecimal converts a numeric column scanned as text. Postgres numerics
// are read as text to keep exact decimal semantics.
func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return d, nil
}
