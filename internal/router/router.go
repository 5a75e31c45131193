// Package router picks which model source serves a request. Sources that
// claim a model are tried in priority order; within a source the key pool
// chooses the credential. Each returned decision carries a fresh attempt ID
// that threads through usage accounting.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/keypool"
	"github.com/modelrelay/modelrelay/internal/models"
)

// SourceStore lists the enabled sources able to serve a model, highest
// priority first. Ties break on name for stable ordering.
type SourceStore interface {
	SourcesForModel(ctx context.Context, model string) ([]models.ModelSource, error)
}

// CredentialSelector is the slice of the key pool the router needs.
type CredentialSelector interface {
	Select(ctx context.Context, sourceID uuid.UUID) (models.Credential, error)
}

// Router resolves (model, tried-set) pairs into attempt decisions.
type Router struct {
	sources SourceStore
	pool    CredentialSelector
	logger  *slog.Logger
}

func New(sources SourceStore, pool CredentialSelector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sources: sources, pool: pool, logger: logger}
}

// Resolve picks the highest-priority source with an available credential.
func (r *Router) Resolve(ctx context.Context, model string) (models.RouteDecision, error) {
	return r.ResolveNext(ctx, model, nil)
}

// ResolveNext picks the best source not already in exclude. Callers grow the
// exclude set as attempts fail so a failover never revisits a source that
// already errored for this request. Returns gwerr.ErrModelUnavailable when
// every candidate is excluded or has an exhausted key pool.
func (r *Router) ResolveNext(ctx context.Context, model string, exclude map[uuid.UUID]bool) (models.RouteDecision, error) {
	sources, err := r.sources.SourcesForModel(ctx, model)
	if err != nil {
		return models.RouteDecision{}, fmt.Errorf("list sources for %q: %w", model, err)
	}

	for _, source := range sources {
		if exclude[source.ID] {
			continue
		}
		cred, err := r.pool.Select(ctx, source.ID)
		if err != nil {
			if errors.Is(err, keypool.ErrNoCredential) {
				r.logger.Debug("source skipped, key pool exhausted",
					"source", source.Name, "model", model)
				continue
			}
			return models.RouteDecision{}, err
		}

		reason := "primary"
		if len(exclude) > 0 {
			reason = "failover"
		}
		return models.RouteDecision{
			AttemptID:  uuid.New(),
			Source:     source,
			Credential: cred,
			Reason:     reason,
		}, nil
	}

	return models.RouteDecision{}, gwerr.ErrModelUnavailable
}
