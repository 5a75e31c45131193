// Package modelsync pulls each source's remote model catalog and republishes
// it as normalized entries. A sync fully replaces the source's catalog inside
// one transaction, so a mid-sync failure leaves the previous catalog intact.
package modelsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
)

// SyncInterval is how stale a source's catalog may get before NeedsSync
// reports true.
const SyncInterval = 24 * time.Hour

// Store persists catalogs and sync bookkeeping.
type Store interface {
	// ListSources returns every enabled source.
	ListSources(ctx context.Context) ([]models.ModelSource, error)
	// ReplaceCatalog deletes the source's catalog rows and inserts the new
	// set in a single transaction, then stamps the source's last sync time.
	ReplaceCatalog(ctx context.Context, sourceID uuid.UUID, entries []models.AggregatorModel, syncedAt time.Time) error
}

// AdapterFactory builds the adapter used to list a source's models.
type AdapterFactory interface {
	Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error)
}

// CredentialSelector picks a credential to authenticate the catalog fetch.
type CredentialSelector interface {
	Select(ctx context.Context, sourceID uuid.UUID) (models.Credential, error)
}

// Service syncs source catalogs on demand or on a timer.
type Service struct {
	store   Store
	factory AdapterFactory
	pool    CredentialSelector
	logger  *slog.Logger
	now     func() time.Time
}

func New(store Store, factory AdapterFactory, pool CredentialSelector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		factory: factory,
		pool:    pool,
		logger:  logger,
		now:     time.Now,
	}
}

// NeedsSync reports whether the source has never synced or its catalog is
// older than SyncInterval.
func (s *Service) NeedsSync(source models.ModelSource) bool {
	if source.LastSyncAt == nil {
		return true
	}
	return s.now().Sub(*source.LastSyncAt) > SyncInterval
}

// SyncAll refreshes every enabled source that is due. Per-source failures are
// logged and skipped; the first store-level error aborts.
func (s *Service) SyncAll(ctx context.Context) error {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, source := range sources {
		if !s.NeedsSync(source) {
			continue
		}
		if err := s.SyncSource(ctx, source); err != nil {
			if errors.Is(err, gwerr.ErrModelListingUnsupported) {
				s.logger.Debug("source has no catalog endpoint, skipping", "source", source.Name)
				continue
			}
			s.logger.Error("catalog sync failed", "source", source.Name, "error", err)
		}
	}
	return nil
}

// SyncSource fetches and republishes one source's catalog.
func (s *Service) SyncSource(ctx context.Context, source models.ModelSource) error {
	cred, err := s.pool.Select(ctx, source.ID)
	if err != nil {
		return fmt.Errorf("select credential: %w", err)
	}
	adapter, err := s.factory.Build(ctx, source, cred.Secret)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}

	remote, err := adapter.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		// An empty upstream catalog is indistinguishable from a broken one.
		// Keep the previous entries.
		return fmt.Errorf("source %q returned an empty catalog", source.Name)
	}

	syncedAt := s.now().UTC()
	entries := make([]models.AggregatorModel, 0, len(remote))
	for _, raw := range remote {
		entries = append(entries, Normalize(source, raw, syncedAt))
	}

	if err := s.store.ReplaceCatalog(ctx, source.ID, entries, syncedAt); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	s.logger.Info("catalog synced", "source", source.Name, "models", len(entries))
	return nil
}

// Run keeps catalogs fresh until ctx is cancelled, checking every interval.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.SyncAll(ctx); err != nil {
		s.logger.Error("initial catalog sync failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncAll(ctx); err != nil {
				s.logger.Error("catalog sync pass failed", "error", err)
			}
		}
	}
}

// Normalize maps one raw provider entry into the published catalog shape.
// Pricing falls back to the source's configured rates when the provider does
// not publish any.
func Normalize(source models.ModelSource, raw models.RemoteModel, syncedAt time.Time) models.AggregatorModel {
	modelType := classifyType(raw.ID)
	entry := models.AggregatorModel{
		SourceID:        source.ID,
		ModelID:         raw.ID,
		DisplayName:     raw.DisplayName,
		ModelType:       modelType,
		Capabilities:    classifyCapabilities(raw, modelType),
		ContextWindow:   contextWindow(raw),
		MaxOutputTokens: maxOutputTokens(raw),
		InputPrice:      raw.InputPrice,
		OutputPrice:     raw.OutputPrice,
		PriceUnit:       raw.PriceUnit,
		IsAvailable:     true,
		SyncedAt:        syncedAt,
	}
	if entry.DisplayName == "" {
		entry.DisplayName = raw.ID
	}
	if entry.PriceUnit == "" || (entry.InputPrice.IsZero() && entry.OutputPrice.IsZero()) {
		entry.InputPrice = source.InputPrice
		entry.OutputPrice = source.OutputPrice
		entry.PriceUnit = source.PriceUnit
	}
	return entry
}
