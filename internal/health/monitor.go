// Package health periodically sweeps model sources: it publishes the number
// of active credentials per source and probes upstream reachability for
// adapters that support it.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/providers"
)

// Checker is implemented by adapters that can probe upstream reachability
// without spending tokens.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Store is the persistence surface the monitor reads.
type Store interface {
	ListSources(ctx context.Context) ([]models.ModelSource, error)
	ListCredentials(ctx context.Context, sourceID uuid.UUID) ([]models.Credential, error)
}

// Builder constructs a provider adapter for a source and credential secret.
type Builder interface {
	Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error)
}

// Monitor runs the periodic sweep.
type Monitor struct {
	store     Store
	factory   Builder
	metrics   *observability.Provider
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	startOnce sync.Once
}

func NewMonitor(store Store, factory Builder, metrics *observability.Provider, logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:    store,
		factory:  factory,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	sources, err := m.store.ListSources(ctx)
	if err != nil {
		m.logger.Error("health sweep: list sources", "error", err)
		return
	}

	for _, source := range sources {
		creds, err := m.store.ListCredentials(ctx, source.ID)
		if err != nil {
			m.logger.Error("health sweep: list credentials", "source", source.Name, "error", err)
			continue
		}
		active := 0
		var probe models.Credential
		for _, cred := range creds {
			if cred.IsActive {
				if active == 0 {
					probe = cred
				}
				active++
			}
		}
		m.metrics.SetActiveCredentials(source.Name, active)
		if active == 0 {
			m.logger.Warn("source has no active credentials", "source", source.Name)
			continue
		}
		m.probeSource(ctx, source, probe)
	}
}

// probeSource pings the upstream for adapters that expose a health check.
func (m *Monitor) probeSource(ctx context.Context, source models.ModelSource, cred models.Credential) {
	if m.factory == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	adapter, err := m.factory.Build(probeCtx, source, cred.Secret)
	if err != nil {
		m.logger.Error("health probe: build adapter", "source", source.Name, "error", err)
		return
	}
	checker, ok := adapter.(Checker)
	if !ok {
		return
	}
	if err := checker.HealthCheck(probeCtx); err != nil {
		m.logger.Warn("upstream health probe failed", "source", source.Name, "error", err)
	}
}
