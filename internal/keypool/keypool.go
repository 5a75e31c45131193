// Package keypool manages the pool of upstream credentials attached to a
// model source. It hands out the least-recently-used active credential and
// tracks per-credential health: a run of consecutive upstream errors retires
// a credential until an operator reactivates it.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ErrorThreshold is the number of consecutive upstream errors after which a
// credential is deactivated. A single success resets the run.
const ErrorThreshold = 5

// ErrNoCredential is returned when a source has no active credential left.
var ErrNoCredential = errors.New("no active credential for source")

// Store is the persistence contract the pool needs. The pgx implementation
// lives in internal/store; tests use an in-memory fake.
type Store interface {
	// SelectCredential returns the least-recently-used credential for the
	// source that is active and below ErrorThreshold, marking it used.
	// Implementations must be safe for concurrent selection across gateway
	// instances.
	SelectCredential(ctx context.Context, sourceID uuid.UUID) (models.Credential, error)
	// ApplySuccess resets the consecutive error run, adds to the usage
	// totals, and refreshes the credential's last-used timestamp.
	ApplySuccess(ctx context.Context, id uuid.UUID, tokens int64) error
	// ApplyError increments both error counters, records the message, and
	// atomically deactivates the credential when the consecutive run reaches
	// threshold. It returns the new run length and whether it deactivated.
	ApplyError(ctx context.Context, id uuid.UUID, message string, threshold int32) (run int32, deactivated bool, err error)
	// SetActive flips a credential's active flag and clears its error run when
	// reactivating.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Pool selects credentials and applies health outcomes.
type Pool struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: store, logger: logger}
}

// Select returns an active credential for the source, least recently used
// first. Returns ErrNoCredential when the pool is exhausted.
func (p *Pool) Select(ctx context.Context, sourceID uuid.UUID) (models.Credential, error) {
	cred, err := p.store.SelectCredential(ctx, sourceID)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return models.Credential{}, ErrNoCredential
		}
		return models.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return cred, nil
}

// RecordSuccess resets the credential's consecutive error run and adds the
// request's token total to its usage counters.
func (p *Pool) RecordSuccess(ctx context.Context, credID uuid.UUID, tokens int64) error {
	if err := p.store.ApplySuccess(ctx, credID, tokens); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RecordError increments the credential's error counters. Crossing
// ErrorThreshold consecutive errors deactivates the credential.
func (p *Pool) RecordError(ctx context.Context, cred models.Credential, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	run, deactivated, err := p.store.ApplyError(ctx, cred.ID, message, ErrorThreshold)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	if deactivated {
		p.logger.Warn("credential deactivated after repeated upstream errors",
			"credential_id", cred.ID,
			"source_id", cred.SourceID,
			"consecutive_errors", run,
			"last_error", message,
		)
	}
	return nil
}

// Activate re-enables a credential and clears its error run.
func (p *Pool) Activate(ctx context.Context, credID uuid.UUID) error {
	return p.store.SetActive(ctx, credID, true)
}

// Deactivate retires a credential manually.
func (p *Pool) Deactivate(ctx context.Context, credID uuid.UUID) error {
	return p.store.SetActive(ctx, credID, false)
}
