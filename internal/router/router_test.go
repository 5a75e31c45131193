package router

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/gwerr"
	"github.com/modelrelay/modelrelay/internal/keypool"
	"github.com/modelrelay/modelrelay/internal/models"
)

type staticSources []models.ModelSource

func (s staticSources) SourcesForModel(ctx context.Context, model string) ([]models.ModelSource, error) {
	return s, nil
}

type staticPool struct {
	creds map[uuid.UUID]models.Credential
}

func (p staticPool) Select(ctx context.Context, sourceID uuid.UUID) (models.Credential, error) {
	cred, ok := p.creds[sourceID]
	if !ok {
		return models.Credential{}, keypool.ErrNoCredential
	}
	return cred, nil
}

func source(name string, priority int) models.ModelSource {
	return models.ModelSource{ID: uuid.New(), Name: name, Priority: priority, Enabled: true}
}

func TestResolvePicksHighestPriority(t *testing.T) {
	primary := source("primary", 100)
	backup := source("backup", 50)
	pool := staticPool{creds: map[uuid.UUID]models.Credential{
		primary.ID: {ID: uuid.New(), SourceID: primary.ID},
		backup.ID:  {ID: uuid.New(), SourceID: backup.ID},
	}}

	r := New(staticSources{primary, backup}, pool, nil)
	decision, err := r.Resolve(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Source.ID != primary.ID {
		t.Fatalf("routed to %s, want primary", decision.Source.Name)
	}
	if decision.Reason != "primary" {
		t.Fatalf("reason = %q, want primary", decision.Reason)
	}
	if decision.AttemptID == uuid.Nil {
		t.Fatal("attempt id not assigned")
	}
}

func TestResolveNextSkipsExcluded(t *testing.T) {
	primary := source("primary", 100)
	backup := source("backup", 50)
	pool := staticPool{creds: map[uuid.UUID]models.Credential{
		primary.ID: {ID: uuid.New(), SourceID: primary.ID},
		backup.ID:  {ID: uuid.New(), SourceID: backup.ID},
	}}

	r := New(staticSources{primary, backup}, pool, nil)
	decision, err := r.ResolveNext(context.Background(), "gpt-4o", map[uuid.UUID]bool{primary.ID: true})
	if err != nil {
		t.Fatalf("ResolveNext: %v", err)
	}
	if decision.Source.ID != backup.ID {
		t.Fatalf("routed to %s, want backup", decision.Source.Name)
	}
	if decision.Reason != "failover" {
		t.Fatalf("reason = %q, want failover", decision.Reason)
	}
}

func TestResolveSkipsExhaustedPools(t *testing.T) {
	primary := source("primary", 100)
	backup := source("backup", 50)
	// Primary has no credential left.
	pool := staticPool{creds: map[uuid.UUID]models.Credential{
		backup.ID: {ID: uuid.New(), SourceID: backup.ID},
	}}

	r := New(staticSources{primary, backup}, pool, nil)
	decision, err := r.Resolve(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Source.ID != backup.ID {
		t.Fatalf("routed to %s, want backup", decision.Source.Name)
	}
}

func TestResolveModelUnavailable(t *testing.T) {
	primary := source("primary", 100)
	pool := staticPool{creds: map[uuid.UUID]models.Credential{}}

	r := New(staticSources{primary}, pool, nil)
	if _, err := r.Resolve(context.Background(), "gpt-4o"); !errors.Is(err, gwerr.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestAttemptIDsAreUnique(t *testing.T) {
	primary := source("primary", 100)
	pool := staticPool{creds: map[uuid.UUID]models.Credential{
		primary.ID: {ID: uuid.New(), SourceID: primary.ID},
	}}

	r := New(staticSources{primary}, pool, nil)
	first, err := r.Resolve(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.AttemptID == second.AttemptID {
		t.Fatal("attempt ids reused across resolutions")
	}
}
