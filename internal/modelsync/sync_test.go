package modelsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
)

func TestClassifyType(t *testing.T) {
	cases := map[string]string{
		"text-embedding-3-small":  models.ModelTypeEmbedding,
		"gpt-4o":                  models.ModelTypeChat,
		"dall-e-3":                models.ModelTypeImage,
		"whisper-1":               models.ModelTypeAudio,
		"rerank-english-v3.0":     models.ModelTypeRerank,
		"claude-sonnet-4":         models.ModelTypeChat,
		"stable-diffusion-xl":     models.ModelTypeImage,
		"gemini-embedding-001":    models.ModelTypeEmbedding,
		"meta-llama/llama-3-70b":  models.ModelTypeChat,
		"tts-1-hd":                models.ModelTypeAudio,
		"openai/gpt-4o-2024-11-x": models.ModelTypeChat,
	}
	for id, want := range cases {
		if got := classifyType(id); got != want {
			t.Errorf("classifyType(%q) = %s, want %s", id, got, want)
		}
	}
}

func TestClassifyCapabilities(t *testing.T) {
	caps := classifyCapabilities(models.RemoteModel{ID: "gpt-4o"}, models.ModelTypeChat)
	if !caps.Vision || !caps.Functions || !caps.Streaming || !caps.JSONMode {
		t.Fatalf("gpt-4o capabilities = %+v", caps)
	}

	caps = classifyCapabilities(models.RemoteModel{ID: "mistral-7b-instruct"}, models.ModelTypeChat)
	if caps.Vision || caps.Functions {
		t.Fatalf("unknown family should not claim vision/functions: %+v", caps)
	}
	if !caps.Streaming {
		t.Fatal("chat models default to streaming")
	}

	// Explicit provider flags win over id inference.
	no := false
	caps = classifyCapabilities(models.RemoteModel{ID: "gpt-4o", Vision: &no}, models.ModelTypeChat)
	if caps.Vision {
		t.Fatal("provider flag should override id hint")
	}

	caps = classifyCapabilities(models.RemoteModel{ID: "text-embedding-3-small"}, models.ModelTypeEmbedding)
	if caps.Streaming || caps.Vision {
		t.Fatalf("non-chat models carry no chat capabilities: %+v", caps)
	}
}

func TestContextAndOutputFallbacks(t *testing.T) {
	raw := models.RemoteModel{ID: "gpt-4o"}
	if got := contextWindow(raw); got != 128000 {
		t.Fatalf("context window = %d, want 128000", got)
	}
	if got := maxOutputTokens(raw); got != 16384 {
		t.Fatalf("max output = %d, want 16384", got)
	}

	raw = models.RemoteModel{ID: "totally-unknown", ContextWindow: 32768, MaxOutput: 2048}
	if got := contextWindow(raw); got != 32768 {
		t.Fatalf("reported context window not honored: %d", got)
	}
	if got := maxOutputTokens(raw); got != 2048 {
		t.Fatalf("reported max output not honored: %d", got)
	}

	raw = models.RemoteModel{ID: "totally-unknown"}
	if got := contextWindow(raw); got != 4096 {
		t.Fatalf("unknown model context fallback = %d, want 4096", got)
	}
}

type syncStore struct {
	sources  []models.ModelSource
	catalogs map[uuid.UUID][]models.AggregatorModel
	replaces int
}

func (s *syncStore) ListSources(ctx context.Context) ([]models.ModelSource, error) {
	return s.sources, nil
}

func (s *syncStore) ReplaceCatalog(ctx context.Context, sourceID uuid.UUID, entries []models.AggregatorModel, syncedAt time.Time) error {
	if s.catalogs == nil {
		s.catalogs = make(map[uuid.UUID][]models.AggregatorModel)
	}
	s.catalogs[sourceID] = entries
	s.replaces++
	return nil
}

type fixedPool struct{ cred models.Credential }

func (p fixedPool) Select(ctx context.Context, sourceID uuid.UUID) (models.Credential, error) {
	return p.cred, nil
}

type listerAdapter struct {
	models []models.RemoteModel
	err    error
}

func (l listerAdapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return models.ChatResponse{}, errors.New("not implemented")
}

func (l listerAdapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	return nil, nil, errors.New("not implemented")
}

func (l listerAdapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	return l.models, l.err
}

type fixedFactory struct{ adapter providers.Adapter }

func (f fixedFactory) Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error) {
	return f.adapter, nil
}

func TestSyncSourceReplacesCatalog(t *testing.T) {
	source := models.ModelSource{ID: uuid.New(), Name: "openrouter", Enabled: true}
	store := &syncStore{sources: []models.ModelSource{source}}
	svc := New(store, fixedFactory{adapter: listerAdapter{models: []models.RemoteModel{
		{ID: "gpt-4o", DisplayName: "GPT-4o"},
		{ID: "text-embedding-3-small"},
	}}}, fixedPool{}, nil)

	if err := svc.SyncSource(context.Background(), source); err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	entries := store.catalogs[source.ID]
	if len(entries) != 2 {
		t.Fatalf("catalog entries = %d, want 2", len(entries))
	}
	if entries[0].ModelType != models.ModelTypeChat || entries[1].ModelType != models.ModelTypeEmbedding {
		t.Fatalf("model types = %s/%s", entries[0].ModelType, entries[1].ModelType)
	}
	if entries[1].DisplayName != "text-embedding-3-small" {
		t.Fatalf("missing display name not defaulted: %q", entries[1].DisplayName)
	}
}

func TestSyncSourceRejectsEmptyCatalog(t *testing.T) {
	source := models.ModelSource{ID: uuid.New(), Name: "openrouter"}
	store := &syncStore{}
	svc := New(store, fixedFactory{adapter: listerAdapter{}}, fixedPool{}, nil)

	err := svc.SyncSource(context.Background(), source)
	if err == nil || !strings.Contains(err.Error(), "empty catalog") {
		t.Fatalf("expected empty catalog rejection, got %v", err)
	}
	if store.replaces != 0 {
		t.Fatal("empty catalog must not replace existing entries")
	}
}

func TestNeedsSync(t *testing.T) {
	svc := New(&syncStore{}, fixedFactory{}, fixedPool{}, nil)
	now := time.Now()
	svc.now = func() time.Time { return now }

	if !svc.NeedsSync(models.ModelSource{}) {
		t.Fatal("never-synced source must need sync")
	}
	recent := now.Add(-23 * time.Hour)
	if svc.NeedsSync(models.ModelSource{LastSyncAt: &recent}) {
		t.Fatal("source synced 23h ago must not need sync")
	}
	stale := now.Add(-25 * time.Hour)
	if !svc.NeedsSync(models.ModelSource{LastSyncAt: &stale}) {
		t.Fatal("source synced 25h ago must need sync")
	}
}

func TestSyncAllSkipsFreshSources(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Hour)
	store := &syncStore{sources: []models.ModelSource{
		{ID: uuid.New(), Name: "fresh", LastSyncAt: &fresh},
		{ID: uuid.New(), Name: "due"},
	}}
	svc := New(store, fixedFactory{adapter: listerAdapter{models: []models.RemoteModel{{ID: "gpt-4o"}}}}, fixedPool{}, nil)
	svc.now = func() time.Time { return now }

	if err := svc.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if store.replaces != 1 {
		t.Fatalf("replaces = %d, want 1 (only the due source)", store.replaces)
	}
}
