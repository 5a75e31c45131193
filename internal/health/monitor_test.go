package health

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
)

type fakeStore struct {
	sources []models.ModelSource
	creds   map[uuid.UUID][]models.Credential
}

func (f *fakeStore) ListSources(ctx context.Context) ([]models.ModelSource, error) {
	return f.sources, nil
}

func (f *fakeStore) ListCredentials(ctx context.Context, sourceID uuid.UUID) ([]models.Credential, error) {
	return f.creds[sourceID], nil
}

type probeAdapter struct {
	probed  *[]string
	source  string
	fail    bool
	chatErr error
}

func (p *probeAdapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return models.ChatResponse{}, p.chatErr
}

func (p *probeAdapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	return nil, nil, p.chatErr
}

func (p *probeAdapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	return nil, nil
}

func (p *probeAdapter) HealthCheck(ctx context.Context) error {
	*p.probed = append(*p.probed, p.source)
	if p.fail {
		return errors.New("probe failed")
	}
	return nil
}

type fakeBuilder struct {
	probed []string
}

func (f *fakeBuilder) Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error) {
	return &probeAdapter{probed: &f.probed, source: source.Name}, nil
}

func TestSweepProbesOnlySourcesWithActiveCredentials(t *testing.T) {
	healthy := models.ModelSource{ID: uuid.New(), Name: "healthy"}
	drained := models.ModelSource{ID: uuid.New(), Name: "drained"}

	store := &fakeStore{
		sources: []models.ModelSource{healthy, drained},
		creds: map[uuid.UUID][]models.Credential{
			healthy.ID: {
				{ID: uuid.New(), SourceID: healthy.ID, Secret: "sk-1", IsActive: true},
				{ID: uuid.New(), SourceID: healthy.ID, Secret: "sk-2", IsActive: false},
			},
			drained.ID: {
				{ID: uuid.New(), SourceID: drained.ID, Secret: "sk-3", IsActive: false},
			},
		},
	}
	builder := &fakeBuilder{}

	m := NewMonitor(store, builder, nil, nil, 0)
	m.sweep(context.Background())

	require.Equal(t, []string{"healthy"}, builder.probed)
}

func TestSweepSkipsAdaptersWithoutHealthCheck(t *testing.T) {
	src := models.ModelSource{ID: uuid.New(), Name: "plain"}
	store := &fakeStore{
		sources: []models.ModelSource{src},
		creds: map[uuid.UUID][]models.Credential{
			src.ID: {{ID: uuid.New(), SourceID: src.ID, Secret: "sk", IsActive: true}},
		},
	}

	m := NewMonitor(store, builderFunc(func(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error) {
		return plainAdapter{}, nil
	}), nil, nil, 0)

	require.NotPanics(t, func() { m.sweep(context.Background()) })
}

type builderFunc func(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error)

func (f builderFunc) Build(ctx context.Context, source models.ModelSource, secret string) (providers.Adapter, error) {
	return f(ctx, source, secret)
}

type plainAdapter struct{}

func (plainAdapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return models.ChatResponse{}, nil
}

func (plainAdapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	return nil, nil, nil
}

func (plainAdapter) ListModels(ctx context.Context) ([]models.RemoteModel, error) {
	return nil, nil
}
