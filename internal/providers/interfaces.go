package providers

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ChatCompletions is the non-streaming adapter contract.
type ChatCompletions interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// ChatStreaming yields canonical chunks plus a cancel func that closes the
// upstream connection. The channel is closed when the upstream stream ends,
// for any reason.
type ChatStreaming interface {
	ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error)
}

// ModelLister fetches the provider's remote model catalog for sync.
type ModelLister interface {
	ListModels(ctx context.Context) ([]models.RemoteModel, error)
}

// Adapter is the full per-source protocol translator. Model listing is
// optional; sources whose protocol has no catalog endpoint return
// gwerr.ErrModelListingUnsupported from ListModels.
type Adapter interface {
	ChatCompletions
	ChatStreaming
	ModelLister
}
