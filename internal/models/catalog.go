package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Model types classified by the sync service.
const (
	ModelTypeChat      = "chat"
	ModelTypeEmbedding = "embedding"
	ModelTypeImage     = "image"
	ModelTypeAudio     = "audio"
	ModelTypeRerank    = "rerank"
)

// Capabilities inferred from model ids and provider flags.
type Capabilities struct {
	Vision    bool `json:"vision"`
	Functions bool `json:"functions"`
	Streaming bool `json:"streaming"`
	JSONMode  bool `json:"json_mode"`
}

// RemoteModel is a raw catalog entry as reported by a provider, before
// normalization. Adapters fill what their protocol exposes and leave the rest
// zero.
type RemoteModel struct {
	ID            string
	DisplayName   string
	OwnedBy       string
	ContextWindow int32
	MaxOutput     int32
	InputPrice    decimal.Decimal
	OutputPrice   decimal.Decimal
	PriceUnit     string
	Vision        *bool
	Functions     *bool
}

// AggregatorModel is the normalized catalog entry the sync service publishes.
// Each successful sync fully replaces the prior catalog for its source.
type AggregatorModel struct {
	SourceID        uuid.UUID       `json:"source_id"`
	ModelID         string          `json:"model_id"`
	DisplayName     string          `json:"display_name"`
	ModelType       string          `json:"model_type"`
	Capabilities    Capabilities    `json:"capabilities"`
	ContextWindow   int32           `json:"context_window"`
	MaxOutputTokens int32           `json:"max_output_tokens"`
	InputPrice      decimal.Decimal `json:"input_price"`
	OutputPrice     decimal.Decimal `json:"output_price"`
	PriceUnit       string          `json:"price_unit"`
	IsAvailable     bool            `json:"is_available"`
	SyncedAt        time.Time       `json:"synced_at"`
}
