package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider kinds and wire-protocol standards a source can declare.
const (
	KindDirect     = "direct"
	KindAggregator = "aggregator"

	StandardOpenAI    = "openai"
	StandardAnthropic = "anthropic"
	StandardGoogle    = "google"
	StandardBedrock   = "bedrock"
	StandardCustom    = "custom"
)

// Price units a source declares its per-token prices in.
const (
	PriceUnitPer1K = "per_1k"
	PriceUnitPer1M = "per_1m"
)

// ModelSource is one way to reach a model: a direct provider or an
// aggregator, with its own endpoint, wire standard, and pricing. The routing
// path treats sources as read-only; only admins and the sync service write
// them.
type ModelSource struct {
	ID           uuid.UUID
	Name         string
	Kind         string
	Standard     string
	Endpoint     string
	Region       string
	ExtraHeaders map[string]string
	Priority     int
	Enabled      bool
	InputPrice   decimal.Decimal
	OutputPrice  decimal.Decimal
	PriceUnit    string
	LastSyncAt   *time.Time
	CreatedAt    time.Time
}

// Credential is an API key bound to one source. Health fields are mutated
// only by the key pool's RecordSuccess/RecordError, both atomic against the
// store.
type Credential struct {
	ID                uuid.UUID
	SourceID          uuid.UUID
	Secret            string
	IsActive          bool
	ConsecutiveErrors int32
	ErrorCount        int64
	TotalRequests     int64
	TotalTokensUsed   int64
	RateLimitRemain   int32
	LastUsedAt        *time.Time
	LastError         string
	CreatedAt         time.Time
}

// RouteDecision binds a source and credential to a single request attempt.
// It must never be reused: a failover produces a fresh decision.
type RouteDecision struct {
	AttemptID  uuid.UUID
	Source     ModelSource
	Credential Credential
	Reason     string
}

// Request statuses recorded in the usage log.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// UsageRecord is the single row persisted per request lifecycle after it
// reaches a terminal state.
type UsageRecord struct {
	ID               uuid.UUID
	AttemptID        uuid.UUID
	UserID           uuid.UUID
	Model            string
	SourceID         uuid.UUID
	PromptTokens     int32
	CompletionTokens int32
	TotalTokens      int32
	Cost             decimal.Decimal
	LatencyMS        int64
	Status           string
	ErrorMessage     string
	CreatedAt        time.Time
}

// QuotaState tracks a user's rolling token/cost consumption. Deduction is
// atomic inside the accountant's finalize transaction; resets belong to an
// external scheduler.
type QuotaState struct {
	UserID          uuid.UUID
	Tier            string
	TokensUsedToday int64
	TokensUsedMonth int64
	CostToday       decimal.Decimal
	CostMonth       decimal.Decimal
	DayResetAt      time.Time
	MonthResetAt    time.Time
}
