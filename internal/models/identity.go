package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a caller identity. The secret is stored hashed; the plaintext
// token is shown once at creation.
type APIKey struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	KeyPrefix  string
	SecretHash string
	Tier       string
	IsAdmin    bool
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// ConversationPreset pins defaults (model, system prompt, sampling) to a
// conversation id so follow-up requests inherit them.
type ConversationPreset struct {
	ConversationID string
	UserID         uuid.UUID
	Model          string
	SystemPrompt   string
	Temperature    *float32
	MaxTokens      *int32
	CreatedAt      time.Time
}
