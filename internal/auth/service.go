package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
)

var ErrUnauthorized = errors.New("unauthorized")

// KeyStore is the persistence surface the auth service needs.
type KeyStore interface {
	APIKeyByPrefix(ctx context.Context, prefix string) (models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
	InsertAPIKey(ctx context.Context, key models.APIKey) error
}

// Service authenticates bearer tokens against stored API keys.
type Service struct {
	store  KeyStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store KeyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Authenticate resolves a bearer token to its API key. All failure modes
// collapse into ErrUnauthorized so callers cannot distinguish an unknown
// prefix from a wrong secret.
func (s *Service) Authenticate(ctx context.Context, token string) (models.APIKey, error) {
	prefix, secret, err := ParseToken(token)
	if err != nil {
		return models.APIKey{}, ErrUnauthorized
	}

	key, err := s.store.APIKeyByPrefix(ctx, prefix)
	if err != nil {
		return models.APIKey{}, ErrUnauthorized
	}

	ok, err := VerifySecret(secret, key.SecretHash)
	if err != nil || !ok {
		return models.APIKey{}, ErrUnauthorized
	}

	if err := s.store.TouchAPIKey(ctx, key.ID, s.now()); err != nil {
		s.logger.Warn("touch api key", "key_id", key.ID, "error", err)
	}
	return key, nil
}

// CreateKey mints a new API key for a user and returns the one-time token.
func (s *Service) CreateKey(ctx context.Context, userID uuid.UUID, name, tier string, isAdmin bool) (models.APIKey, string, error) {
	prefix, secret, token, err := GenerateAPIKey()
	if err != nil {
		return models.APIKey{}, "", err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return models.APIKey{}, "", err
	}

	key := models.APIKey{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		KeyPrefix:  prefix,
		SecretHash: hash,
		Tier:       tier,
		IsAdmin:    isAdmin,
		IsActive:   true,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return models.APIKey{}, "", err
	}
	return key, token, nil
}
