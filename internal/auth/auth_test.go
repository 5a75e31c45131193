package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
)

type fakeKeyStore struct {
	keys    map[string]models.APIKey
	touched []uuid.UUID
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string]models.APIKey)}
}

func (f *fakeKeyStore) APIKeyByPrefix(_ context.Context, prefix string) (models.APIKey, error) {
	key, ok := f.keys[prefix]
	if !ok || !key.IsActive {
		return models.APIKey{}, errors.New("not found")
	}
	return key, nil
}

func (f *fakeKeyStore) TouchAPIKey(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeKeyStore) InsertAPIKey(_ context.Context, key models.APIKey) error {
	f.keys[key.KeyPrefix] = key
	return nil
}

func TestGenerateAndParseToken(t *testing.T) {
	prefix, secret, token, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(token, "mr-") {
		t.Fatalf("token %q missing mr- prefix", token)
	}

	gotPrefix, gotSecret, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if gotPrefix != prefix || gotSecret != secret {
		t.Fatalf("roundtrip mismatch: %q/%q", gotPrefix, gotSecret)
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "mr-", "mr-noseparator", "sk-abc.def", "mr-.secret", "mr-prefix."} {
		if _, _, err := ParseToken(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("ParseToken(%q) = %v, want ErrMalformedToken", token, err)
		}
	}
}

func TestHashAndVerifySecret(t *testing.T) {
	encoded, err := HashSecret("hunter2")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	ok, err := VerifySecret("hunter2", encoded)
	if err != nil || !ok {
		t.Fatalf("VerifySecret = %v, %v", ok, err)
	}

	ok, err = VerifySecret("wrong", encoded)
	if err != nil {
		t.Fatalf("VerifySecret wrong: %v", err)
	}
	if ok {
		t.Fatal("wrong secret verified")
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewService(store, nil)

	userID := uuid.New()
	key, token, err := svc.CreateKey(context.Background(), userID, "ci", "pro", false)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	got, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != key.ID || got.UserID != userID || got.Tier != "pro" {
		t.Fatalf("got key %+v", got)
	}
	if len(store.touched) != 1 || store.touched[0] != key.ID {
		t.Fatalf("touched = %v", store.touched)
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	store := newFakeKeyStore()
	svc := NewService(store, nil)

	key, _, err := svc.CreateKey(context.Background(), uuid.New(), "ci", "default", false)
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	bad := "mr-" + key.KeyPrefix + ".not-the-secret"
	if _, err := svc.Authenticate(context.Background(), bad); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateUnknownPrefix(t *testing.T) {
	svc := NewService(newFakeKeyStore(), nil)
	if _, err := svc.Authenticate(context.Background(), "mr-unknown.secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	tm, err := NewTokenManager("test-secret", time.Hour, "modelrelay")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	userID := uuid.New()
	token, exp, err := tm.Generate(userID, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatal("expiry not in the future")
	}

	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != userID || !claims.IsAdmin {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSessionTokenWrongSecret(t *testing.T) {
	tm1, _ := NewTokenManager("secret-one", time.Hour, "modelrelay")
	tm2, _ := NewTokenManager("secret-two", time.Hour, "modelrelay")

	token, _, err := tm1.Generate(uuid.New(), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := tm2.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
