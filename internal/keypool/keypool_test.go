package keypool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*models.Credential
}

func newFakeStore(creds ...*models.Credential) *fakeStore {
	s := &fakeStore{creds: make(map[uuid.UUID]*models.Credential)}
	for _, c := range creds {
		s.creds[c.ID] = c
	}
	return s
}

func (s *fakeStore) SelectCredential(ctx context.Context, sourceID uuid.UUID) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.Credential
	for _, c := range s.creds {
		if c.SourceID == sourceID && c.IsActive && c.ConsecutiveErrors < ErrorThreshold {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return models.Credential{}, ErrNoCredential
	}
	sort.Slice(candidates, func(i, j int) bool {
		var ti, tj time.Time
		if candidates[i].LastUsedAt != nil {
			ti = *candidates[i].LastUsedAt
		}
		if candidates[j].LastUsedAt != nil {
			tj = *candidates[j].LastUsedAt
		}
		return ti.Before(tj)
	})
	chosen := candidates[0]
	now := time.Now()
	chosen.LastUsedAt = &now
	return *chosen, nil
}

func (s *fakeStore) ApplySuccess(ctx context.Context, id uuid.UUID, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return errors.New("not found")
	}
	c.ConsecutiveErrors = 0
	c.TotalRequests++
	c.TotalTokensUsed += tokens
	now := time.Now()
	c.LastUsedAt = &now
	return nil
}

func (s *fakeStore) ApplyError(ctx context.Context, id uuid.UUID, message string, threshold int32) (int32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return 0, false, errors.New("not found")
	}
	c.ConsecutiveErrors++
	c.ErrorCount++
	c.LastError = message
	deactivated := false
	if c.ConsecutiveErrors >= threshold {
		c.IsActive = false
		deactivated = true
	}
	return c.ConsecutiveErrors, deactivated, nil
}

func (s *fakeStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return errors.New("not found")
	}
	c.IsActive = active
	if active {
		c.ConsecutiveErrors = 0
	}
	return nil
}

func cred(sourceID uuid.UUID) *models.Credential {
	return &models.Credential{
		ID:       uuid.New(),
		SourceID: sourceID,
		Secret:   "sk-test",
		IsActive: true,
	}
}

func TestSelectPrefersLeastRecentlyUsed(t *testing.T) {
	sourceID := uuid.New()
	a := cred(sourceID)
	b := cred(sourceID)
	old := time.Now().Add(-time.Hour)
	recent := time.Now().Add(-time.Minute)
	a.LastUsedAt = &recent
	b.LastUsedAt = &old

	pool := New(newFakeStore(a, b), nil)
	got, err := pool.Select(context.Background(), sourceID)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("expected least recently used credential %s, got %s", b.ID, got.ID)
	}
}

func TestSelectExhaustedPool(t *testing.T) {
	sourceID := uuid.New()
	a := cred(sourceID)
	a.IsActive = false

	pool := New(newFakeStore(a), nil)
	if _, err := pool.Select(context.Background(), sourceID); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestRecordErrorDeactivatesAtThreshold(t *testing.T) {
	sourceID := uuid.New()
	c := cred(sourceID)
	store := newFakeStore(c)
	pool := New(store, nil)

	for i := 0; i < ErrorThreshold-1; i++ {
		if err := pool.RecordError(context.Background(), *c, errors.New("boom")); err != nil {
			t.Fatalf("RecordError: %v", err)
		}
		if !store.creds[c.ID].IsActive {
			t.Fatalf("credential deactivated after %d errors, threshold is %d", i+1, ErrorThreshold)
		}
	}
	if err := pool.RecordError(context.Background(), *c, errors.New("boom")); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if store.creds[c.ID].IsActive {
		t.Fatalf("credential still active after %d consecutive errors", ErrorThreshold)
	}
	if store.creds[c.ID].LastError != "boom" {
		t.Fatalf("last error not recorded: %q", store.creds[c.ID].LastError)
	}
}

func TestRecordSuccessResetsErrorRun(t *testing.T) {
	sourceID := uuid.New()
	c := cred(sourceID)
	store := newFakeStore(c)
	pool := New(store, nil)

	for i := 0; i < ErrorThreshold-1; i++ {
		if err := pool.RecordError(context.Background(), *c, errors.New("transient")); err != nil {
			t.Fatalf("RecordError: %v", err)
		}
	}
	if err := pool.RecordSuccess(context.Background(), c.ID, 1500); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	got := store.creds[c.ID]
	if got.ConsecutiveErrors != 0 {
		t.Fatalf("consecutive errors = %d after success, want 0", got.ConsecutiveErrors)
	}
	if got.ErrorCount != ErrorThreshold-1 {
		t.Fatalf("lifetime error count = %d, want %d", got.ErrorCount, ErrorThreshold-1)
	}
	if got.TotalTokensUsed != 1500 || got.TotalRequests != 1 {
		t.Fatalf("usage totals not applied: tokens=%d requests=%d", got.TotalTokensUsed, got.TotalRequests)
	}

	// The fresh run must take the full threshold again.
	for i := 0; i < ErrorThreshold-1; i++ {
		if err := pool.RecordError(context.Background(), *c, errors.New("transient")); err != nil {
			t.Fatalf("RecordError: %v", err)
		}
	}
	if !store.creds[c.ID].IsActive {
		t.Fatal("credential deactivated before threshold on fresh run")
	}
}

func TestActivateClearsRun(t *testing.T) {
	sourceID := uuid.New()
	c := cred(sourceID)
	c.IsActive = false
	c.ConsecutiveErrors = ErrorThreshold
	store := newFakeStore(c)
	pool := New(store, nil)

	if err := pool.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got := store.creds[c.ID]
	if !got.IsActive || got.ConsecutiveErrors != 0 {
		t.Fatalf("activate did not reset credential: active=%v run=%d", got.IsActive, got.ConsecutiveErrors)
	}
}

func TestSelectSkipsCredentialAtErrorThreshold(t *testing.T) {
	sourceID := uuid.New()
	stale := cred(sourceID)
	// A deactivation race can leave is_active set with the run already at
	// threshold; selection must still refuse the credential.
	stale.ConsecutiveErrors = ErrorThreshold
	healthy := cred(sourceID)

	pool := New(newFakeStore(stale, healthy), nil)
	got, err := pool.Select(context.Background(), sourceID)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != healthy.ID {
		t.Fatalf("selected credential %s, want %s", got.ID, healthy.ID)
	}

	pool = New(newFakeStore(stale), nil)
	if _, err := pool.Select(context.Background(), sourceID); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestRecordSuccessRefreshesLastUsed(t *testing.T) {
	sourceID := uuid.New()
	c := cred(sourceID)
	stale := time.Now().Add(-time.Hour)
	c.LastUsedAt = &stale

	store := newFakeStore(c)
	pool := New(store, nil)
	if err := pool.RecordSuccess(context.Background(), c.ID, 42); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	got := store.creds[c.ID]
	if got.LastUsedAt == nil || !got.LastUsedAt.After(stale) {
		t.Fatalf("last used not refreshed: %v", got.LastUsedAt)
	}
}
