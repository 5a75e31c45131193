package limits

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client)
}

func TestAllowRequestsPerMinute(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{RequestsPerMinute: 3}

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "key-a", cfg); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, "key-a", cfg); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	// Independent keys do not share budgets.
	if err := l.Allow(ctx, "key-b", cfg); err != nil {
		t.Fatalf("other key: %v", err)
	}
}

func TestParallelRequestsReleased(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{ParallelRequests: 2}

	if err := l.Allow(ctx, "key", cfg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Allow(ctx, "key", cfg); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := l.Allow(ctx, "key", cfg); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	l.Release(ctx, "key", cfg)
	if err := l.Allow(ctx, "key", cfg); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *RateLimiter
	if err := l.Allow(context.Background(), "key", LimitConfig{RequestsPerMinute: 1}); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}
