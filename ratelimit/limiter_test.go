package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardline/wardline/core"
)

func newTestLimiter(t *testing.T) (*Limiter, *core.MemoryStore) {
	t.Helper()
	store := core.NewMemoryStore()
	limiter, err := NewLimiter(LimiterOptions{
		Store: store,
		Tiers: map[string]Limit{
			TierStandard: {Window: time.Minute, MaxTokens: 5, RefillRate: 1},
		},
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	return limiter, store
}

// TestTokenBucketBurst: 5 tokens, 1/s refill,
// 7 requests at t=0 → 1-5 allowed, 6-7 denied with growing retry hints,
// then a request at t=2s is allowed again.
func TestTokenBucketBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	for i := 1; i <= 5; i++ {
		d, err := limiter.Check(ctx, TierStandard, "", "user-1")
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Expected request %d allowed", i)
		}
		if d.Remaining != 5-i {
			t.Errorf("Request %d: expected remaining %d, got %d", i, 5-i, d.Remaining)
		}
	}

	d6, _ := limiter.Check(ctx, TierStandard, "", "user-1")
	if d6.Allowed {
		t.Fatal("Expected request 6 denied")
	}
	if d6.RetryAfterMs < 900 || d6.RetryAfterMs > 1100 {
		t.Errorf("Expected retry after ≈1000ms, got %d", d6.RetryAfterMs)
	}

	d7, _ := limiter.Check(ctx, TierStandard, "", "user-1")
	if d7.Allowed {
		t.Fatal("Expected request 7 denied")
	}

	// Two seconds later a token has refilled
	limiter.now = func() time.Time { return base.Add(2 * time.Second) }
	d8, _ := limiter.Check(ctx, TierStandard, "", "user-1")
	if !d8.Allowed {
		t.Error("Expected request allowed after 2s refill")
	}
}

func TestTokenBucketRefillCap(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	// Drain one token, then wait far longer than a full refill
	limiter.Check(ctx, TierStandard, "", "user-2")
	limiter.now = func() time.Time { return base.Add(time.Hour) }

	d, _ := limiter.Check(ctx, TierStandard, "", "user-2")
	if !d.Allowed {
		t.Fatal("Expected allowed")
	}
	if d.Remaining != 4 {
		t.Errorf("Expected bucket capped at max (remaining 4 after one consume), got %d", d.Remaining)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		limiter.Check(ctx, TierStandard, "", "user-a")
	}
	d, _ := limiter.Check(ctx, TierStandard, "", "user-b")
	if !d.Allowed {
		t.Error("Expected user-b unaffected by user-a's bucket")
	}
}

func TestUnknownTierFallsBackToAnonymous(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	limit := limiter.limitFor("nonexistent", "")
	if limit.MaxTokens != anonymousFloor.MaxTokens {
		t.Errorf("Expected anonymous fallback, got max tokens %v", limit.MaxTokens)
	}
}

func TestAnonymousTierClampedToFloor(t *testing.T) {
	limiter, err := NewLimiter(LimiterOptions{
		Store: core.NewMemoryStore(),
		Tiers: map[string]Limit{
			TierAnonymous: {Window: time.Minute, MaxTokens: 10_000, RefillRate: 100},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	limit := limiter.limitFor(TierAnonymous, "")
	if limit.MaxTokens > anonymousFloor.MaxTokens {
		t.Errorf("Expected anonymous tier clamped to %v tokens, got %v", anonymousFloor.MaxTokens, limit.MaxTokens)
	}
}

func TestCategoryOverrideWins(t *testing.T) {
	limiter, err := NewLimiter(LimiterOptions{
		Store: core.NewMemoryStore(),
		Tiers: map[string]Limit{
			TierStandard: {Window: time.Minute, MaxTokens: 60, RefillRate: 1},
		},
		Overrides: map[string]map[string]Limit{
			"generation": {
				TierStandard: {Window: time.Minute, MaxTokens: 3, RefillRate: 0.1},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	limit := limiter.limitFor(TierStandard, "generation")
	if limit.MaxTokens != 3 {
		t.Errorf("Expected category override of 3 tokens, got %v", limit.MaxTokens)
	}
}

// failingStore wraps MemoryStore and fails Get to exercise fail-open
type failingStore struct {
	*core.MemoryStore
}

func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("store unreachable")
}

func TestLimiterFailsOpenOnStoreError(t *testing.T) {
	var audited bool
	limiter, err := NewLimiter(LimiterOptions{
		Store: &failingStore{core.NewMemoryStore()},
		AuditHook: func(ctx context.Context, scope, key string, err error) {
			audited = true
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := limiter.Check(context.Background(), TierStandard, "", "user-1")
	if err != nil {
		t.Fatalf("Fail-open should not surface the store error: %v", err)
	}
	if !d.Allowed {
		t.Error("Expected fail-open to allow the request")
	}
	if !audited {
		t.Error("Expected fail-open to invoke the audit hook")
	}
}
