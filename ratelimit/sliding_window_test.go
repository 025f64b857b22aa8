package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardline/wardline/core"
)

func TestSlidingWindowDeniesAboveMax(t *testing.T) {
	sw, err := NewSlidingWindow(core.NewMemoryStore(), time.Minute, 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	base := time.Now()
	sw.now = func() time.Time { return base }

	for i := 1; i <= 3; i++ {
		d, err := sw.Check(ctx, "user-1")
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Expected request %d allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("Request %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
		}
	}

	d, _ := sw.Check(ctx, "user-1")
	if d.Allowed {
		t.Error("Expected request 4 denied")
	}
	if d.RetryAfterMs <= 0 {
		t.Errorf("Expected positive retry hint, got %d", d.RetryAfterMs)
	}
}

func TestSlidingWindowResetsNextWindow(t *testing.T) {
	sw, err := NewSlidingWindow(core.NewMemoryStore(), time.Minute, 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	base := time.Now()
	sw.now = func() time.Time { return base }

	sw.Check(ctx, "user-1")
	d, _ := sw.Check(ctx, "user-1")
	if d.Allowed {
		t.Fatal("Expected denial within the window")
	}

	sw.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	d, _ = sw.Check(ctx, "user-1")
	if !d.Allowed {
		t.Error("Expected new window to allow again")
	}
}

type failingIncrStore struct {
	*core.MemoryStore
}

func (f *failingIncrStore) Incr(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("store unreachable")
}

func TestSlidingWindowFailsOpen(t *testing.T) {
	var audited bool
	sw, err := NewSlidingWindow(&failingIncrStore{core.NewMemoryStore()}, time.Minute, 1, nil,
		func(ctx context.Context, scope, key string, err error) { audited = true })
	if err != nil {
		t.Fatal(err)
	}

	d, err := sw.Check(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Fail-open should not surface store error: %v", err)
	}
	if !d.Allowed {
		t.Error("Expected fail-open to allow")
	}
	if !audited {
		t.Error("Expected audit hook on fail-open")
	}
}

func TestSlidingWindowRejectsBadConfig(t *testing.T) {
	if _, err := NewSlidingWindow(nil, time.Minute, 1, nil, nil); err == nil {
		t.Error("Expected error for nil store")
	}
	if _, err := NewSlidingWindow(core.NewMemoryStore(), 0, 1, nil, nil); err == nil {
		t.Error("Expected error for zero window")
	}
}
