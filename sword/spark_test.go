package sword

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardline/wardline/core"
)

func swordInput(userID string) GateInput {
	return GateInput{
		UserID:               userID,
		Stance:               "sword",
		StakeLevel:           "low",
		VerificationComplete: true,
	}
}

func TestSparkGateOpenOnHappyPath(t *testing.T) {
	gate := NewSparkGate(core.NewMemoryStore(), nil)

	result := gate.Check(context.Background(), swordInput("user-1"))
	if !result.Open {
		t.Errorf("Expected open gate, got reason %s", result.Reason)
	}
}

func TestSparkGateStanceAndShield(t *testing.T) {
	gate := NewSparkGate(core.NewMemoryStore(), nil)
	ctx := context.Background()

	input := swordInput("user-1")
	input.Stance = "lens"
	if r := gate.Check(ctx, input); r.Open || r.Reason != ReasonWrongStance {
		t.Errorf("Expected wrong_stance, got %+v", r)
	}

	input = swordInput("user-1")
	input.ShieldIntervened = true
	if r := gate.Check(ctx, input); r.Open || r.Reason != ReasonShieldActive {
		t.Errorf("Expected shield_active, got %+v", r)
	}

	input = swordInput("user-1")
	input.StakeLevel = "critical"
	if r := gate.Check(ctx, input); r.Open || r.Reason != ReasonStakesTooHigh {
		t.Errorf("Expected stakes_too_high, got %+v", r)
	}

	input = swordInput("user-1")
	input.VerificationComplete = false
	if r := gate.Check(ctx, input); r.Open || r.Reason != ReasonVerificationPending {
		t.Errorf("Expected verification_pending, got %+v", r)
	}
}

func TestSparkGateDailyCap(t *testing.T) {
	gate := NewSparkGate(core.NewMemoryStore(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	for i := 0; i < maxSparksPerDay; i++ {
		// advance past the interval so only the cap is under test
		shown := base.Add(time.Duration(i) * time.Hour)
		gate.now = func() time.Time { return shown }
		if r := gate.Check(ctx, swordInput("user-1")); !r.Open {
			t.Fatalf("Expected gate open for spark %d, got %s", i+1, r.Reason)
		}
		if err := gate.RecordShown(ctx, "user-1"); err != nil {
			t.Fatal(err)
		}
	}

	gate.now = func() time.Time { return base.Add(time.Duration(maxSparksPerDay) * time.Hour) }
	if r := gate.Check(ctx, swordInput("user-1")); r.Open || r.Reason != ReasonDailyCapReached {
		t.Errorf("Expected daily_cap_reached after %d sparks, got %+v", maxSparksPerDay, r)
	}
}

func TestSparkGateMinimumInterval(t *testing.T) {
	gate := NewSparkGate(core.NewMemoryStore(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }
	gate.RecordShown(ctx, "user-1")

	gate.now = func() time.Time { return base.Add(10 * time.Minute) }
	if r := gate.Check(ctx, swordInput("user-1")); r.Open || r.Reason != ReasonTooSoon {
		t.Errorf("Expected too_soon 10 minutes after a spark, got %+v", r)
	}

	gate.now = func() time.Time { return base.Add(31 * time.Minute) }
	if r := gate.Check(ctx, swordInput("user-1")); !r.Open {
		t.Errorf("Expected gate open past the interval, got %s", r.Reason)
	}
}

func TestSparkGateIgnoreEMA(t *testing.T) {
	gate := NewSparkGate(core.NewMemoryStore(), nil)
	ctx := context.Background()

	// repeated ignores push the average over the threshold
	for i := 0; i < 12; i++ {
		if err := gate.RecordOutcome(ctx, "user-1", true); err != nil {
			t.Fatal(err)
		}
	}
	ema, _ := gate.IgnoreEMA(ctx, "user-1")
	if ema <= maxIgnoreEMA {
		t.Fatalf("Expected EMA above threshold after sustained ignores, got %.4f", ema)
	}
	if r := gate.Check(ctx, swordInput("user-1")); r.Open || r.Reason != ReasonUserIgnoring {
		t.Errorf("Expected user_ignoring, got %+v", r)
	}

	// engagement pulls it back down
	for i := 0; i < 12; i++ {
		gate.RecordOutcome(ctx, "user-1", false)
	}
	if r := gate.Check(ctx, swordInput("user-1")); !r.Open {
		t.Errorf("Expected gate open after renewed engagement, got %s", r.Reason)
	}
}

type downStore struct {
	core.Store
}

func (d *downStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("store down")
}

func TestSparkGateFailsClosed(t *testing.T) {
	gate := NewSparkGate(&downStore{Store: core.NewMemoryStore()}, nil)

	r := gate.Check(context.Background(), swordInput("user-1"))
	if r.Open || r.Reason != ReasonStoreUnavailable {
		t.Errorf("Expected closed gate on store failure, got %+v", r)
	}
}
