package sword

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wardline/wardline/core"
)

// Spark gating limits
const (
	maxSparksPerDay  = 5
	minSparkInterval = 30 * time.Minute
	maxIgnoreEMA     = 0.7
	ignoreEMAAlpha   = 0.3 // weight of the newest observation
	sparkStateTTL    = 7 * 24 * time.Hour
)

// CloseReason says why a spark was withheld
type CloseReason string

const (
	ReasonOpen                CloseReason = ""
	ReasonWrongStance         CloseReason = "wrong_stance"
	ReasonShieldActive        CloseReason = "shield_active"
	ReasonStakesTooHigh       CloseReason = "stakes_too_high"
	ReasonDailyCapReached     CloseReason = "daily_cap_reached"
	ReasonTooSoon             CloseReason = "too_soon"
	ReasonUserIgnoring        CloseReason = "user_ignoring"
	ReasonVerificationPending CloseReason = "verification_pending"
	ReasonStoreUnavailable    CloseReason = "store_unavailable"
)

// GateInput is the request context the spark gate judges
type GateInput struct {
	UserID               string
	Stance               string // lens, sword, shield, control
	ShieldIntervened     bool
	StakeLevel           string // low, medium, high, critical
	VerificationComplete bool
}

// GateResult is the gate's verdict
type GateResult struct {
	Open   bool
	Reason CloseReason
}

// SparkGate decides whether a proactive nudge may be shown on this
// response. All counters live in the store so the caps hold across
// instances. The gate fails closed: when the store is unreachable no
// spark is shown.
type SparkGate struct {
	store  core.Store
	logger core.Logger
	now    func() time.Time
}

// NewSparkGate creates a spark gate
func NewSparkGate(store core.Store, logger core.Logger) *SparkGate {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SparkGate{store: store, logger: logger, now: time.Now}
}

// Check evaluates every gating condition in a fixed order and returns
// the first reason that closes the gate.
func (g *SparkGate) Check(ctx context.Context, input GateInput) GateResult {
	if input.Stance != "sword" {
		return GateResult{Reason: ReasonWrongStance}
	}
	if input.ShieldIntervened {
		return GateResult{Reason: ReasonShieldActive}
	}
	if input.StakeLevel == "high" || input.StakeLevel == "critical" {
		return GateResult{Reason: ReasonStakesTooHigh}
	}
	if !input.VerificationComplete {
		return GateResult{Reason: ReasonVerificationPending}
	}

	count, err := g.dailyCount(ctx, input.UserID)
	if err != nil {
		return g.closed(input.UserID, ReasonStoreUnavailable, err)
	}
	if count >= maxSparksPerDay {
		return GateResult{Reason: ReasonDailyCapReached}
	}

	last, err := g.lastSparkAt(ctx, input.UserID)
	if err != nil {
		return g.closed(input.UserID, ReasonStoreUnavailable, err)
	}
	if !last.IsZero() && g.now().Sub(last) < minSparkInterval {
		return GateResult{Reason: ReasonTooSoon}
	}

	ema, err := g.IgnoreEMA(ctx, input.UserID)
	if err != nil {
		return g.closed(input.UserID, ReasonStoreUnavailable, err)
	}
	if ema > maxIgnoreEMA {
		return GateResult{Reason: ReasonUserIgnoring}
	}

	return GateResult{Open: true}
}

// RecordShown bumps the daily counter and the last-shown timestamp.
// Call after a spark is actually rendered.
func (g *SparkGate) RecordShown(ctx context.Context, userID string) error {
	now := g.now()
	countKey := dailyCountKey(userID, now)
	n, err := g.store.Incr(ctx, countKey)
	if err != nil {
		return fmt.Errorf("record spark: %w", err)
	}
	if n == 1 {
		// the counter dies with its day
		endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
		g.store.Expire(ctx, countKey, endOfDay.Sub(now)+time.Minute)
	}
	return g.store.Set(ctx, lastSparkKey(userID), strconv.FormatInt(now.UnixMilli(), 10), sparkStateTTL)
}

// RecordOutcome folds one engagement observation into the ignore EMA.
// ignored=true pushes the average toward 1, engagement toward 0.
func (g *SparkGate) RecordOutcome(ctx context.Context, userID string, ignored bool) error {
	current, err := g.IgnoreEMA(ctx, userID)
	if err != nil {
		return err
	}
	observation := 0.0
	if ignored {
		observation = 1.0
	}
	updated := ignoreEMAAlpha*observation + (1-ignoreEMAAlpha)*current
	return g.store.Set(ctx, emaKey(userID), strconv.FormatFloat(updated, 'f', 4, 64), sparkStateTTL)
}

// IgnoreEMA returns the user's current ignore average, zero when unset
func (g *SparkGate) IgnoreEMA(ctx context.Context, userID string) (float64, error) {
	raw, err := g.store.Get(ctx, emaKey(userID))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (g *SparkGate) dailyCount(ctx context.Context, userID string) (int, error) {
	raw, err := g.store.Get(ctx, dailyCountKey(userID, g.now()))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	n, _ := strconv.Atoi(raw)
	return n, nil
}

func (g *SparkGate) lastSparkAt(ctx context.Context, userID string) (time.Time, error) {
	raw, err := g.store.Get(ctx, lastSparkKey(userID))
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (g *SparkGate) closed(userID string, reason CloseReason, err error) GateResult {
	g.logger.Warn("Spark gate closed on store failure", map[string]interface{}{
		"user_id": userID,
		"error":   err.Error(),
	})
	return GateResult{Reason: reason}
}

func dailyCountKey(userID string, day time.Time) string {
	return core.NamespaceSpark + ":count:" + userID + ":" + day.Format("2006-01-02")
}

func lastSparkKey(userID string) string {
	return core.NamespaceSpark + ":last:" + userID
}

func emaKey(userID string) string {
	return core.NamespaceSpark + ":ema:" + userID
}
