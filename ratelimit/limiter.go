// Package ratelimit implements request rate limiting on top of core.Store.
//
// Two strategies are provided: a token bucket (the default request-path
// limiter) and a sliding-window counter. Both keep their state in the
// shared store so limits hold across process instances.
//
// Failure policy: the limiter is availability-critical, not safety-critical,
// so a store error fails OPEN — the request is allowed and the failure is
// reported through the audit hook.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/wardline/wardline/core"
)

// Tier names. Unknown tiers fall back to the anonymous tier, which carries
// a hardwired lower limit.
const (
	TierAnonymous = "anonymous"
	TierStandard  = "standard"
	TierPremium   = "premium"
)

// Limit holds token-bucket parameters for one tier or endpoint category
type Limit struct {
	Window     time.Duration
	MaxTokens  float64
	RefillRate float64 // tokens per second
}

// anonymousFloor is the hardwired ceiling for unauthenticated callers.
// Tier configuration cannot raise the anonymous tier above this.
var anonymousFloor = Limit{
	Window:     time.Minute,
	MaxTokens:  10,
	RefillRate: 10.0 / 60.0,
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed      bool
	Remaining    int
	ResetMs      int64
	RetryAfterMs int64
}

// AuditHook is invoked when the limiter fails open on a store error
type AuditHook func(ctx context.Context, scope, key string, err error)

// bucketState is the persisted per-key state
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill_ms"`
}

// Limiter is a distributed token-bucket rate limiter
type Limiter struct {
	store core.Store
	tiers map[string]Limit
	// overrides maps endpoint category → tier name → limit
	overrides map[string]map[string]Limit
	logger    core.Logger
	auditHook AuditHook
	now       func() time.Time
}

// LimiterOptions configures the limiter
type LimiterOptions struct {
	Store     core.Store
	Tiers     map[string]Limit
	Overrides map[string]map[string]Limit
	Logger    core.Logger
	AuditHook AuditHook
}

// NewLimiter creates a token-bucket limiter
func NewLimiter(opts LimiterOptions) (*Limiter, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required: %w", core.ErrConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	tiers := opts.Tiers
	if tiers == nil {
		tiers = map[string]Limit{
			TierAnonymous: anonymousFloor,
			TierStandard:  {Window: time.Minute, MaxTokens: 60, RefillRate: 1},
			TierPremium:   {Window: time.Minute, MaxTokens: 300, RefillRate: 5},
		}
	}
	// Clamp the anonymous tier to the hardwired floor
	if anon, ok := tiers[TierAnonymous]; ok {
		if anon.MaxTokens > anonymousFloor.MaxTokens {
			anon.MaxTokens = anonymousFloor.MaxTokens
		}
		if anon.RefillRate > anonymousFloor.RefillRate {
			anon.RefillRate = anonymousFloor.RefillRate
		}
		tiers[TierAnonymous] = anon
	} else {
		tiers[TierAnonymous] = anonymousFloor
	}

	return &Limiter{
		store:     opts.Store,
		tiers:     tiers,
		overrides: opts.Overrides,
		logger:    opts.Logger,
		auditHook: opts.AuditHook,
		now:       time.Now,
	}, nil
}

// limitFor resolves the limit for a tier and optional endpoint category.
// Category overrides win over tier defaults; unknown tiers degrade to
// anonymous.
func (l *Limiter) limitFor(tier, category string) Limit {
	if category != "" {
		if byTier, ok := l.overrides[category]; ok {
			if limit, ok := byTier[tier]; ok {
				return limit
			}
		}
	}
	if limit, ok := l.tiers[tier]; ok {
		return limit
	}
	return l.tiers[TierAnonymous]
}

// Check consumes one token for (tier, category, key) and returns the
// decision. Store errors fail open.
func (l *Limiter) Check(ctx context.Context, tier, category, key string) (*Decision, error) {
	limit := l.limitFor(tier, category)
	stateKey := fmt.Sprintf("%s:bucket:%s:%s:%s", core.NamespaceRateLimit, tier, category, key)

	raw, err := l.store.Get(ctx, stateKey)
	if err != nil {
		return l.failOpen(ctx, tier, key, err), nil
	}

	nowMs := l.now().UnixMilli()
	state := bucketState{Tokens: limit.MaxTokens, LastRefill: nowMs}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			// Corrupt state: reinitialize a full bucket
			state = bucketState{Tokens: limit.MaxTokens, LastRefill: nowMs}
		}
	}

	// Refill
	elapsed := float64(nowMs-state.LastRefill) / 1000.0
	if elapsed > 0 {
		state.Tokens = math.Min(limit.MaxTokens, state.Tokens+elapsed*limit.RefillRate)
		state.LastRefill = nowMs
	}

	decision := &Decision{}
	if state.Tokens >= 1 {
		state.Tokens--
		decision.Allowed = true
		decision.Remaining = int(math.Floor(state.Tokens))
		decision.ResetMs = int64((limit.MaxTokens - state.Tokens) / limit.RefillRate * 1000)
	} else {
		decision.Allowed = false
		decision.RetryAfterMs = int64((1 - state.Tokens) / limit.RefillRate * 1000)
	}

	persisted, _ := json.Marshal(state)
	if err := l.store.Set(ctx, stateKey, string(persisted), limit.Window); err != nil {
		return l.failOpen(ctx, tier, key, err), nil
	}

	return decision, nil
}

// failOpen allows the request and reports the store failure
func (l *Limiter) failOpen(ctx context.Context, tier, key string, err error) *Decision {
	l.logger.Warn("Rate limiter failing open on store error", map[string]interface{}{
		"tier":  tier,
		"key":   key,
		"error": err,
	})
	if l.auditHook != nil {
		l.auditHook(ctx, "rate_limit_fail_open", key, err)
	}
	return &Decision{Allowed: true, Remaining: -1}
}
