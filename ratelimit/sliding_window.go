package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/wardline/wardline/core"
)

// SlidingWindow is the counter-based alternative to the token bucket.
// The key is bucketed by window start (floor(now/window)); the counter is
// atomically incremented and expired after one window, so the limit holds
// without any read-modify-write race.
type SlidingWindow struct {
	store     core.Store
	window    time.Duration
	max       int64
	logger    core.Logger
	auditHook AuditHook
	now       func() time.Time
}

// NewSlidingWindow creates a sliding-window counter limiter
func NewSlidingWindow(store core.Store, window time.Duration, max int64, logger core.Logger, hook AuditHook) (*SlidingWindow, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required: %w", core.ErrConfiguration)
	}
	if window <= 0 || max <= 0 {
		return nil, fmt.Errorf("window and max must be positive: %w", core.ErrConfiguration)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SlidingWindow{
		store:     store,
		window:    window,
		max:       max,
		logger:    logger,
		auditHook: hook,
		now:       time.Now,
	}, nil
}

// Check increments the current window's counter for key and reports
// whether the request is within the limit. Store errors fail open.
func (s *SlidingWindow) Check(ctx context.Context, key string) (*Decision, error) {
	windowStart := s.now().UnixMilli() / s.window.Milliseconds()
	counterKey := fmt.Sprintf("%s:window:%s:%d", core.NamespaceRateLimit, key, windowStart)

	count, err := s.store.Incr(ctx, counterKey)
	if err != nil {
		s.logger.Warn("Sliding window failing open on store error", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		if s.auditHook != nil {
			s.auditHook(ctx, "rate_limit_fail_open", key, err)
		}
		return &Decision{Allowed: true, Remaining: -1}, nil
	}

	if count == 1 {
		// First hit in this window: bound the counter's lifetime
		if err := s.store.Expire(ctx, counterKey, s.window); err != nil {
			s.logger.Warn("Failed to set window TTL", map[string]interface{}{
				"key":   counterKey,
				"error": err,
			})
		}
	}

	if count > s.max {
		windowEnd := (windowStart + 1) * s.window.Milliseconds()
		return &Decision{
			Allowed:      false,
			RetryAfterMs: windowEnd - s.now().UnixMilli(),
		}, nil
	}

	return &Decision{
		Allowed:   true,
		Remaining: int(s.max - count),
	}, nil
}
