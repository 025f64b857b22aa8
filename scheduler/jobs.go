package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/resilience"
)

// JobDeps carries everything the recurring jobs touch. Domain hooks are
// optional; a nil hook turns its job into a logged no-op so a deployment
// can run a subset of the system.
type JobDeps struct {
	Store  core.Store
	Audit  *audit.Logger
	Logger core.Logger

	// Domain hooks
	DecayMemory        func(ctx context.Context) error
	SendSparkReminders func(ctx context.Context) error
	CheckGoalDeadlines func(ctx context.Context) error
	BuildCurriculum    func(ctx context.Context) error
	EscalateReminders  func(ctx context.Context) error
	ReconcileDay       func(ctx context.Context) error
	EnforceRetention   func(ctx context.Context) error
}

// RecurringJobs returns the standard job table. Schedules are expressed
// in the store's local server time.
func RecurringJobs(deps JobDeps) []JobDefinition {
	logger := deps.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	retry := &resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.25,
	}

	return []JobDefinition{
		{
			Name:    "memory-decay",
			Cron:    "0 3 * * *",
			Timeout: 5 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.DecayMemory, "memory-decay", logger),
		},
		{
			Name:    "spark-reminders",
			Cron:    "0 * * * *",
			Timeout: 2 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.SendSparkReminders, "spark-reminders", logger),
		},
		{
			Name:    "goal-deadline-check",
			Cron:    "0 9 * * *",
			Timeout: 2 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.CheckGoalDeadlines, "goal-deadline-check", logger),
		},
		{
			Name:     "session-cleanup",
			Interval: 6 * time.Hour,
			Timeout:  5 * time.Minute,
			Retry:    retry,
			Handler:  cleanupByPattern(deps.Store, core.NamespaceSession+":*", logger),
		},
		{
			Name:    "conversation-cleanup",
			Cron:    "0 4 * * 0",
			Timeout: 10 * time.Minute,
			Retry:   retry,
			Handler: cleanupByPattern(deps.Store, core.NamespaceSession+":conv:*", logger),
		},
		{
			Name:         "expired-token-cleanup",
			Cron:         "30 * * * *",
			RunOnStartup: true,
			Timeout:      time.Minute,
			Retry:        retry,
			Handler:      cleanupByPattern(deps.Store, core.NamespaceAck+":*", logger),
		},
		{
			Name:     "metrics-aggregation",
			Interval: 5 * time.Minute,
			Timeout:  time.Minute,
			Handler:  aggregateMetrics(deps.Store),
		},
		{
			Name:     "health-check",
			Interval: time.Minute,
			Timeout:  10 * time.Second,
			Handler:  healthCheck(deps.Store),
		},
		{
			Name:    "daily-curriculum",
			Cron:    "0 0 * * *",
			Timeout: 5 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.BuildCurriculum, "daily-curriculum", logger),
		},
		{
			Name:     "reminder-escalation",
			Interval: 3 * time.Hour,
			Timeout:  2 * time.Minute,
			Retry:    retry,
			Handler:  hook(deps.EscalateReminders, "reminder-escalation", logger),
		},
		{
			Name:    "day-end-reconciliation",
			Cron:    "0 23 * * *",
			Timeout: 5 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.ReconcileDay, "day-end-reconciliation", logger),
		},
		{
			Name:    "retention-enforcement",
			Cron:    "30 3 * * *",
			Timeout: 15 * time.Minute,
			Retry:   retry,
			Handler: hook(deps.EnforceRetention, "retention-enforcement", logger),
		},
	}
}

func hook(fn func(ctx context.Context) error, name string, logger core.Logger) func(ctx context.Context) error {
	if fn != nil {
		return fn
	}
	return func(ctx context.Context) error {
		logger.Debug("Job hook not wired, skipping", map[string]interface{}{"job": name})
		return nil
	}
}

// cleanupByPattern touches every key under a pattern so lazily expired
// entries are reaped and reports how many remain live.
func cleanupByPattern(store core.Store, pattern string, logger core.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		keys, err := store.Keys(ctx, pattern)
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		live := 0
		for _, key := range keys {
			exists, err := store.Exists(ctx, key)
			if err != nil {
				return fmt.Errorf("check %s: %w", key, err)
			}
			if exists {
				live++
			}
		}
		logger.Debug("Cleanup pass complete", map[string]interface{}{
			"pattern": pattern,
			"live":    live,
			"scanned": len(keys),
		})
		return nil
	}
}

// aggregateMetrics rolls point-in-time counts into a snapshot key the
// operator surface reads. Snapshots carry the run's fencing token so a
// write from a stale lock holder is recognizable.
func aggregateMetrics(store core.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fence, _ := FenceFrom(ctx)
		for _, ns := range []string{core.NamespaceSession, core.NamespaceAck, core.NamespaceShield} {
			keys, err := store.Keys(ctx, ns+":*")
			if err != nil {
				return err
			}
			snapshot := core.NamespaceScheduler + ":metrics:" + ns
			value := fmt.Sprintf("%d fence=%d", len(keys), fence)
			if err := store.Set(ctx, snapshot, value, time.Hour); err != nil {
				return err
			}
		}
		return nil
	}
}

// healthCheck verifies the store answers a round trip
func healthCheck(store core.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fence, _ := FenceFrom(ctx)
		key := core.NamespaceScheduler + ":health"
		value := fmt.Sprintf("%d fence=%d", time.Now().UnixMilli(), fence)
		if err := store.Set(ctx, key, value, 5*time.Minute); err != nil {
			return fmt.Errorf("store write failed: %w", err)
		}
		if _, err := store.Get(ctx, key); err != nil {
			return fmt.Errorf("store read failed: %w", err)
		}
		return nil
	}
}
