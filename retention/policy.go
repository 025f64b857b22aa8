// Package retention enforces data lifecycle policy: per-category
// retention windows, the append-only consent ledger, and data-subject
// export and erasure requests.
package retention

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
)

// archiveTTL bounds how long archived copies outlive their source
const archiveTTL = 365 * 24 * time.Hour

// Policy is the retention rule for one data category
type Policy struct {
	Category string
	// MaxAge is how long entries live before enforcement removes them
	MaxAge time.Duration
	// ArchiveBeforeDelete copies the value aside before deletion
	ArchiveBeforeDelete bool
}

// DefaultPolicies covers the store's data categories
func DefaultPolicies() []Policy {
	return []Policy{
		{Category: "session", MaxAge: 30 * 24 * time.Hour},
		{Category: "audit", MaxAge: 90 * 24 * time.Hour, ArchiveBeforeDelete: true},
		{Category: "shield", MaxAge: 30 * 24 * time.Hour, ArchiveBeforeDelete: true},
		{Category: "spark", MaxAge: 90 * 24 * time.Hour},
		{Category: "consent", MaxAge: 3 * 365 * 24 * time.Hour, ArchiveBeforeDelete: true},
	}
}

// Config tunes enforcement behavior
type Config struct {
	// PurgeArchivesOnErasure extends an erasure request to archived
	// copies. Default false: archives persist for the legal window.
	PurgeArchivesOnErasure bool
}

// Enforcer applies the policies. Entries are tracked in a per-category
// sorted-set index scored by creation time; enforcement walks the index
// rather than scanning the keyspace.
type Enforcer struct {
	store    core.Store
	policies map[string]Policy
	config   Config
	audit    *audit.Logger
	logger   core.Logger
	now      func() time.Time
}

// NewEnforcer creates an enforcer over the given policies
func NewEnforcer(store core.Store, policies []Policy, config Config, auditLog *audit.Logger, logger core.Logger) *Enforcer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	byCategory := make(map[string]Policy, len(policies))
	for _, p := range policies {
		byCategory[p.Category] = p
	}
	return &Enforcer{
		store:    store,
		policies: byCategory,
		config:   config,
		audit:    auditLog,
		logger:   logger,
		now:      time.Now,
	}
}

// Track registers a stored key under its category so enforcement can
// find it later. Call at write time. The member carries the creation
// timestamp so enforcement can read ages without per-entry lookups.
func (e *Enforcer) Track(ctx context.Context, category, key string) error {
	if _, ok := e.policies[category]; !ok {
		return fmt.Errorf("unknown retention category %q: %w", category, core.ErrConfiguration)
	}
	ts := e.now().UnixMilli()
	member := fmt.Sprintf("%d|%s", ts, key)
	return e.store.ZAdd(ctx, trackIndex(category), float64(ts), member)
}

// EnforceAll runs every policy once and returns the first error after
// attempting all categories.
func (e *Enforcer) EnforceAll(ctx context.Context) error {
	var firstErr error
	for category := range e.policies {
		if err := e.Enforce(ctx, category); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Enforce removes entries of one category older than its window,
// archiving first when the policy says so.
func (e *Enforcer) Enforce(ctx context.Context, category string) error {
	policy, ok := e.policies[category]
	if !ok {
		return fmt.Errorf("unknown retention category %q: %w", category, core.ErrConfiguration)
	}
	cutoff := e.now().Add(-policy.MaxAge)

	// the index is ascending by creation time, so expired entries are a
	// prefix of the range
	members, err := e.store.ZRange(ctx, trackIndex(category), 0, -1)
	if err != nil {
		return fmt.Errorf("read %s index: %w", category, err)
	}

	removed := 0
	for _, member := range members {
		ts, key, ok := parseMember(member)
		if !ok {
			continue
		}
		if ts.After(cutoff) {
			break // everything after this is younger
		}

		if policy.ArchiveBeforeDelete {
			raw, err := e.store.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			if raw != "" {
				if err := e.store.Set(ctx, archiveKey(category, key), raw, archiveTTL); err != nil {
					return fmt.Errorf("archive %s: %w", key, err)
				}
			}
		}
		if _, err := e.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		removed++
	}

	if removed > 0 {
		if err := e.store.ZRemRangeByScore(ctx, trackIndex(category), 0, float64(cutoff.UnixMilli())); err != nil {
			return fmt.Errorf("prune %s index: %w", category, err)
		}
		e.recordAudit(ctx, category, removed)
	}
	return nil
}

// parseMember splits a "timestamp|key" index member
func parseMember(member string) (time.Time, string, bool) {
	sep := strings.IndexByte(member, '|')
	if sep <= 0 {
		return time.Time{}, "", false
	}
	ms, err := strconv.ParseInt(member[:sep], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.UnixMilli(ms), member[sep+1:], true
}

func (e *Enforcer) recordAudit(ctx context.Context, category string, removed int) {
	e.logger.Info("Retention enforced", map[string]interface{}{
		"category": category,
		"removed":  removed,
	})
	if e.audit != nil {
		e.audit.Record(ctx, audit.Event{
			Category: audit.CategorySystem,
			Action:   "retention_enforced",
			Details: map[string]interface{}{
				"category": category,
				"removed":  removed,
			},
		})
	}
}

func trackIndex(category string) string {
	return core.NamespaceRetention + ":index:" + category
}

func archiveKey(category, key string) string {
	return core.NamespaceRetention + ":archive:" + category + ":" + key
}
