// Package audit provides the append-only event log. Events are hashed at
// write time for tamper detection, indexed per user and per category in
// timestamp-scored sorted sets, and expired according to the retention
// policy. Writers never read; readers use the indexes.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wardline/wardline/core"
)

// Event categories
const (
	CategorySafety            = "safety"
	CategorySecurityViolation = "security_violation"
	CategoryRateLimit         = "rate_limit"
	CategoryScheduler         = "scheduler"
	CategoryConsent           = "consent"
	CategoryDataSubject       = "data_subject"
	CategoryPipeline          = "pipeline"
	CategorySystem            = "system"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is a single audit record. The Hash field is computed at write time
// over the canonical JSON of every other field.
type Event struct {
	ID        string                 `json:"id"`
	Category  string                 `json:"category"`
	Severity  string                 `json:"severity"`
	UserID    string                 `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Hash      string                 `json:"hash,omitempty"`
}

// Logger is the append-only audit writer
type Logger struct {
	store         core.Store
	logger        core.Logger
	retentionDays int
	now           func() time.Time
}

// Options configures the audit logger
type Options struct {
	Store         core.Store
	Logger        core.Logger
	RetentionDays int
}

// NewLogger creates an audit logger
func NewLogger(opts Options) (*Logger, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required: %w", core.ErrConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	return &Logger{
		store:         opts.Store,
		logger:        opts.Logger,
		retentionDays: opts.RetentionDays,
		now:           time.Now,
	}, nil
}

// InferSeverity maps a category to its default severity
func InferSeverity(category string) string {
	switch category {
	case CategorySecurityViolation:
		return SeverityCritical
	case CategorySafety, CategoryRateLimit:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Record appends an event. Missing id, timestamp, severity and hash are
// filled in. The event is stored at its own key with the retention TTL,
// and indexed by user and category.
func (l *Logger) Record(ctx context.Context, event Event) (*Event, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.Severity == "" {
		event.Severity = InferSeverity(event.Category)
	}
	if event.Category == "" {
		event.Category = CategorySystem
	}

	hash, err := hashEvent(event)
	if err != nil {
		return nil, core.NewPipelineError("audit.Record", "INTERNAL_ERROR", err)
	}
	event.Hash = hash

	data, err := json.Marshal(event)
	if err != nil {
		return nil, core.NewPipelineError("audit.Record", "INTERNAL_ERROR", err)
	}

	ttl := time.Duration(l.retentionDays) * 24 * time.Hour
	score := float64(event.Timestamp.UnixMilli())

	if err := l.store.Set(ctx, eventKey(event.ID), string(data), ttl); err != nil {
		return nil, fmt.Errorf("audit write: %w", err)
	}
	if err := l.store.ZAdd(ctx, categoryIndexKey(event.Category), score, event.ID); err != nil {
		return nil, fmt.Errorf("audit category index: %w", err)
	}
	if event.UserID != "" {
		if err := l.store.ZAdd(ctx, userIndexKey(event.UserID), score, event.ID); err != nil {
			return nil, fmt.Errorf("audit user index: %w", err)
		}
	}

	l.logger.Debug("Audit event recorded", map[string]interface{}{
		"event_id": event.ID,
		"category": event.Category,
		"severity": event.Severity,
	})

	return &event, nil
}

// GetByID fetches an event and verifies its hash
func (l *Logger) GetByID(ctx context.Context, id string) (*Event, error) {
	raw, err := l.store.Get(ctx, eventKey(id))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("audit event %s: %w", id, core.ErrNotFound)
	}

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, core.NewPipelineError("audit.GetByID", "INTERNAL_ERROR", err)
	}

	expected, err := hashEvent(event)
	if err != nil {
		return nil, err
	}
	if expected != event.Hash {
		return nil, fmt.Errorf("audit event %s hash mismatch: %w", id, core.ErrValidation)
	}
	return &event, nil
}

// RecentByUser returns the newest event ids for a user
func (l *Logger) RecentByUser(ctx context.Context, userID string, limit int64) ([]string, error) {
	return l.store.ZRevRange(ctx, userIndexKey(userID), 0, limit-1)
}

// RecentByCategory returns the newest event ids for a category
func (l *Logger) RecentByCategory(ctx context.Context, category string, limit int64) ([]string, error) {
	return l.store.ZRevRange(ctx, categoryIndexKey(category), 0, limit-1)
}

// hashEvent computes the SHA-256 over the canonical JSON of the event with
// the Hash field cleared.
func hashEvent(event Event) (string, error) {
	event.Hash = ""
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func eventKey(id string) string {
	return fmt.Sprintf("%s:event:%s", core.NamespaceAudit, id)
}

func categoryIndexKey(category string) string {
	return fmt.Sprintf("%s:idx:category:%s", core.NamespaceAudit, category)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("%s:idx:user:%s", core.NamespaceAudit, userID)
}
