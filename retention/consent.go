package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
)

// Consent purposes
const (
	PurposeConversationHistory = "conversation_history"
	PurposePersonalization     = "personalization"
	PurposeProactiveMessages   = "proactive_messages"
	PurposeAnalytics           = "analytics"
)

// ConsentRecord is one append-only consent change. Records are never
// edited or deleted inside the retention window; the current state is
// derived by replaying them in order.
type ConsentRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Purpose   string    `json:"purpose"`
	Granted   bool      `json:"granted"`
	Source    string    `json:"source,omitempty"` // ui, api, operator
	Timestamp time.Time `json:"timestamp"`
}

// ConsentLedger stores and replays consent changes
type ConsentLedger struct {
	store  core.Store
	audit  *audit.Logger
	logger core.Logger
	now    func() time.Time
}

// NewConsentLedger creates a ledger
func NewConsentLedger(store core.Store, auditLog *audit.Logger, logger core.Logger) *ConsentLedger {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ConsentLedger{store: store, audit: auditLog, logger: logger, now: time.Now}
}

// Append records a consent change
func (l *ConsentLedger) Append(ctx context.Context, record ConsentRecord) (*ConsentRecord, error) {
	if record.UserID == "" || record.Purpose == "" {
		return nil, fmt.Errorf("user and purpose are required: %w", core.ErrInvalidInput)
	}
	record.ID = uuid.New().String()
	record.Timestamp = l.now()

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal consent record: %w", err)
	}
	if err := l.store.Set(ctx, recordKey(record.ID), string(payload), 0); err != nil {
		return nil, fmt.Errorf("store consent record: %w", err)
	}
	if err := l.store.ZAdd(ctx, userIndex(record.UserID), float64(record.Timestamp.UnixMilli()), record.ID); err != nil {
		return nil, fmt.Errorf("index consent record: %w", err)
	}

	if l.audit != nil {
		l.audit.Record(ctx, audit.Event{
			Category: audit.CategoryConsent,
			UserID:   record.UserID,
			Action:   "consent_changed",
			Details: map[string]interface{}{
				"purpose": record.Purpose,
				"granted": record.Granted,
				"source":  record.Source,
			},
		})
	}
	return &record, nil
}

// Snapshot derives the user's current consent state by replaying the
// ledger oldest-first. Purposes never recorded are absent from the map.
func (l *ConsentLedger) Snapshot(ctx context.Context, userID string) (map[string]bool, error) {
	ids, err := l.store.ZRange(ctx, userIndex(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read consent index: %w", err)
	}

	state := make(map[string]bool)
	for _, id := range ids {
		raw, err := l.store.Get(ctx, recordKey(id))
		if err != nil {
			return nil, fmt.Errorf("read consent record %s: %w", id, err)
		}
		if raw == "" {
			continue
		}
		var record ConsentRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		state[record.Purpose] = record.Granted
	}
	return state, nil
}

// HasConsent reports the current grant for one purpose, false when the
// purpose was never recorded.
func (l *ConsentLedger) HasConsent(ctx context.Context, userID, purpose string) (bool, error) {
	state, err := l.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return state[purpose], nil
}

// History returns the user's consent changes newest-first
func (l *ConsentLedger) History(ctx context.Context, userID string, limit int64) ([]ConsentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := l.store.ZRevRange(ctx, userIndex(userID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	records := make([]ConsentRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := l.store.Get(ctx, recordKey(id))
		if err != nil || raw == "" {
			continue
		}
		var record ConsentRecord
		if err := json.Unmarshal([]byte(raw), &record); err == nil {
			records = append(records, record)
		}
	}
	return records, nil
}

func recordKey(id string) string {
	return core.NamespaceConsent + ":record:" + id
}

func userIndex(userID string) string {
	return core.NamespaceConsent + ":user:" + userID
}
