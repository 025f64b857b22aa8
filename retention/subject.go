package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
)

// userNamespaces are the keyspaces swept by data-subject requests. Keys
// in these namespaces embed the user id.
var userNamespaces = []string{
	core.NamespaceSession,
	core.NamespaceShield,
	core.NamespaceSpark,
	core.NamespaceConsent,
}

// Export is the result of a data-subject export request
type Export struct {
	UserID      string            `json:"userId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Entries     map[string]string `json:"entries"`
	Consent     map[string]bool   `json:"consent"`
}

// SubjectService handles export and erasure requests
type SubjectService struct {
	store   core.Store
	consent *ConsentLedger
	config  Config
	audit   *audit.Logger
	logger  core.Logger
	now     func() time.Time
}

// NewSubjectService creates a data-subject service
func NewSubjectService(store core.Store, consent *ConsentLedger, config Config, auditLog *audit.Logger, logger core.Logger) *SubjectService {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SubjectService{
		store:   store,
		consent: consent,
		config:  config,
		audit:   auditLog,
		logger:  logger,
		now:     time.Now,
	}
}

// ExportUser gathers everything stored about a user into one document
func (s *SubjectService) ExportUser(ctx context.Context, userID string) (*Export, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", core.ErrInvalidInput)
	}

	export := &Export{
		UserID:      userID,
		GeneratedAt: s.now(),
		Entries:     make(map[string]string),
	}
	for _, ns := range userNamespaces {
		keys, err := s.store.Keys(ctx, ns+":*"+userID+"*")
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		for _, key := range keys {
			value, err := s.store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", key, err)
			}
			if value != "" {
				export.Entries[key] = value
			}
		}
	}
	if s.consent != nil {
		snapshot, err := s.consent.Snapshot(ctx, userID)
		if err != nil {
			return nil, err
		}
		export.Consent = snapshot
	}

	s.recordAudit(ctx, userID, "data_export", len(export.Entries))
	return export, nil
}

// ExportJSON renders an export as indented JSON for delivery
func (s *SubjectService) ExportJSON(ctx context.Context, userID string) ([]byte, error) {
	export, err := s.ExportUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(export, "", "  ")
}

// EraseUser deletes a user's data across the swept namespaces. Archived
// copies are purged only when the config says so; the erasure itself is
// always recorded in the audit log.
func (s *SubjectService) EraseUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required: %w", core.ErrInvalidInput)
	}

	patterns := make([]string, 0, len(userNamespaces)+1)
	for _, ns := range userNamespaces {
		patterns = append(patterns, ns+":*"+userID+"*")
	}
	if s.config.PurgeArchivesOnErasure {
		patterns = append(patterns, core.NamespaceRetention+":archive:*"+userID+"*")
	}

	erased := 0
	for _, pattern := range patterns {
		keys, err := s.store.Keys(ctx, pattern)
		if err != nil {
			return erased, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range keys {
			deleted, err := s.store.Delete(ctx, key)
			if err != nil {
				return erased, fmt.Errorf("delete %s: %w", key, err)
			}
			if deleted {
				erased++
			}
		}
	}

	s.recordAudit(ctx, userID, "data_erasure", erased)
	s.logger.Info("User data erased", map[string]interface{}{
		"user_id":         userID,
		"keys":            erased,
		"archives_purged": s.config.PurgeArchivesOnErasure,
	})
	return erased, nil
}

func (s *SubjectService) recordAudit(ctx context.Context, userID, action string, count int) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{
		Category: audit.CategoryDataSubject,
		UserID:   userID,
		Action:   action,
		Details:  map[string]interface{}{"keys": count},
	})
}
