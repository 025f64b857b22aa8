package shield

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

// DefaultAckTokenTTL is how long an acknowledgement token stays valid
const DefaultAckTokenTTL = 10 * time.Minute

// AckToken is issued when generation is halted pending the user's
// explicit acknowledgement. It is bound to the user and the exact
// request that triggered the halt, and can be consumed exactly once.
type AckToken struct {
	Token       string    `json:"token"`
	UserID      string    `json:"userId"`
	RequestHash string    `json:"requestHash"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AckTokenManager issues and consumes acknowledgement tokens through the
// shared store so any instance can honor a token issued by another.
type AckTokenManager struct {
	store  core.Store
	ttl    time.Duration
	logger core.Logger
	now    func() time.Time
}

// NewAckTokenManager creates a manager. TTL <= 0 uses the default.
func NewAckTokenManager(store core.Store, ttl time.Duration, logger core.Logger) *AckTokenManager {
	if ttl <= 0 {
		ttl = DefaultAckTokenTTL
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AckTokenManager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// HashRequest canonicalizes a request message for token binding
func HashRequest(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new single-use token bound to user and request
func (m *AckTokenManager) Issue(ctx context.Context, userID, requestHash string) (*AckToken, error) {
	if userID == "" || requestHash == "" {
		return nil, fmt.Errorf("user and request hash are required: %w", core.ErrInvalidInput)
	}

	now := m.now()
	token := &AckToken{
		Token:       uuid.New().String(),
		UserID:      userID,
		RequestHash: requestHash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("marshal ack token: %w", err)
	}

	if err := m.store.Set(ctx, ackKey(token.Token), string(payload), m.ttl); err != nil {
		return nil, &core.PipelineError{
			Op: "shield.issue_ack", Code: "INTERNAL_ERROR",
			Message: "failed to persist ack token", Err: err,
		}
	}

	m.logger.Info("Ack token issued", map[string]interface{}{
		"user_id":    userID,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
	return token, nil
}

// Consume validates and deletes a token in one logical step. A second
// consume of the same token fails with ErrUnauthorized, as does a token
// presented by a different user or for a different request.
func (m *AckTokenManager) Consume(ctx context.Context, tokenID, userID, requestHash string) error {
	raw, err := m.store.Get(ctx, ackKey(tokenID))
	if err != nil {
		return &core.PipelineError{
			Op: "shield.consume_ack", Code: "INTERNAL_ERROR",
			Message: "failed to load ack token", Err: err,
		}
	}
	if raw == "" {
		return fmt.Errorf("ack token expired or already used: %w", core.ErrUnauthorized)
	}

	var token AckToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return fmt.Errorf("corrupt ack token: %w", core.ErrInternal)
	}
	if token.UserID != userID || token.RequestHash != requestHash {
		return fmt.Errorf("ack token does not match this request: %w", core.ErrUnauthorized)
	}
	if m.now().After(token.ExpiresAt) {
		return fmt.Errorf("ack token expired: %w", core.ErrUnauthorized)
	}

	// delete-once: losing the race to another consumer means the token
	// was already spent
	deleted, err := m.store.Delete(ctx, ackKey(tokenID))
	if err != nil {
		return &core.PipelineError{
			Op: "shield.consume_ack", Code: "INTERNAL_ERROR",
			Message: "failed to consume ack token", Err: err,
		}
	}
	if !deleted {
		return fmt.Errorf("ack token already used: %w", core.ErrUnauthorized)
	}

	m.logger.Info("Ack token consumed", map[string]interface{}{"user_id": userID})
	return nil
}

func ackKey(token string) string {
	return core.NamespaceAck + ":" + token
}
