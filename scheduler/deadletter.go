package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/core"
)

// deadLetterTTL keeps failed-job records long enough for an operator to
// inspect and requeue them.
const deadLetterTTL = 14 * 24 * time.Hour

// DeadLetter is one permanently failed job run
type DeadLetter struct {
	ID       string    `json:"id"`
	Job      string    `json:"job"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Fence    int64     `json:"fence"`
	FailedAt time.Time `json:"failedAt"`
}

// DeadLetterQueue stores failed runs for inspection and replay
type DeadLetterQueue struct {
	store  core.Store
	logger core.Logger
	now    func() time.Time
}

// NewDeadLetterQueue creates a dead-letter queue
func NewDeadLetterQueue(store core.Store, logger core.Logger) *DeadLetterQueue {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &DeadLetterQueue{store: store, logger: logger, now: time.Now}
}

// Push records a failed run
func (q *DeadLetterQueue) Push(ctx context.Context, letter DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	if letter.FailedAt.IsZero() {
		letter.FailedAt = q.now()
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.store.Set(ctx, letterKey(letter.ID), string(payload), deadLetterTTL); err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}
	if err := q.store.ZAdd(ctx, indexKey(), float64(letter.FailedAt.UnixMilli()), letter.ID); err != nil {
		return fmt.Errorf("index dead letter: %w", err)
	}

	q.logger.Error("Job run dead-lettered", map[string]interface{}{
		"job":      letter.Job,
		"attempts": letter.Attempts,
		"error":    letter.Error,
	})
	return nil
}

// Recent returns up to limit dead letters, newest first
func (q *DeadLetterQueue) Recent(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.store.ZRevRange(ctx, indexKey(), 0, limit-1)
	if err != nil {
		return nil, err
	}
	letters := make([]DeadLetter, 0, len(ids))
	for _, id := range ids {
		raw, err := q.store.Get(ctx, letterKey(id))
		if err != nil || raw == "" {
			continue // expired entries stay in the index until pruned
		}
		var letter DeadLetter
		if err := json.Unmarshal([]byte(raw), &letter); err != nil {
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Remove deletes a dead letter after inspection or replay. The index
// entry stays behind and is skipped by Recent; PruneIndex clears entries
// older than the retention window in bulk.
func (q *DeadLetterQueue) Remove(ctx context.Context, id string) error {
	_, err := q.store.Delete(ctx, letterKey(id))
	return err
}

// PruneIndex drops index entries older than the dead-letter retention
func (q *DeadLetterQueue) PruneIndex(ctx context.Context) error {
	cutoff := q.now().Add(-deadLetterTTL)
	return q.store.ZRemRangeByScore(ctx, indexKey(), 0, float64(cutoff.UnixMilli()))
}

func letterKey(id string) string {
	return core.NamespaceScheduler + ":dead:" + id
}

func indexKey() string {
	return core.NamespaceScheduler + ":dead:index"
}
