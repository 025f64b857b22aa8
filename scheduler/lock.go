// Package scheduler runs the recurring maintenance jobs. Exactly one
// instance executes each due job, coordinated through fenced distributed
// locks in the shared store.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/wardline/wardline/core"
)

// DefaultLockMargin extends a lock's TTL past the job timeout so the
// lock outlives a job that uses its full budget.
const DefaultLockMargin = 30 * time.Second

// Lease is a held lock. Fence is a monotonically increasing token: a
// holder that stalls and loses its lock can be recognized as stale by
// comparing fences.
type Lease struct {
	Name      string
	Owner     string
	Fence     int64
	ExpiresAt time.Time
}

type fenceCtxKey struct{}

// WithFence tags a job run's context with its fencing token
func WithFence(ctx context.Context, fence int64) context.Context {
	return context.WithValue(ctx, fenceCtxKey{}, fence)
}

// FenceFrom returns the fencing token of the current job run. Handlers
// include it in store writes so writes from a stale lock holder can be
// told apart from the current holder's.
func FenceFrom(ctx context.Context) (int64, bool) {
	fence, ok := ctx.Value(fenceCtxKey{}).(int64)
	return fence, ok
}

// LockManager acquires and releases fenced locks
type LockManager struct {
	store  core.Store
	margin time.Duration
	logger core.Logger
}

// NewLockManager creates a lock manager. margin <= 0 uses the default.
func NewLockManager(store core.Store, margin time.Duration, logger core.Logger) *LockManager {
	if margin <= 0 {
		margin = DefaultLockMargin
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &LockManager{store: store, margin: margin, logger: logger}
}

// Acquire takes the named lock for timeout+margin. It fails fast with
// ErrLockNotAcquired when another holder has it.
func (m *LockManager) Acquire(ctx context.Context, name, owner string, timeout time.Duration) (*Lease, error) {
	ttl := timeout + m.margin
	ok, err := m.store.SetNX(ctx, lockKey(name), owner, ttl)
	if err != nil {
		return nil, &core.PipelineError{
			Op: "scheduler.acquire_lock", Code: "INTERNAL_ERROR",
			Message: fmt.Sprintf("lock %s", name), Err: err,
		}
	}
	if !ok {
		return nil, fmt.Errorf("lock %s held elsewhere: %w", name, core.ErrLockNotAcquired)
	}

	// the fence survives lock churn, so it only ever moves forward
	fence, err := m.store.Incr(ctx, fenceKey(name))
	if err != nil {
		m.store.Delete(ctx, lockKey(name))
		return nil, &core.PipelineError{
			Op: "scheduler.acquire_lock", Code: "INTERNAL_ERROR",
			Message: fmt.Sprintf("fence %s", name), Err: err,
		}
	}

	return &Lease{
		Name:      name,
		Owner:     owner,
		Fence:     fence,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Release drops the lock if this lease still owns it. Releasing a lock
// that expired and was re-acquired elsewhere is a no-op.
func (m *LockManager) Release(ctx context.Context, lease *Lease) error {
	current, err := m.store.Get(ctx, lockKey(lease.Name))
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lease.Name, err)
	}
	if current != lease.Owner {
		m.logger.Warn("Lock lost before release", map[string]interface{}{
			"lock":  lease.Name,
			"owner": lease.Owner,
			"fence": lease.Fence,
		})
		return nil
	}
	_, err = m.store.Delete(ctx, lockKey(lease.Name))
	return err
}

// CurrentFence reads the fence counter without touching the lock
func (m *LockManager) CurrentFence(ctx context.Context, name string) (int64, error) {
	raw, err := m.store.Get(ctx, fenceKey(name))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	var fence int64
	fmt.Sscanf(raw, "%d", &fence)
	return fence, nil
}

func lockKey(name string) string {
	return core.NamespaceScheduler + ":lock:" + name
}

func fenceKey(name string) string {
	return core.NamespaceScheduler + ":fence:" + name
}
