// Package core provides the shared abstractions for the wardline pipeline:
// the key/value store interface backing all distributed state, the logging
// and telemetry interfaces, the error taxonomy, and configuration loading.
//
// The Store interface is deliberately narrow. Crisis sessions, scheduler
// locks, rate-limit counters, audit indexes, and consent records are all
// expressed in terms of it, so any backing store with atomic Incr and SetNX
// satisfies the whole system. Redis and the in-memory map both qualify.
package core

import (
	"context"
	"time"
)

// Store is the key/value interface consumed by every stateful component.
// All operations take a context and return explicit errors. A missing key
// is not an error: Get returns ("", nil) and Exists returns (false, nil).
type Store interface {
	// Get retrieves a value, or "" if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a value with an optional expiration. ttl <= 0 means no TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// SetNX writes the value only if the key is absent. Returns whether the
	// write happened. This is the primitive behind crisis-session creation
	// and scheduler lock acquisition.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Delete removes a key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks key presence.
	Exists(ctx context.Context, key string) (bool, error)

	// Incr atomically increments a counter, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Sorted-set operations, used for timestamp-scored indexes.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// Set operations, used for membership tracking.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
}

// --- Standard key namespaces ---
//
// All components prefix their keys so a single store (or Redis DB) can be
// shared without collisions.
const (
	// NamespaceShield holds crisis sessions and warn-state markers
	NamespaceShield = "wardline:shield"

	// NamespaceAck holds one-time acknowledgment tokens
	NamespaceAck = "wardline:ack"

	// NamespaceRateLimit holds token buckets and window counters
	NamespaceRateLimit = "wardline:ratelimit"

	// NamespaceScheduler holds job locks, fencing counters and the dead-letter queue
	NamespaceScheduler = "wardline:sched"

	// NamespaceAudit holds audit events and their indexes
	NamespaceAudit = "wardline:audit"

	// NamespaceConsent holds consent records and per-user snapshots
	NamespaceConsent = "wardline:consent"

	// NamespaceRetention holds retention bookkeeping and archives
	NamespaceRetention = "wardline:retention"

	// NamespaceSpark holds per-user spark frequency counters
	NamespaceSpark = "wardline:spark"

	// NamespaceSession holds conversation session state
	NamespaceSession = "wardline:session"
)
