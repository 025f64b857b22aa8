// This file implements the Redis-backed Store with key namespacing and
// connection management.
//
// Namespacing:
// All keys are automatically prefixed with the configured namespace so that
// multiple components (shield, scheduler, rate limiter, audit) can share one
// Redis instance without collisions:
//   - Shield:     "wardline:shield:*"
//   - Scheduler:  "wardline:sched:*"
//   - Rate limit: "wardline:ratelimit:*"
//
// Connection management:
//   - Automatic connection pooling via go-redis
//   - Connection verified with Ping at construction
//   - Graceful shutdown via Close
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    Logger // Optional logger
}

// RedisStoreOptions configures the Redis store
type RedisStoreOptions struct {
	RedisURL  string
	Namespace string // Key namespace for organization
	Logger    Logger // Optional logger
}

// NewRedisStore creates a new Redis-backed store with the specified options
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.RedisURL == "" {
		if opts.Logger != nil {
			opts.Logger.Error("Failed to initialize Redis store", map[string]interface{}{
				"error":      "Redis URL is required",
				"error_type": "ErrConfiguration",
			})
		}
		return nil, fmt.Errorf("redis URL is required: %w", ErrConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("Failed to parse Redis URL", map[string]interface{}{
				"error":      err,
				"error_type": fmt.Sprintf("%T", err),
				"redis_url":  opts.RedisURL,
			})
		}
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrConfiguration)
	}

	client := redis.NewClient(redisOpt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("Failed to connect to Redis", map[string]interface{}{
				"error":      err,
				"error_type": fmt.Sprintf("%T", err),
				"namespace":  opts.Namespace,
			})
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", ErrNetwork)
	}

	rs := &RedisStore{
		client:    client,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}

	if rs.logger != nil {
		rs.logger.Info("Redis store connected", map[string]interface{}{
			"namespace": opts.Namespace,
		})
	}

	return rs, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests (miniredis)
// and by callers that manage the client lifecycle themselves.
func NewRedisStoreFromClient(client *redis.Client, namespace string, logger Logger) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, logger: logger}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	if r.logger != nil {
		r.logger.Info("Closing Redis store connection", map[string]interface{}{
			"namespace": r.namespace,
		})
	}
	return r.client.Close()
}

// HealthCheck verifies Redis connectivity
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// formatKey formats a key with the namespace
func (r *RedisStore) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// stripKey removes the namespace prefix from a key returned by Redis
func (r *RedisStore) stripKey(key string) string {
	if r.namespace != "" {
		return strings.TrimPrefix(key, r.namespace+":")
	}
	return key
}

// Get retrieves a value, or "" if the key does not exist
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a value with optional TTL
func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// SetNX stores a value only if the key is absent
func (r *RedisStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.formatKey(key), value, ttl).Result()
}

// Delete removes a key and reports whether it existed
func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.formatKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %q: %w", key, err)
	}
	return n > 0, nil
}

// Exists checks key presence
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Incr atomically increments a counter
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.formatKey(key)).Result()
}

// Expire sets a TTL on a key
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, r.formatKey(key), ttl).Err()
}

// Keys returns keys matching a glob pattern, with the namespace stripped
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, r.formatKey(pattern)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys %q: %w", pattern, err)
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.stripKey(k)
	}
	return out, nil
}

// --- Sorted-set operations ---

// ZAdd adds a member with a score
func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, r.formatKey(key), redis.Z{Score: score, Member: member}).Err()
}

// ZRange returns members ordered by ascending score
func (r *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRange(ctx, r.formatKey(key), start, stop).Result()
}

// ZRevRange returns members ordered by descending score
func (r *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, r.formatKey(key), start, stop).Result()
}

// ZRemRangeByScore removes members with scores in [min, max]
func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return r.client.ZRemRangeByScore(ctx, r.formatKey(key),
		fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
}

// --- Set operations ---

// SAdd adds members to a set
func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SAdd(ctx, r.formatKey(key), args...).Err()
}

// SRem removes members from a set
func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SRem(ctx, r.formatKey(key), args...).Err()
}

// SMembers returns all members of a set
func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, r.formatKey(key)).Result()
}

// SCard returns the cardinality of a set
func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, r.formatKey(key)).Result()
}
