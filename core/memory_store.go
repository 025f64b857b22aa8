package core

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It is safe for concurrent use and honors TTLs lazily on read.
// Production deployments use RedisStore; MemoryStore backs tests and
// single-process development.
type MemoryStore struct {
	mu     sync.RWMutex
	store  map[string]memoryEntry
	zsets  map[string]map[string]float64
	sets   map[string]map[string]struct{}
	logger Logger
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		store:  make(map[string]memoryEntry),
		zsets:  make(map[string]map[string]float64),
		sets:   make(map[string]map[string]struct{}),
		logger: &NoOpLogger{},
	}
}

// SetLogger configures the logger for this store
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// Get retrieves a value, or "" if the key is absent or expired
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists || entry.expired() {
		return "", nil
	}
	return entry.value, nil
}

// Set stores a value with optional TTL
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return nil
}

// SetNX stores a value only if the key is absent
func (m *MemoryStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.store[key]; exists && !entry.expired() {
		return false, nil
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return true, nil
}

// Delete removes a value and reports whether it existed
func (m *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, existed := m.store[key]
	delete(m.store, key)
	if existed && entry.expired() {
		existed = false
	}

	if _, zExists := m.zsets[key]; zExists {
		delete(m.zsets, key)
		existed = true
	}
	if _, sExists := m.sets[key]; sExists {
		delete(m.sets, key)
		existed = true
	}
	return existed, nil
}

// Exists checks if a key exists
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if exists && !entry.expired() {
		return true, nil
	}
	if _, ok := m.zsets[key]; ok {
		return true, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	return false, nil
}

// Incr atomically increments a counter, creating it at zero
func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if entry, exists := m.store[key]; exists && !entry.expired() {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, NewPipelineError("store.Incr", "INVALID_INPUT", ErrInvalidInput)
		}
		current = parsed
	}
	current++

	entry := m.store[key]
	entry.value = strconv.FormatInt(current, 10)
	m.store[key] = entry
	return current, nil
}

// Expire sets a TTL on an existing key
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.store[key]
	if !exists || entry.expired() {
		return nil
	}
	entry.expiresAt = time.Now().Add(ttl)
	m.store[key] = entry
	return nil
}

// Keys returns keys matching a glob pattern
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, entry := range m.store {
		if entry.expired() {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range m.zsets {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// --- Sorted-set operations ---

// ZAdd adds a member with a score
func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zset, exists := m.zsets[key]
	if !exists {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (m *MemoryStore) sortedMembers(key string) []string {
	zset := m.zsets[key]
	members := make([]string, 0, len(zset))
	for member := range zset {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := zset[members[i]], zset[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})
	return members
}

func sliceRange(members []string, start, stop int64) []string {
	n := int64(len(members))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return members[start : stop+1]
}

// ZRange returns members ordered by ascending score
func (m *MemoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sliceRange(m.sortedMembers(key), start, stop), nil
}

// ZRevRange returns members ordered by descending score
func (m *MemoryStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.sortedMembers(key)
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	return sliceRange(members, start, stop), nil
}

// ZRemRangeByScore removes members with scores in [min, max]
func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zset := m.zsets[key]
	for member, score := range zset {
		if score >= min && score <= max {
			delete(zset, member)
		}
	}
	return nil
}

// --- Set operations ---

// SAdd adds members to a set
func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, exists := m.sets[key]
	if !exists {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// SRem removes members from a set
func (m *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[key]
	for _, member := range members {
		delete(set, member)
	}
	return nil
}

// SMembers returns all members of a set
func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// SCard returns the cardinality of a set
func (m *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.sets[key])), nil
}
