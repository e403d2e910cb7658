// Package cache is the read-through cache in front of the query API.
// A cached value is never older than the TTL. The batch also invalidates a
// user's entries after changing them, which only reaches the API when both
// share the cache: the same process, or one redis backend. The memory
// backend of a separate `streakd serve` stays stale for up to the TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/metrics"
)

// Kinds of cached per-user values.
const (
	KindStreak = "streak"
	KindBadges = "badges"
)

// Cache is a byte-valued key store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key builds the cache key for one user's value of kind.
func Key(kind string, user domain.UserID) string {
	return fmt.Sprintf("streakd:%s:%s", kind, user)
}

// ReadThrough returns the cached value for (kind, user), or calls load and
// caches its result. Cache failures degrade to a plain load.
func ReadThrough[T any](ctx context.Context, c Cache, kind string, user domain.UserID, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	key := Key(kind, user)

	if raw, ok, err := c.Get(ctx, key); err == nil && ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
			return v, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		_ = c.Set(ctx, key, raw, ttl)
	}
	return v, nil
}

// Invalidate drops every cached value for user.
func Invalidate(ctx context.Context, c Cache, user domain.UserID) error {
	return c.Delete(ctx, Key(KindStreak, user), Key(KindBadges, user))
}

// ─── In-Memory ──────────────────────────────────────────────────────────────

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Cache for single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Cache. A non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Config selects and tunes the cache backend.
type Config struct {
	Backend       string // memory, redis
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the backend named in cfg.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
