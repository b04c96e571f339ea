// Package streamcache memoizes resolved direct-stream URLs for a short TTL so
// repeated requests for the same video skip extraction. Redis backs the cache
// when configured and reachable; otherwise an in-process map is used.
package streamcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/mo"

	"audiorelay/internal/config"
	"audiorelay/internal/logging"
)

const pingTimeout = 2 * time.Second

// Record is a memoized resolution.
type Record struct {
	AudioURL   string    `json:"audio_url"`
	Strategy   string    `json:"strategy"`
	Title      string    `json:"title,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
}

// Duration returns the recorded duration when known.
func (r Record) Duration() mo.Option[time.Duration] {
	if r.DurationMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(r.DurationMS) * time.Millisecond)
}

type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
	close() error
	name() string
}

// Cache stores Records keyed by video id.
type Cache struct {
	backend backend
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
}

// New builds the cache from configuration. It returns nil when disabled. An
// unreachable Redis degrades to the in-memory backend with a warning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Cache {
	if cfg == nil || !cfg.StreamCache.Enabled {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "streamcache")
	ttl := time.Duration(cfg.StreamCache.TTLMinutes) * time.Minute
	prefix := cfg.StreamCache.KeyPrefix

	addr := strings.TrimSpace(cfg.StreamCache.RedisAddr)
	if addr == "" {
		return newCache(newMemoryBackend(time.Now), ttl, prefix, logger)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.StreamCache.RedisPassword,
		DB:       cfg.StreamCache.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logging.WarnWithContext(logger, "redis unavailable; using in-memory stream cache", "redis_unavailable",
			logging.String("redis_addr", addr),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check stream_cache.redis_addr or start redis"),
			logging.String(logging.FieldImpact, "resolved urls are not shared across relay instances"),
		)
		return newCache(newMemoryBackend(time.Now), ttl, prefix, logger)
	}
	logger.Info("redis stream cache connected", logging.String("redis_addr", addr))
	return newCache(&redisBackend{client: client}, ttl, prefix, logger)
}

// NewMemory returns an in-memory cache; now may be nil.
func NewMemory(ttl time.Duration, prefix string, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return newCache(newMemoryBackend(now), ttl, prefix, nil)
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *Cache {
	return newCache(&redisBackend{client: client}, ttl, prefix, logging.NewComponentLogger(logger, "streamcache"))
}

func newCache(b backend, ttl time.Duration, prefix string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{backend: b, ttl: ttl, prefix: prefix, logger: logger}
}

// Backend names the active backend ("redis" or "memory"), or "disabled".
func (c *Cache) Backend() string {
	if c == nil {
		return "disabled"
	}
	return c.backend.name()
}

// Get returns the record for id. Backend errors are logged and read as misses.
func (c *Cache) Get(ctx context.Context, id string) mo.Option[Record] {
	if c == nil {
		return mo.None[Record]()
	}
	raw, ok, err := c.backend.get(ctx, c.key(id))
	if err != nil {
		logging.WithContext(ctx, c.logger).Warn("stream cache read failed", logging.Error(err))
		return mo.None[Record]()
	}
	if !ok {
		return mo.None[Record]()
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.AudioURL == "" {
		_ = c.backend.del(ctx, c.key(id))
		return mo.None[Record]()
	}
	return mo.Some(rec)
}

// Put stores rec for id. Backend errors are logged and dropped.
func (c *Cache) Put(ctx context.Context, id string, rec Record) {
	if c == nil || rec.AudioURL == "" {
		return
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.backend.set(ctx, c.key(id), raw, c.ttl); err != nil {
		logging.WithContext(ctx, c.logger).Warn("stream cache write failed", logging.Error(err))
	}
}

// Delete drops the record for id.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if c == nil {
		return nil
	}
	return c.backend.del(ctx, c.key(id))
}

// Close releases backend resources.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.close()
}

func (c *Cache) key(id string) string {
	return c.prefix + id
}
