package streamcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) close() error { return r.client.Close() }

func (r *redisBackend) name() string { return "redis" }

// sweepThreshold bounds how many writes pass between expired-entry sweeps.
const sweepThreshold = 256

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type memoryBackend struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	now    func() time.Time
	writes int
}

func newMemoryBackend(now func() time.Time) *memoryBackend {
	return &memoryBackend{items: make(map[string]memoryItem), now: now}
}

func (m *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *memoryBackend) set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
	m.writes++
	if m.writes >= sweepThreshold {
		m.writes = 0
		now := m.now()
		for k, item := range m.items {
			if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
				delete(m.items, k)
			}
		}
	}
	return nil
}

func (m *memoryBackend) del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryBackend) close() error { return nil }

func (m *memoryBackend) name() string { return "memory" }
