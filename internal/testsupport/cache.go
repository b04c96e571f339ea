package testsupport

import (
	"testing"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
)

// MustOpenCache opens an audiocache.Cache for tests and registers cleanup.
// The config's cache is enabled if it was not already.
func MustOpenCache(t testing.TB, cfg *config.Config, opts ...audiocache.Option) *audiocache.Cache {
	t.Helper()

	cfg.Cache.Enabled = true
	cache, err := audiocache.Open(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("audiocache.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache
}
