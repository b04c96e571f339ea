package audiocache_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/services"
	"audiorelay/internal/testsupport"
)

func roomyStatfs(string) (uint64, uint64, error) { return 1000, 900, nil }

func newCache(t *testing.T, mutate func(*config.Config), opts ...audiocache.Option) (*audiocache.Cache, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithCache(true))
	cfg.Server.Port = 3001
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]audiocache.Option{audiocache.WithStatfs(roomyStatfs)}, opts...)
	return testsupport.MustOpenCache(t, cfg, opts...), cfg
}

func scratchFile(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testsupport.WriteFile(t, path, size)
	return path
}

func TestOpenReturnsNilWhenDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCache(false))
	cache, err := audiocache.Open(cfg, nil)
	if err != nil || cache != nil {
		t.Fatalf("expected nil cache, got %v, %v", cache, err)
	}
	if entry, err := cache.Lookup(context.Background(), "abc"); err != nil || entry.IsPresent() {
		t.Fatalf("nil cache lookup should miss, got %v, %v", entry, err)
	}
}

func TestPublishStoresAndLookupHits(t *testing.T) {
	cache, cfg := newCache(t, nil)
	ctx := services.WithBaseURL(context.Background(), "http://relay.test:8080")

	url, err := cache.Publish(ctx, "dQw4w9WgXcQ", scratchFile(t, "dl.mp3", 4096), "Song", 3*time.Minute)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if url != "http://relay.test:8080/audio/dQw4w9WgXcQ.mp3" {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, "dQw4w9WgXcQ.mp3")); err != nil {
		t.Fatalf("cached file missing: %v", err)
	}

	entry, err := cache.Lookup(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	got, ok := entry.Get()
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Title != "Song" || got.Duration != 3*time.Minute || got.SizeBytes != 4096 || len(got.SHA256) != 64 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestURLForPrefersPublicBase(t *testing.T) {
	cache, _ := newCache(t, func(cfg *config.Config) {
		cfg.Server.PublicBaseURL = "https://audio.example.com/"
	})
	ctx := services.WithBaseURL(context.Background(), "http://ignored:1")
	if got := cache.URLFor(ctx, "a b.mp3"); got != "https://audio.example.com/audio/a%20b.mp3" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestURLForFallsBackToLocalhost(t *testing.T) {
	cache, _ := newCache(t, nil)
	if got := cache.URLFor(context.Background(), "x.mp3"); got != "http://localhost:3001/audio/x.mp3" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestPublishFirstWriterWins(t *testing.T) {
	cache, _ := newCache(t, nil)
	ctx := context.Background()

	if _, err := cache.Publish(ctx, "vid00000001", scratchFile(t, "a.mp3", 100), "first", 0); err != nil {
		t.Fatalf("first Publish returned error: %v", err)
	}
	if _, err := cache.Publish(ctx, "vid00000001", scratchFile(t, "b.m4a", 200), "second", 0); err != nil {
		t.Fatalf("second Publish returned error: %v", err)
	}
	entry, err := cache.Lookup(ctx, "vid00000001")
	if err != nil {
		t.Fatal(err)
	}
	got := entry.MustGet()
	if got.Title != "first" || got.FileName != "vid00000001.mp3" || got.SizeBytes != 100 {
		t.Fatalf("expected the first write to win, got %+v", got)
	}
}

func TestConcurrentPublishesOfSameIDProduceOneEntry(t *testing.T) {
	cache, cfg := newCache(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		src := scratchFile(t, "dl.webm", 2048)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Publish(ctx, "samevideo01", src, "t", 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Publish returned error: %v", err)
	}

	entries, err := cache.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	files, _ := filepath.Glob(filepath.Join(cfg.Cache.Dir, "*.partial"))
	hidden, _ := filepath.Glob(filepath.Join(cfg.Cache.Dir, ".*.partial"))
	if len(files)+len(hidden) != 0 {
		t.Fatalf("partial files left behind: %v %v", files, hidden)
	}
}

func TestLookupEvictsExpiredEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache, cfg := newCache(t, func(cfg *config.Config) { cfg.Cache.MaxAgeHours = 1 }, audiocache.WithClock(clock))
	ctx := context.Background()

	if _, err := cache.Publish(ctx, "oldvideo001", scratchFile(t, "a.mp3", 10), "", 0); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)

	entry, err := cache.Lookup(ctx, "oldvideo001")
	if err != nil {
		t.Fatal(err)
	}
	if entry.IsPresent() {
		t.Fatal("expected expired entry to miss")
	}
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, "oldvideo001.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected expired file removed, stat err=%v", err)
	}
}

func TestLookupEvictionWaitsForPublishLock(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var nowNanos atomic.Int64
	nowNanos.Store(start.UnixNano())
	clock := func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() }
	cache, cfg := newCache(t, func(cfg *config.Config) { cfg.Cache.MaxAgeHours = 1 }, audiocache.WithClock(clock))
	ctx := context.Background()

	if _, err := cache.Publish(ctx, "racevideo01", scratchFile(t, "a.mp3", 10), "Song", 0); err != nil {
		t.Fatal(err)
	}
	nowNanos.Store(start.Add(2 * time.Hour).UnixNano())

	held := flock.New(filepath.Join(cfg.Cache.Dir, ".locks", "racevideo01.lock"))
	if err := held.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}

	type lookupResult struct {
		found bool
		err   error
	}
	done := make(chan lookupResult, 1)
	go func() {
		entry, err := cache.Lookup(ctx, "racevideo01")
		done <- lookupResult{found: entry.IsPresent(), err: err}
	}()

	select {
	case res := <-done:
		t.Fatalf("lookup evicted without the id lock: %+v", res)
	case <-time.After(150 * time.Millisecond):
	}

	// The holder refreshes the entry before releasing, as Publish would.
	nowNanos.Store(start.Add(30 * time.Minute).UnixNano())
	if err := held.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil || !res.found {
			t.Fatalf("expected refreshed entry after lock release, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lookup did not finish after lock release")
	}
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, "racevideo01.mp3")); err != nil {
		t.Fatalf("expected cached file kept, stat err=%v", err)
	}
}

func TestLookupDetectsCorruption(t *testing.T) {
	cache, cfg := newCache(t, func(cfg *config.Config) { cfg.Cache.VerifyChecksum = true })
	ctx := context.Background()

	if _, err := cache.Publish(ctx, "corrupt0001", scratchFile(t, "a.mp3", 64), "", 0); err != nil {
		t.Fatal(err)
	}
	// Same size, different content.
	if err := os.WriteFile(filepath.Join(cfg.Cache.Dir, "corrupt0001.mp3"), []byte(strings.Repeat("z", 64)), 0o644); err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Lookup(ctx, "corrupt0001")
	if err != nil {
		t.Fatal(err)
	}
	if entry.IsPresent() {
		t.Fatal("expected corrupted entry to miss")
	}
}

func TestLookupDropsEntryWhenFileMissing(t *testing.T) {
	cache, cfg := newCache(t, nil)
	ctx := context.Background()
	if _, err := cache.Publish(ctx, "gonevideo01", scratchFile(t, "a.mp3", 32), "", 0); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(cfg.Cache.Dir, "gonevideo01.mp3")); err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Lookup(ctx, "gonevideo01")
	if err != nil || entry.IsPresent() {
		t.Fatalf("expected miss, got %v, %v", entry, err)
	}
	entries, _ := cache.List(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected index cleaned, got %d entries", len(entries))
	}
}

func TestPruneEvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache, _ := newCache(t, func(cfg *config.Config) { cfg.Cache.MaxMiB = 1 }, audiocache.WithClock(clock))
	ctx := context.Background()

	for _, id := range []string{"video000001", "video000002", "video000003"} {
		now = now.Add(time.Minute)
		if _, err := cache.Publish(ctx, id, scratchFile(t, "a.mp3", 400*1024), "", 0); err != nil {
			t.Fatalf("Publish %s returned error: %v", id, err)
		}
	}

	entries, err := cache.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].VideoID != "video000003" || entries[1].VideoID != "video000002" {
		t.Fatalf("expected oldest entry pruned, got %+v", entries)
	}
}

func TestPruneHonorsFreeSpaceFloor(t *testing.T) {
	var free uint64 = 50
	statfs := func(string) (uint64, uint64, error) { return 1000, free, nil }
	cache, _ := newCache(t, func(cfg *config.Config) { cfg.Cache.MinFreeRatio = 0.10 }, audiocache.WithStatfs(statfs))
	ctx := context.Background()

	free = 900
	if _, err := cache.Publish(ctx, "video000001", scratchFile(t, "a.mp3", 10), "", 0); err != nil {
		t.Fatal(err)
	}
	free = 50
	report, err := cache.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if len(report.Removed) != 1 || report.Remaining != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestPublishKeepsActiveEntryWhenOverLimit(t *testing.T) {
	cache, _ := newCache(t, func(cfg *config.Config) { cfg.Cache.MaxMiB = 1 })
	ctx := context.Background()
	url, err := cache.Publish(ctx, "bigvideo001", scratchFile(t, "a.mp3", 2*1024*1024), "", 0)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if url == "" {
		t.Fatal("expected url")
	}
	if entry, _ := cache.Lookup(ctx, "bigvideo001"); !entry.IsPresent() {
		t.Fatal("active entry should survive its own prune")
	}
}

func TestOpenFileServesIndexedEntries(t *testing.T) {
	cache, _ := newCache(t, nil)
	ctx := context.Background()
	if _, err := cache.Publish(ctx, "servevid001", scratchFile(t, "a.opus", 77), "", 0); err != nil {
		t.Fatal(err)
	}

	f, entry, err := cache.OpenFile(ctx, "servevid001.opus")
	if err != nil {
		t.Fatalf("OpenFile returned error: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 77 || entry.VideoID != "servevid001" {
		t.Fatalf("unexpected file: %d bytes, entry %+v", len(data), entry)
	}

	for _, name := range []string{"../etc/passwd", ".locks", "unknown.mp3", ""} {
		if _, _, err := cache.OpenFile(ctx, name); !errors.Is(err, audiocache.ErrEntryNotFound) {
			t.Fatalf("OpenFile(%q) expected ErrEntryNotFound, got %v", name, err)
		}
	}
}

func TestRemoveAndClear(t *testing.T) {
	cache, _ := newCache(t, nil)
	ctx := context.Background()
	for _, id := range []string{"video000001", "video000002"} {
		if _, err := cache.Publish(ctx, id, scratchFile(t, "a.mp3", 8), "", 0); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := cache.Remove(ctx, "video000001")
	if err != nil || !removed {
		t.Fatalf("Remove returned %v, %v", removed, err)
	}
	if removed, _ := cache.Remove(ctx, "video000001"); removed {
		t.Fatal("second Remove should report nothing removed")
	}
	count, err := cache.Clear(ctx)
	if err != nil || count != 1 {
		t.Fatalf("Clear returned %d, %v", count, err)
	}
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 || stats.TotalBytes != 0 || stats.FreeRatio != 0.9 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPublishRejectsUnsafeID(t *testing.T) {
	cache, _ := newCache(t, nil)
	if _, err := cache.Publish(context.Background(), "../escape", scratchFile(t, "a.mp3", 1), "", 0); err == nil {
		t.Fatal("expected error for unsafe id")
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCache(true))
	first := testsupport.MustOpenCache(t, cfg, audiocache.WithStatfs(roomyStatfs))
	if _, err := first.Publish(context.Background(), "persist0001", scratchFile(t, "a.mp3", 5), "kept", 0); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	second := testsupport.MustOpenCache(t, cfg, audiocache.WithStatfs(roomyStatfs))
	entry, err := second.Lookup(context.Background(), "persist0001")
	if err != nil || entry.OrEmpty().Title != "kept" {
		t.Fatalf("expected persisted entry, got %v, %v", entry, err)
	}
}
