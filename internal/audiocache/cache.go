package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/spf13/afero"

	"audiorelay/internal/config"
	"audiorelay/internal/fileutil"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/textutil"
)

// IndexFileName is the SQLite index stored in the state directory.
const IndexFileName = "audiocache.db"

const (
	lockDirName    = ".locks"
	partialSuffix  = ".partial"
	lockRetryDelay = 25 * time.Millisecond
	partialMaxAge  = time.Hour
)

// ErrEntryNotFound is returned when a requested file is not in the cache.
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry describes one cached audio file.
type Entry struct {
	VideoID    string        `json:"video_id"`
	FileName   string        `json:"file_name"`
	Title      string        `json:"title"`
	Duration   time.Duration `json:"duration"`
	SizeBytes  int64         `json:"size_bytes"`
	SHA256     string        `json:"sha256"`
	CreatedAt  time.Time     `json:"created_at"`
	AccessedAt time.Time     `json:"accessed_at"`
}

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Cache manages cached audio files and their index.
type Cache struct {
	root         string
	fs           afero.Fs
	scratch      afero.Fs
	idx          *index
	maxBytes     int64
	maxAge       time.Duration
	verify       bool
	minFree      float64
	publicBase   string
	fallbackBase string
	statfs       statfsFunc
	now          func() time.Time
	logger       *slog.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithStatfs overrides filesystem capacity lookups.
func WithStatfs(fn func(path string) (uint64, uint64, error)) Option {
	return func(c *Cache) {
		if fn != nil {
			c.statfs = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Open prepares the cache directory and index. It returns nil when caching is
// disabled; every method is safe to call on a nil Cache.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil, nil
	}
	root := strings.TrimSpace(cfg.Cache.Dir)
	if root == "" {
		return nil, errors.New("audiocache: cache.dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create cache dir: %w", err)
	}
	stateDir := strings.TrimSpace(cfg.Paths.StateDir)
	if stateDir == "" {
		stateDir = root
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create state dir: %w", err)
	}

	c := &Cache{
		root:         root,
		fs:           afero.NewBasePathFs(afero.NewOsFs(), root),
		scratch:      afero.NewOsFs(),
		maxBytes:     int64(cfg.Cache.MaxMiB) * 1024 * 1024,
		maxAge:       time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
		verify:       cfg.Cache.VerifyChecksum,
		minFree:      cfg.Cache.MinFreeRatio,
		publicBase:   strings.TrimRight(cfg.Server.PublicBaseURL, "/"),
		fallbackBase: fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		statfs:       realStatfs,
		now:          time.Now,
		logger:       logging.NewComponentLogger(logger, "audiocache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	idx, err := openIndex(context.Background(), filepath.Join(stateDir, IndexFileName))
	if err != nil {
		return nil, fmt.Errorf("audiocache: %w", err)
	}
	c.idx = idx
	return c, nil
}

// Close releases the index.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.idx.close()
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	if c == nil {
		return ""
	}
	return c.root
}

// Publish moves a freshly downloaded file into the cache and returns the URL
// clients use to fetch it. When a valid entry for id already exists it is kept
// and its URL returned; the first completed write wins.
func (c *Cache) Publish(ctx context.Context, id, path, title string, duration time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("audiocache: cache disabled")
	}
	if !textutil.IsSafeToken(id) {
		return "", fmt.Errorf("audiocache: video id %q is not a safe file name", id)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || !textutil.IsSafeToken(strings.TrimPrefix(ext, ".")) {
		return "", fmt.Errorf("audiocache: %s has no usable extension", path)
	}

	unlock, err := c.lock(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	if existing, err := c.validEntry(ctx, id, true); err != nil {
		return "", err
	} else if entry, ok := existing.Get(); ok {
		c.logger.DebugContext(ctx, "reusing cached file", logging.String("file", entry.FileName))
		return c.URLFor(ctx, entry.FileName), nil
	}

	fileName := id + ext
	partial := "." + id + "-" + uuid.NewString() + partialSuffix
	digest, err := fileutil.CopyVerified(c.scratch, path, c.fs, partial, 0o644)
	if err != nil {
		_ = c.fs.Remove(partial)
		return "", fmt.Errorf("audiocache: copy into cache: %w", err)
	}
	if err := c.fs.Rename(partial, fileName); err != nil {
		_ = c.fs.Remove(partial)
		return "", fmt.Errorf("audiocache: finalize %s: %w", fileName, err)
	}
	info, err := c.fs.Stat(fileName)
	if err != nil {
		return "", fmt.Errorf("audiocache: stat %s: %w", fileName, err)
	}

	now := c.now()
	entry := Entry{
		VideoID:    id,
		FileName:   fileName,
		Title:      title,
		Duration:   duration,
		SizeBytes:  info.Size(),
		SHA256:     digest,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := c.idx.upsert(ctx, entry); err != nil {
		_ = c.fs.Remove(fileName)
		return "", fmt.Errorf("audiocache: index %s: %w", id, err)
	}
	c.logger.InfoContext(ctx, "stored audio file",
		logging.String("file", fileName),
		logging.Int64("size_bytes", entry.SizeBytes),
	)

	if _, err := c.prune(ctx, id); err != nil {
		logging.WarnWithContext(c.logger, "cache prune after publish failed", "cache_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise cache.max_mib or free disk space"),
		)
	}
	return c.URLFor(ctx, fileName), nil
}

// Lookup returns the cached entry for id when it is present, unexpired, and
// intact. Invalid entries are evicted as a side effect.
func (c *Cache) Lookup(ctx context.Context, id string) (mo.Option[Entry], error) {
	if c == nil {
		return mo.None[Entry](), nil
	}
	return c.validEntry(ctx, id, false)
}

// URLFor builds the absolute URL for a cached file name. Precedence:
// server.public_base_url, the inbound request's base URL, then localhost.
func (c *Cache) URLFor(ctx context.Context, fileName string) string {
	base := ""
	if c != nil {
		base = c.publicBase
	}
	if base == "" {
		if fromCtx, ok := services.BaseURLFromContext(ctx); ok {
			base = strings.TrimRight(fromCtx, "/")
		}
	}
	if base == "" && c != nil {
		base = c.fallbackBase
	}
	return base + "/audio/" + url.PathEscape(fileName)
}

// OpenFile opens a cached file for serving. Names that are not indexed
// entries yield ErrEntryNotFound.
func (c *Cache) OpenFile(ctx context.Context, fileName string) (afero.File, Entry, error) {
	if c == nil {
		return nil, Entry{}, ErrEntryNotFound
	}
	if fileName == "" || filepath.Base(fileName) != fileName || strings.HasPrefix(fileName, ".") {
		return nil, Entry{}, ErrEntryNotFound
	}
	entry, err := c.idx.getByFile(ctx, fileName)
	if err != nil {
		return nil, Entry{}, err
	}
	if entry == nil {
		return nil, Entry{}, ErrEntryNotFound
	}
	f, err := c.fs.Open(fileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_ = c.idx.delete(ctx, entry.VideoID)
			return nil, Entry{}, ErrEntryNotFound
		}
		return nil, Entry{}, fmt.Errorf("audiocache: open %s: %w", fileName, err)
	}
	_ = c.idx.touch(ctx, entry.VideoID, c.now())
	return f, *entry, nil
}

// validEntry evicts invalid entries only while holding the id lock. Without it
// the row is re-read under the lock so a concurrent Publish is never undone.
func (c *Cache) validEntry(ctx context.Context, id string, locked bool) (mo.Option[Entry], error) {
	entry, err := c.idx.get(ctx, id)
	if err != nil {
		return mo.None[Entry](), fmt.Errorf("audiocache: %w", err)
	}
	if entry == nil {
		return mo.None[Entry](), nil
	}
	if reason := c.invalidReason(*entry); reason != "" {
		if !locked {
			unlock, err := c.lock(ctx, id)
			if err != nil {
				return mo.None[Entry](), err
			}
			defer unlock()
			return c.validEntry(ctx, id, true)
		}
		c.logger.InfoContext(ctx, "evicting cache entry",
			logging.String("file", entry.FileName),
			logging.String("reason", reason),
		)
		if err := c.removeEntry(ctx, *entry); err != nil {
			return mo.None[Entry](), err
		}
		return mo.None[Entry](), nil
	}
	now := c.now()
	if err := c.idx.touch(ctx, id, now); err != nil {
		return mo.None[Entry](), fmt.Errorf("audiocache: touch %s: %w", id, err)
	}
	entry.AccessedAt = now
	return mo.Some(*entry), nil
}

func (c *Cache) invalidReason(entry Entry) string {
	if c.expired(entry, c.now()) {
		return "expired"
	}
	info, err := c.fs.Stat(entry.FileName)
	if err != nil {
		return "missing"
	}
	if info.Size() != entry.SizeBytes {
		return "size_mismatch"
	}
	if c.verify {
		digest, _, err := fileutil.SHA256File(c.fs, entry.FileName)
		if err != nil || digest != entry.SHA256 {
			return "checksum_mismatch"
		}
	}
	return ""
}

func (c *Cache) expired(entry Entry, now time.Time) bool {
	return c.maxAge > 0 && now.Sub(entry.CreatedAt) > c.maxAge
}

func (c *Cache) removeEntry(ctx context.Context, entry Entry) error {
	if err := c.fs.Remove(entry.FileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audiocache: remove %s: %w", entry.FileName, err)
	}
	if err := c.idx.delete(ctx, entry.VideoID); err != nil {
		return fmt.Errorf("audiocache: unindex %s: %w", entry.VideoID, err)
	}
	return nil
}

// lock takes the per-id file lock, waiting until ctx is done.
func (c *Cache) lock(ctx context.Context, id string) (func(), error) {
	dir := filepath.Join(c.root, lockDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, id+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("audiocache: lock %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("audiocache: lock %s: not acquired", id)
	}
	return func() { _ = fl.Unlock() }, nil
}
