package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/deps"
	"audiorelay/internal/logging"
	"audiorelay/internal/notifications"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/preflight"
)

const pruneInterval = 30 * time.Minute

// Daemon coordinates the HTTP server and cache maintenance and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	components *pipeline.Components
	api        *apiServer
	alerts     *alerter

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool              `json:"running"`
	Address      string            `json:"address,omitempty"`
	StartedAt    time.Time         `json:"started_at,omitzero"`
	LockFilePath string            `json:"lock_file"`
	Strategies   []string          `json:"strategies"`
	Stats        pipeline.Stats    `json:"stats"`
	Dependencies []deps.Status     `json:"dependencies"`
	Cache        *audiocache.Stats `json:"cache,omitempty"`
	StreamCache  string            `json:"stream_cache"`
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithNotifier replaces the ntfy service derived from the config.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.alerts.svc = svc
		}
	}
}

// New constructs a daemon around already-built pipeline components.
func New(cfg *config.Config, components *pipeline.Components, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || components == nil || components.Resolver == nil {
		return nil, errors.New("daemon requires config and pipeline components")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		components: components,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		alerts: newAlerter(notifications.NewService(cfg), logger,
			cfg.Notifications.FallbackStreak, cfg.Extractor.Binary),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, begins serving HTTP, and launches the
// cache prune loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another audiorelay daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	if d.components.Files != nil {
		d.wg.Add(1)
		go d.pruneLoop(d.ctx)
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("audiorelay daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
		logging.Any("strategies", d.components.Resolver.StrategyNames()),
	)
	d.alerts.started(d.api.address(), d.components.Resolver.StrategyNames())
	return nil
}

// Stop stops serving and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a new daemon may refuse to start until the lock file is removed"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("audiorelay daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.alerts.wait()
	if d.components != nil {
		return d.components.Close()
	}
	return nil
}

// Handler exposes the HTTP routes without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Config returns the configuration the daemon was built with.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}

// Address returns the bound listener address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Address:      d.api.address(),
		StartedAt:    d.startedAt,
		LockFilePath: d.lockPath,
		Strategies:   d.components.Resolver.StrategyNames(),
		Stats:        d.components.Resolver.Stats(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
		StreamCache:  d.components.Streams.Backend(),
	}
	if d.components.Files != nil {
		if stats, err := d.components.Files.Stats(ctx); err == nil {
			status.Cache = &stats
		} else {
			d.logger.Debug("cache stats unavailable", logging.Error(err))
		}
	}
	return status
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pruneOnce(ctx)
		}
	}
}

func (d *Daemon) pruneOnce(ctx context.Context) {
	report, err := d.components.Files.Prune(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "cache prune failed", "cache_prune",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache.dir permissions and free space"),
			logging.String(logging.FieldImpact, "cache may exceed its configured size"),
		)
		return
	}
	if len(report.Removed) == 0 {
		return
	}
	d.logger.Info("cache pruned",
		logging.String(logging.FieldEventType, "cache_prune"),
		logging.Int("removed", len(report.Removed)),
		logging.Int64("freed_bytes", report.FreedBytes),
		logging.Int("remaining", report.Remaining),
	)
}
