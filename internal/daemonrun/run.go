package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"audiorelay/internal/config"
	"audiorelay/internal/daemon"
	"audiorelay/internal/logging"
	"audiorelay/internal/logs"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Build customizes strategy construction (tests inject executors here).
	Build []pipeline.BuildOption
	// OnReady is called with the bound listen address once serving.
	OnReady func(addr string)
}

// PIDFileName is written into the state directory while the daemon runs.
const PIDFileName = "audiorelayd.pid"

// Run starts the audiorelay daemon and blocks until cmdCtx is cancelled or
// the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("audiorelay-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update audiorelay.log link: %v\n", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	components, err := pipeline.Build(signalCtx, cfg, logger, opts.Build...)
	if err != nil {
		logging.ErrorWithContext(logger, "build resolution pipeline", "pipeline_build_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache.dir and state_dir permissions"),
		)
		return err
	}

	d, err := daemon.New(cfg, components, logger)
	if err != nil {
		_ = components.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check server.port availability and that no other instance holds the lock"),
		)
		return err
	}
	if opts.OnReady != nil {
		opts.OnReady(d.Address())
	}

	<-signalCtx.Done()
	logger.Info("audiorelay daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := logs.CurrentPath(logDir)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("extractor_mode", cfg.Extractor.Mode),
		logging.Bool("cache_enabled", cfg.Cache.Enabled),
		logging.Any("order", cfg.Pipeline.Order),
	}
	for _, check := range preflight.RunAll(ctx, cfg) {
		attrs = append(attrs, logging.Bool(check.Name, check.Passed))
		if !check.Passed {
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
				logging.String(logging.FieldImpact, "affected strategies will fail over to the next one"),
			)
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
