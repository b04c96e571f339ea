// Package daemonctl launches, stops, and inspects a running audiorelay daemon
// from the CLI. The daemon is found through its lock and pid files in the
// state directory and queried over its own HTTP health endpoint.
package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/daemon"
	"audiorelay/internal/daemonrun"
	"audiorelay/internal/deps"
	"audiorelay/internal/preflight"
)

// ErrDaemonNotRunning indicates no daemon holds the instance lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State   StartState
	PID     int
	Address string
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	Graceful   bool
	ForcedKill bool
	PID        int
}

// Launch starts a detached "audiorelay serve" process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches the daemon unless one already holds the lock, then
// waits for its health endpoint to answer.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid, Address: ProbeAddress(cfg)}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if _, err := WaitForHealthy(ctx, cfg, waitTimeout); err != nil {
		return StartResult{}, err
	}
	_, pid, _ = ProcessInfo(cfg)
	return StartResult{State: StartStateStarted, PID: pid, Address: ProbeAddress(cfg)}, nil
}

// WaitForHealthy polls the health endpoint until it answers or timeout elapses.
func WaitForHealthy(ctx context.Context, cfg *config.Config, timeout time.Duration) (*daemon.HealthResponse, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		health, err := FetchHealth(ctx, cfg)
		if err == nil {
			return health, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// ProbeAddress returns the loopback-reachable address of the configured
// listener. Wildcard binds are probed on 127.0.0.1.
func ProbeAddress(cfg *config.Config) string {
	host := strings.TrimSpace(cfg.Server.Bind)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// FetchHealth queries the daemon's health endpoint.
func FetchHealth(ctx context.Context, cfg *config.Config) (*daemon.HealthResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+ProbeAddress(cfg)+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	var health daemon.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

// ProcessInfo reports whether a daemon holds the instance lock and its pid
// when the pid file is readable.
func ProcessInfo(cfg *config.Config) (bool, int, error) {
	if cfg == nil {
		return false, 0, errors.New("configuration not available")
	}
	lockPath := cfg.LockPath()
	if _, err := os.Stat(lockPath); errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	lock := flock.New(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return false, 0, fmt.Errorf("probe daemon lock: %w", err)
	}
	if acquired {
		_ = lock.Unlock()
		return false, 0, nil
	}
	pid, _ := readPID(pidPath(cfg))
	return true, pid, nil
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, daemonrun.PIDFileName)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", path)
	}
	return pid, nil
}

// StopAndTerminate sends SIGTERM to the daemon and SIGKILL if it still holds
// the lock after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath(cfg))
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	result := StopResult{PID: pid}
	if waitForRelease(cfg, gracePeriod) {
		result.Graceful = true
		return result, nil
	}
	if err := proc.Kill(); err != nil {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(pidPath(cfg))
	result.ForcedKill = true
	return result, nil
}

func waitForRelease(cfg *config.Config, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if running, _, err := ProcessInfo(cfg); err == nil && !running {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

// StatusLine is one rendered row of status output.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int
	Available       int
	MissingRequired int
	MissingOptional int
	Severity        string
	Detail          string
}

// StatusSnapshot combines live daemon state with offline checks.
type StatusSnapshot struct {
	Running           bool
	PID               int
	Address           string
	Health            *daemon.HealthResponse
	Dependencies      []deps.Status
	DependencySummary DependencySummary
	SystemChecks      []StatusLine
	Cache             *audiocache.Stats
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks
// for dependencies and cache usage when the daemon is not running.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return nil, err
	}
	snap := &StatusSnapshot{Running: running, PID: pid, Address: ProbeAddress(cfg)}

	if running {
		if health, healthErr := FetchHealth(ctx, cfg); healthErr == nil {
			snap.Health = health
			snap.Dependencies = health.Dependencies
			snap.Cache = health.Cache
		}
	}
	if snap.Dependencies == nil {
		snap.Dependencies = preflight.CheckSystemDeps(cfg)
	}
	if snap.Cache == nil && cfg.Cache.Enabled {
		snap.Cache = offlineCacheStats(ctx, cfg)
	}

	snap.DependencySummary = BuildDependencySummary(snap.Dependencies)
	snap.SystemChecks = BuildSystemChecks(ctx, cfg, snap)
	return snap, nil
}

func offlineCacheStats(ctx context.Context, cfg *config.Config) *audiocache.Stats {
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cache, err := audiocache.Open(cfg, nil)
	if err != nil || cache == nil {
		return nil
	}
	defer cache.Close()
	stats, err := cache.Stats(queryCtx)
	if err != nil {
		return nil
	}
	return &stats
}

// BuildSystemChecks resolves status lines that combine runtime state and
// config checks.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, snap *StatusSnapshot) []StatusLine {
	lines := make([]StatusLine, 0, 8)
	switch {
	case snap.Running && snap.Health != nil:
		lines = append(lines, StatusLine{Label: "audiorelay", Severity: "ok", Detail: fmt.Sprintf("Running on %s (pid %d, up %s)", snap.Address, snap.PID, snap.Health.Uptime)})
	case snap.Running:
		lines = append(lines, StatusLine{Label: "audiorelay", Severity: "warn", Detail: fmt.Sprintf("Lock held (pid %d) but %s is not answering", snap.PID, snap.Address)})
	default:
		lines = append(lines, StatusLine{Label: "audiorelay", Severity: "warn", Detail: "Not running (run `audiorelay start`)"})
	}

	lines = append(lines, StatusLine{Label: "Strategies", Severity: "info", Detail: strings.Join(cfg.Pipeline.Order, " → ")})
	lines = append(lines, StatusLine{Label: "Extractor mode", Severity: "info", Detail: cfg.Extractor.Mode})

	for _, result := range preflight.RunAll(ctx, cfg) {
		severity := "ok"
		if !result.Passed {
			severity = "warn"
		}
		lines = append(lines, StatusLine{Label: result.Name, Severity: severity, Detail: result.Detail})
	}

	if snap.Health != nil {
		lines = append(lines, StatusLine{Label: "Stream cache", Severity: "info", Detail: snap.Health.StreamCache})
		stats := snap.Health.Stats
		lines = append(lines, StatusLine{Label: "Resolutions", Severity: "info", Detail: fmt.Sprintf("%d total, %d cache hits, %d fallbacks, %d shared", stats.Resolutions, stats.CacheHits, stats.Fallbacks, stats.Shared)})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(statuses []deps.Status) DependencySummary {
	if len(statuses) == 0 {
		return DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range statuses {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(statuses) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(statuses), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(statuses))
	}

	return DependencySummary{
		Total:           len(statuses),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}
