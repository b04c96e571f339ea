package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directories used by the daemon outside the audio cache.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Server contains HTTP listener configuration.
type Server struct {
	Bind                   string  `toml:"bind"`
	Port                   int     `toml:"port"`
	PublicBaseURL          string  `toml:"public_base_url"`
	URLField               string  `toml:"url_field"`
	AllowedOrigin          string  `toml:"allowed_origin"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	Burst                  int     `toml:"burst"`
	HealthMessage          string  `toml:"health_message"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds"`
}

// Pipeline contains strategy ordering and fallback configuration.
type Pipeline struct {
	Order                 []string       `toml:"order"`
	AttemptTimeoutSeconds int            `toml:"attempt_timeout_seconds"`
	StrategyTimeouts      map[string]int `toml:"strategy_timeouts"`
	FallbackURL           string         `toml:"fallback_url"`
	Singleflight          bool           `toml:"singleflight"`
}

// ClientProfile describes one yt-dlp invocation variant. Each profile spoofs a
// different player client so a block on one identity does not end the attempt.
type ClientProfile struct {
	Name         string   `toml:"name"`
	Format       string   `toml:"format"`
	PlayerClient string   `toml:"player_client"`
	UserAgent    string   `toml:"user_agent"`
	ExtraArgs    []string `toml:"extra_args"`
}

// Extractor contains configuration for the yt-dlp subprocess strategy.
type Extractor struct {
	Enabled           bool            `toml:"enabled"`
	Binary            string          `toml:"binary"`
	FFmpegBinary      string          `toml:"ffmpeg_binary"`
	Mode              string          `toml:"mode"`
	AudioFormat       string          `toml:"audio_format"`
	TimeoutSeconds    int             `toml:"timeout_seconds"`
	MaxConcurrent     int             `toml:"max_concurrent"`
	FatalLaunchErrors bool            `toml:"fatal_launch_errors"`
	Profiles          []ClientProfile `toml:"profiles"`
}

// NativeClient contains configuration for the in-process player API strategy.
type NativeClient struct {
	Enabled        bool `toml:"enabled"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
}

// RemoteService describes one third-party conversion endpoint.
type RemoteService struct {
	Name           string            `toml:"name"`
	Enabled        bool              `toml:"enabled"`
	Endpoint       string            `toml:"endpoint"`
	Mapper         string            `toml:"mapper"`
	Headers        map[string]string `toml:"headers"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// Ready reports whether every configured header carries a value. Services that
// need credentials are skipped until those are supplied.
func (s RemoteService) Ready() bool {
	if !s.Enabled || strings.TrimSpace(s.Endpoint) == "" {
		return false
	}
	for _, value := range s.Headers {
		if strings.TrimSpace(value) == "" {
			return false
		}
	}
	return true
}

// Remote contains configuration shared by the remote-API strategies.
type Remote struct {
	Fingerprint string          `toml:"fingerprint"`
	Services    []RemoteService `toml:"services"`
}

// Metadata contains configuration for the oEmbed title lookup.
type Metadata struct {
	OEmbedURL      string `toml:"oembed_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache contains configuration for the on-disk audio file store.
type Cache struct {
	Enabled        bool    `toml:"enabled"`
	Dir            string  `toml:"dir"`
	MaxMiB         int     `toml:"max_mib"`
	MaxAgeHours    int     `toml:"max_age_hours"`
	VerifyChecksum bool    `toml:"verify_checksum"`
	MinFreeRatio   float64 `toml:"min_free_ratio"`
}

// StreamCache contains configuration for memoizing direct stream URLs.
type StreamCache struct {
	Enabled       bool   `toml:"enabled"`
	TTLMinutes    int    `toml:"ttl_minutes"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Notifications contains configuration for ntfy operator alerts.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	FallbackStreak        int    `toml:"fallback_streak"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for audiorelay.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories
//   - Server: HTTP listener, CORS, and rate limiting
//   - Pipeline: strategy order, per-attempt timeouts, fallback URL
//   - Extractor: yt-dlp binary, mode, and client profiles
//   - NativeClient: in-process player API strategy
//   - Remote: third-party conversion services
//   - Metadata: oEmbed title lookup
//   - Cache: extracted audio files on disk
//   - StreamCache: direct stream URL memoization (memory or redis)
//   - Notifications: ntfy alerts for operators
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Extractor     Extractor     `toml:"extractor"`
	NativeClient  NativeClient  `toml:"native_client"`
	Remote        Remote        `toml:"remote"`
	Metadata      Metadata      `toml:"metadata"`
	Cache         Cache         `toml:"cache"`
	StreamCache   StreamCache   `toml:"stream_cache"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/audiorelay/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		cfg.clearListDefaults()
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("audiorelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) != "" {
		if err := os.MkdirAll(c.Cache.Dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Cache.Dir, err)
		}
	}
	return nil
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.Port))
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "audiorelayd.lock")
}

// AttemptTimeout returns the wall-clock budget for one strategy attempt.
func (c *Config) AttemptTimeout(strategy string) time.Duration {
	if seconds, ok := c.Pipeline.StrategyTimeouts[strategy]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Pipeline.AttemptTimeoutSeconds) * time.Second
}

// RemoteService returns the named remote service configuration.
func (c *Config) RemoteService(name string) (RemoteService, bool) {
	for _, svc := range c.Remote.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return RemoteService{}, false
}

// KnownStrategy reports whether name refers to a strategy that can be built
// from this configuration.
func (c *Config) KnownStrategy(name string) bool {
	switch name {
	case StrategyYTDLP, StrategyNative:
		return true
	}
	_, ok := c.RemoteService(name)
	return ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "audiorelay", "audio")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/audiorelay/audio"
	}
	return filepath.Join(home, ".cache", "audiorelay", "audio")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
