package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// clearListDefaults drops list-valued defaults before decoding so entries from
// a config file replace them instead of merging index by index. normalize
// restores the defaults for lists the file left empty.
func (c *Config) clearListDefaults() {
	c.Pipeline.Order = nil
	c.Extractor.Profiles = nil
	c.Remote.Services = nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeExtractor()
	c.normalizeRemote()
	c.normalizeMetadata()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeStreamCache()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() error {
	if value, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("PORT: invalid value %q", value)
		}
		c.Server.Port = port
	}
	if value, ok := os.LookupEnv("AUDIORELAY_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Server.Bind = value
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	c.Server.URLField = strings.TrimSpace(c.Server.URLField)
	if c.Server.URLField == "" {
		c.Server.URLField = defaultURLField
	}
	c.Server.AllowedOrigin = strings.TrimSpace(c.Server.AllowedOrigin)
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = defaultAllowedOrigin
	}
	if strings.TrimSpace(c.Server.HealthMessage) == "" {
		c.Server.HealthMessage = defaultHealthMessage
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if len(c.Pipeline.Order) == 0 {
		c.Pipeline.Order = Default().Pipeline.Order
	}
	order := make([]string, 0, len(c.Pipeline.Order))
	for _, name := range c.Pipeline.Order {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			order = append(order, name)
		}
	}
	c.Pipeline.Order = order
	if c.Pipeline.StrategyTimeouts == nil {
		c.Pipeline.StrategyTimeouts = map[string]int{}
	}
	c.Pipeline.FallbackURL = strings.TrimSpace(c.Pipeline.FallbackURL)
	if c.Pipeline.FallbackURL == "" {
		c.Pipeline.FallbackURL = defaultFallbackURL
	}
}

func (c *Config) normalizeExtractor() {
	if value, ok := os.LookupEnv("YTDLP_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Extractor.Binary = value
	}
	c.Extractor.Binary = strings.TrimSpace(c.Extractor.Binary)
	if c.Extractor.Binary == "" {
		c.Extractor.Binary = defaultYTDLPBinary
	}
	c.Extractor.FFmpegBinary = strings.TrimSpace(c.Extractor.FFmpegBinary)
	if c.Extractor.FFmpegBinary == "" {
		c.Extractor.FFmpegBinary = defaultFFmpegBinary
	}
	c.Extractor.Mode = strings.ToLower(strings.TrimSpace(c.Extractor.Mode))
	if c.Extractor.Mode == "" {
		c.Extractor.Mode = ModeStream
	}
	c.Extractor.AudioFormat = strings.ToLower(strings.TrimSpace(c.Extractor.AudioFormat))
	if c.Extractor.AudioFormat == "" {
		c.Extractor.AudioFormat = defaultAudioFormat
	}
	if len(c.Extractor.Profiles) == 0 {
		c.Extractor.Profiles = DefaultProfiles()
	}
	for i := range c.Extractor.Profiles {
		p := &c.Extractor.Profiles[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Format = strings.TrimSpace(p.Format)
		p.PlayerClient = strings.TrimSpace(p.PlayerClient)
		p.UserAgent = strings.TrimSpace(p.UserAgent)
	}
}

func (c *Config) normalizeRemote() {
	c.Remote.Fingerprint = strings.ToLower(strings.TrimSpace(c.Remote.Fingerprint))
	if len(c.Remote.Services) == 0 {
		c.Remote.Services = DefaultRemoteServices()
	}
	rapidKey := strings.TrimSpace(os.Getenv("RAPIDAPI_KEY"))
	for i := range c.Remote.Services {
		svc := &c.Remote.Services[i]
		svc.Name = strings.ToLower(strings.TrimSpace(svc.Name))
		svc.Endpoint = strings.TrimSpace(svc.Endpoint)
		svc.Mapper = strings.ToLower(strings.TrimSpace(svc.Mapper))
		if svc.Mapper == "" {
			svc.Mapper = "generic"
		}
		if svc.TimeoutSeconds <= 0 {
			svc.TimeoutSeconds = defaultRemoteTimeoutSeconds
		}
		if value, ok := svc.Headers["X-RapidAPI-Key"]; ok && strings.TrimSpace(value) == "" && rapidKey != "" {
			svc.Headers["X-RapidAPI-Key"] = rapidKey
		}
	}
}

func (c *Config) normalizeMetadata() {
	c.Metadata.OEmbedURL = strings.TrimSpace(c.Metadata.OEmbedURL)
	if c.Metadata.OEmbedURL == "" {
		c.Metadata.OEmbedURL = defaultOEmbedURL
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		c.Metadata.TimeoutSeconds = defaultMetadataTimeoutSeconds
	}
}

func (c *Config) normalizeCache() error {
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = defaultCacheDir()
	}
	var err error
	if c.Cache.Dir, err = expandPath(c.Cache.Dir); err != nil {
		return fmt.Errorf("cache.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStreamCache() {
	if value, ok := os.LookupEnv("AUDIORELAY_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.StreamCache.RedisAddr = value
	}
	c.StreamCache.RedisAddr = strings.TrimSpace(c.StreamCache.RedisAddr)
	if strings.TrimSpace(c.StreamCache.KeyPrefix) == "" {
		c.StreamCache.KeyPrefix = defaultStreamCacheKeyPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}
