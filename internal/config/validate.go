package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateExtractor(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateStreamCache(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.URLField {
	case "youtubeUrl", "url", "any":
	default:
		return fmt.Errorf("server.url_field must be one of youtubeUrl, url, any (got %q)", c.Server.URLField)
	}
	if c.Server.RequestsPerSecond < 0 {
		return errors.New("server.requests_per_second must not be negative")
	}
	if c.Server.RequestsPerSecond > 0 && c.Server.Burst <= 0 {
		return errors.New("server.burst must be positive when rate limiting is enabled")
	}
	if c.Server.PublicBaseURL != "" && !isHTTPURL(c.Server.PublicBaseURL) {
		return errors.New("server.public_base_url must be an absolute http(s) URL")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Order) == 0 {
		return errors.New("pipeline.order must list at least one strategy")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Order))
	for _, name := range c.Pipeline.Order {
		if !c.KnownStrategy(name) {
			return fmt.Errorf("pipeline.order: unknown strategy %q", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pipeline.order: strategy %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	if c.Pipeline.AttemptTimeoutSeconds <= 0 {
		return errors.New("pipeline.attempt_timeout_seconds must be positive")
	}
	for name, seconds := range c.Pipeline.StrategyTimeouts {
		if seconds <= 0 {
			return fmt.Errorf("pipeline.strategy_timeouts.%s must be positive", name)
		}
	}
	if !isHTTPURL(c.Pipeline.FallbackURL) {
		return errors.New("pipeline.fallback_url must be an absolute http(s) URL")
	}
	return nil
}

func (c *Config) validateExtractor() error {
	if !c.Extractor.Enabled {
		return nil
	}
	switch c.Extractor.Mode {
	case ModeStream, ModeDownload:
	default:
		return fmt.Errorf("extractor.mode must be %q or %q (got %q)", ModeStream, ModeDownload, c.Extractor.Mode)
	}
	if c.Extractor.Mode == ModeDownload && !c.Cache.Enabled {
		return errors.New("cache.enabled must be true when extractor.mode is download")
	}
	if err := ensurePositiveMap(map[string]int{
		"extractor.timeout_seconds": c.Extractor.TimeoutSeconds,
		"extractor.max_concurrent":  c.Extractor.MaxConcurrent,
	}); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(c.Extractor.Profiles))
	for i, profile := range c.Extractor.Profiles {
		if profile.Name == "" {
			return fmt.Errorf("extractor.profiles[%d].name must be set", i)
		}
		if _, dup := names[profile.Name]; dup {
			return fmt.Errorf("extractor.profiles: duplicate profile %q", profile.Name)
		}
		names[profile.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Fingerprint {
	case "", "none", "chrome":
	default:
		return fmt.Errorf("remote.fingerprint must be empty, none, or chrome (got %q)", c.Remote.Fingerprint)
	}
	names := make(map[string]struct{}, len(c.Remote.Services))
	for i, svc := range c.Remote.Services {
		if svc.Name == "" {
			return fmt.Errorf("remote.services[%d].name must be set", i)
		}
		if svc.Name == StrategyYTDLP || svc.Name == StrategyNative {
			return fmt.Errorf("remote.services[%d].name %q is reserved", i, svc.Name)
		}
		if _, dup := names[svc.Name]; dup {
			return fmt.Errorf("remote.services: duplicate service %q", svc.Name)
		}
		names[svc.Name] = struct{}{}
		if !svc.Enabled {
			continue
		}
		if !strings.Contains(svc.Endpoint, "{id}") {
			return fmt.Errorf("remote.services.%s.endpoint must contain the {id} placeholder", svc.Name)
		}
		if !isHTTPURL(strings.ReplaceAll(svc.Endpoint, "{id}", "x")) {
			return fmt.Errorf("remote.services.%s.endpoint must be an absolute http(s) URL", svc.Name)
		}
		switch svc.Mapper {
		case "vevioz", "rapidapi", "generic":
		default:
			return fmt.Errorf("remote.services.%s.mapper must be vevioz, rapidapi, or generic (got %q)", svc.Name, svc.Mapper)
		}
	}
	return nil
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if c.Cache.Dir == "" {
		return errors.New("cache.dir must be set when cache.enabled is true")
	}
	if c.Cache.MaxMiB <= 0 {
		return errors.New("cache.max_mib must be positive")
	}
	if c.Cache.MaxAgeHours < 0 {
		return errors.New("cache.max_age_hours must not be negative")
	}
	if c.Cache.MinFreeRatio < 0 || c.Cache.MinFreeRatio >= 1 {
		return errors.New("cache.min_free_ratio must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateStreamCache() error {
	if !c.StreamCache.Enabled {
		return nil
	}
	if c.StreamCache.TTLMinutes <= 0 {
		return errors.New("stream_cache.ttl_minutes must be positive")
	}
	if c.StreamCache.RedisDB < 0 {
		return errors.New("stream_cache.redis_db must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && !isHTTPURL(c.Notifications.NtfyTopic) {
		return errors.New("notifications.ntfy_topic must be a full http(s) topic URL")
	}
	if c.Notifications.FallbackStreak < 0 {
		return errors.New("notifications.fallback_streak must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
