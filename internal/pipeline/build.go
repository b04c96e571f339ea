package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/extraction"
	"audiorelay/internal/httpx"
	"audiorelay/internal/logging"
	"audiorelay/internal/services/oembed"
	"audiorelay/internal/services/remoteapi"
	"audiorelay/internal/services/ytclient"
	"audiorelay/internal/services/ytdlp"
	"audiorelay/internal/streamcache"
)

// Components bundles a configured Resolver with the caches it owns.
type Components struct {
	Resolver *Resolver
	Files    *audiocache.Cache
	Streams  *streamcache.Cache
}

// Close releases cache resources.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.Files.Close(), c.Streams.Close())
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	executor ytdlp.Executor
	extra    map[string]extraction.Strategy
}

// WithExtractorExecutor swaps the yt-dlp process runner, primarily for tests.
func WithExtractorExecutor(exec ytdlp.Executor) BuildOption {
	return func(o *buildOptions) { o.executor = exec }
}

// WithStrategyOverride replaces the strategy built for name.
func WithStrategyOverride(name string, s extraction.Strategy) BuildOption {
	return func(o *buildOptions) {
		if o.extra == nil {
			o.extra = make(map[string]extraction.Strategy)
		}
		o.extra[name] = s
	}
}

// Build wires every configured strategy in pipeline.order, the title fetcher,
// and both caches.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger = logging.NewComponentLogger(logger, "pipeline")

	files, err := audiocache.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	streams := streamcache.New(ctx, cfg, logger)
	components := &Components{Files: files, Streams: streams}

	strategies, err := buildStrategies(cfg, logger, files, bo)
	if err != nil {
		_ = components.Close()
		return nil, err
	}

	titles := oembed.New(cfg.Metadata.OEmbedURL, time.Duration(cfg.Metadata.TimeoutSeconds)*time.Second, oembed.WithLogger(logger))
	resolverOpts := []Option{
		WithTitleFetcher(titles),
		WithAttemptTimeout(cfg.AttemptTimeout),
		WithSingleflight(cfg.Pipeline.Singleflight),
		WithLogger(logger),
	}
	if files != nil {
		resolverOpts = append(resolverOpts, WithFileCache(files))
	}
	if streams != nil {
		resolverOpts = append(resolverOpts, WithStreamCache(streams))
	}
	resolver, err := New(strategies, cfg.Pipeline.FallbackURL, resolverOpts...)
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	components.Resolver = resolver
	logger.Info("resolution pipeline ready",
		logging.Any("strategies", resolver.StrategyNames()),
		logging.Bool("file_cache", files != nil),
		logging.String("stream_cache", streams.Backend()),
	)
	return components, nil
}

func buildStrategies(cfg *config.Config, logger *slog.Logger, files *audiocache.Cache, bo buildOptions) ([]extraction.Strategy, error) {
	remoteClient := remoteHTTPClient(cfg)
	strategies := make([]extraction.Strategy, 0, len(cfg.Pipeline.Order))
	for _, name := range cfg.Pipeline.Order {
		if override, ok := bo.extra[name]; ok {
			strategies = append(strategies, override)
			continue
		}
		switch name {
		case config.StrategyYTDLP:
			if !cfg.Extractor.Enabled {
				logger.Info("strategy disabled", logging.String(logging.FieldStrategy, name))
				continue
			}
			s, err := buildYTDLP(cfg, logger, files, bo.executor)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		case config.StrategyNative:
			if !cfg.NativeClient.Enabled {
				logger.Info("strategy disabled", logging.String(logging.FieldStrategy, name))
				continue
			}
			timeout := time.Duration(cfg.NativeClient.TimeoutSeconds) * time.Second
			strategies = append(strategies, ytclient.New(httpx.NewClient(0), timeout, ytclient.WithLogger(logger)))
		default:
			svcCfg, ok := cfg.RemoteService(name)
			if !ok {
				return nil, fmt.Errorf("pipeline.order: unknown strategy %q", name)
			}
			if !svcCfg.Enabled || !svcCfg.Ready() {
				logger.Info("remote service skipped",
					logging.String(logging.FieldStrategy, name),
					logging.Bool("enabled", svcCfg.Enabled),
					logging.String(logging.FieldErrorHint, "set required headers such as RAPIDAPI_KEY to enable"),
				)
				continue
			}
			svc, err := remoteapi.ServiceFromConfig(svcCfg)
			if err != nil {
				return nil, err
			}
			s, err := remoteapi.NewStrategy(svc, remoteClient, logger)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		}
	}
	return strategies, nil
}

func buildYTDLP(cfg *config.Config, logger *slog.Logger, files *audiocache.Cache, exec ytdlp.Executor) (extraction.Strategy, error) {
	clientOpts := []ytdlp.Option{
		ytdlp.WithLogger(logger),
		ytdlp.WithFFmpeg(cfg.Extractor.FFmpegBinary),
		ytdlp.WithAudioFormat(cfg.Extractor.AudioFormat),
		ytdlp.WithMaxConcurrent(cfg.Extractor.MaxConcurrent),
		ytdlp.WithFatalLaunchErrors(cfg.Extractor.FatalLaunchErrors),
	}
	if exec != nil {
		clientOpts = append(clientOpts, ytdlp.WithExecutor(exec))
	}
	client, err := ytdlp.New(cfg.Extractor.Binary, cfg.Extractor.TimeoutSeconds, clientOpts...)
	if err != nil {
		return nil, err
	}
	strategyCfg := ytdlp.StrategyConfig{
		Profiles: ytdlp.ProfilesFromConfig(cfg.Extractor.Profiles),
		Mode:     ytdlp.Mode(cfg.Extractor.Mode),
	}
	if strategyCfg.Mode == ytdlp.ModeDownload {
		if files == nil {
			return nil, errors.New("extractor.mode download requires cache.enabled")
		}
		strategyCfg.WorkDir = filepath.Join(cfg.Paths.StateDir, "work")
		strategyCfg.Publisher = files
	}
	return ytdlp.NewStrategy(client, strategyCfg, logger)
}

func remoteHTTPClient(cfg *config.Config) *http.Client {
	if cfg.Remote.Fingerprint == "chrome" {
		return httpx.NewClientWithTransport(0, httpx.NewFingerprintTransport())
	}
	return httpx.NewClient(0)
}
