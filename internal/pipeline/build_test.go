package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"audiorelay/internal/config"
	"audiorelay/internal/extraction"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/services"
	"audiorelay/internal/testsupport"
)

// scriptedExecutor stands in for yt-dlp. In stream mode it prints url; in
// download mode it writes <id>.mp3 and an info sidecar.
type scriptedExecutor struct {
	url     string
	sidecar string
	calls   atomic.Int32
}

func (s *scriptedExecutor) Run(ctx context.Context, binary string, args []string, onStdout, onStderr func(string)) error {
	s.calls.Add(1)
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			base := strings.TrimSuffix(args[i+1], ".%(ext)s")
			if err := os.WriteFile(base+".mp3", []byte("ID3-audio-bytes"), 0o644); err != nil {
				return err
			}
			if s.sidecar != "" {
				return os.WriteFile(base+".info.json", []byte(s.sidecar), 0o644)
			}
			return nil
		}
	}
	onStdout("[youtube] dQw4w9WgXcQ: Downloading webpage")
	onStdout(s.url)
	return nil
}

func metadataServer(t *testing.T, title string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"` + title + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingRemote(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func enableRemote(cfg *config.Config, name, endpoint string) {
	for i := range cfg.Remote.Services {
		if cfg.Remote.Services[i].Name == name {
			cfg.Remote.Services[i].Enabled = true
			cfg.Remote.Services[i].Endpoint = endpoint
			cfg.Remote.Services[i].Headers = map[string]string{"X-RapidAPI-Key": "k"}
		}
	}
}

func TestBuildEndToEndRemoteFailsSubprocessSucceeds(t *testing.T) {
	var remoteHits atomic.Int32
	remote := failingRemote(t, &remoteHits)
	cfg := testsupport.NewConfig(t, testsupport.WithOrder("vevioz", "youtube-mp36", config.StrategyYTDLP))
	cfg.Metadata.OEmbedURL = metadataServer(t, "Fetched Title").URL
	enableRemote(cfg, "vevioz", remote.URL+"/mp3/{id}")
	enableRemote(cfg, "youtube-mp36", remote.URL+"/dl?id={id}")

	exec := &scriptedExecutor{url: "http://cdn.example/audio.m4a"}
	components, err := pipeline.Build(context.Background(), cfg, nil, pipeline.WithExtractorExecutor(exec))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })

	if got := strings.Join(components.Resolver.StrategyNames(), ","); got != "vevioz,youtube-mp36,ytdlp" {
		t.Fatalf("unexpected strategy order %s", got)
	}

	outcome, err := components.Resolver.Resolve(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !outcome.Success || !outcome.IsDirectStream || outcome.AudioURL != "http://cdn.example/audio.m4a" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Title != "Fetched Title" || outcome.Strategy != config.StrategyYTDLP {
		t.Fatalf("unexpected metadata: %+v", outcome)
	}
	if remoteHits.Load() != 2 {
		t.Fatalf("expected both remote services tried, got %d hits", remoteHits.Load())
	}
}

func TestBuildDownloadModeServesFromCacheOnSecondResolve(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDownloadMode(), testsupport.WithOrder(config.StrategyYTDLP))
	cfg.Metadata.OEmbedURL = metadataServer(t, "Fetched Title").URL
	cfg.StreamCache.Enabled = false

	exec := &scriptedExecutor{sidecar: `{"title":"Sidecar Title","duration":125,"ext":"mp3"}`}
	components, err := pipeline.Build(context.Background(), cfg, nil, pipeline.WithExtractorExecutor(exec))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })

	ctx := services.WithBaseURL(context.Background(), "http://relay.test")
	first, err := components.Resolver.Resolve(ctx, "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !first.Success || first.IsDirectStream || first.AudioURL != "http://relay.test/audio/dQw4w9WgXcQ.mp3" {
		t.Fatalf("unexpected first outcome: %+v", first)
	}
	if first.Title != "Sidecar Title" || first.Duration != "2:05" {
		t.Fatalf("sidecar metadata should win, got %+v", first)
	}

	second, err := components.Resolver.Resolve(ctx, "https://www.youtube.com/embed/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if exec.calls.Load() != 1 {
		t.Fatalf("expected the extractor to run once, got %d", exec.calls.Load())
	}
	if !second.Cached || second.AudioURL != first.AudioURL || second.Title != "Sidecar Title" || second.Duration != "2:05" {
		t.Fatalf("unexpected cached outcome: %+v", second)
	}
}

func TestBuildSkipsRapidAPIWithoutKey(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOrder("youtube-mp36", config.StrategyYTDLP))
	for i := range cfg.Remote.Services {
		cfg.Remote.Services[i].Enabled = true
		cfg.Remote.Services[i].Headers = map[string]string{"X-RapidAPI-Key": ""}
	}
	components, err := pipeline.Build(context.Background(), cfg, nil, pipeline.WithExtractorExecutor(&scriptedExecutor{url: "https://a"}))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })
	if got := strings.Join(components.Resolver.StrategyNames(), ","); got != "ytdlp" {
		t.Fatalf("expected rapidapi skipped, got %s", got)
	}
}

func TestBuildMissingBinaryDegradesToFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOrder(config.StrategyYTDLP))
	cfg.Extractor.Binary = "/nonexistent/yt-dlp"
	cfg.Metadata.OEmbedURL = metadataServer(t, "Fetched Title").URL

	components, err := pipeline.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })

	outcome, err := components.Resolver.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("missing binary must not be fatal, got %v", err)
	}
	if outcome.Success || outcome.AudioURL != cfg.Pipeline.FallbackURL {
		t.Fatalf("expected fallback outcome, got %+v", outcome)
	}
}

func TestBuildNonExecutableBinaryIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOrder(config.StrategyYTDLP))
	binary := testsupport.BaseDir(cfg) + "/yt-dlp"
	if err := os.WriteFile(binary, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Extractor.Binary = binary
	cfg.Metadata.OEmbedURL = metadataServer(t, "T").URL

	components, err := pipeline.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })

	_, err = components.Resolver.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if !errors.Is(err, extraction.ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
}
