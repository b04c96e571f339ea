package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/daemon"
	"audiorelay/internal/extraction"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/services"
	"audiorelay/internal/testsupport"
	"audiorelay/internal/videoref"
)

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type stubStrategy struct {
	calls  atomic.Int32
	result extraction.Result
	err    error
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Attempt(context.Context, videoref.Reference) (extraction.Result, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func roomyStatfs(string) (uint64, uint64, error) { return 1000, 900, nil }

func newDaemon(t *testing.T, strategy extraction.Strategy, mutate func(*config.Config)) (*daemon.Daemon, *pipeline.Components) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Server.RequestsPerSecond = 0
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	components := &pipeline.Components{}
	if cfg.Cache.Enabled {
		components.Files = testsupport.MustOpenCache(t, cfg, audiocache.WithStatfs(roomyStatfs))
	}
	resolver, err := pipeline.New([]extraction.Strategy{strategy}, cfg.Pipeline.FallbackURL,
		pipeline.WithFileCache(components.Files),
	)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	components.Resolver = resolver

	d, err := daemon.New(cfg, components, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, components
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/extract-audio", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return payload
}

func TestExtractRejectsNonURLWithoutInvokingStrategies(t *testing.T) {
	stub := &stubStrategy{result: extraction.Result{AudioURL: "http://cdn.example/a.m4a", IsDirectStream: true}}
	d, _ := newDaemon(t, stub, nil)

	w := post(t, d.Handler(), `{"youtubeUrl":"not a url"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode(t, w)["error"]; got != "Invalid YouTube URL" {
		t.Fatalf("unexpected error %v", got)
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("expected zero strategy calls, got %d", stub.calls.Load())
	}
}

func TestExtractRequiresURL(t *testing.T) {
	stub := &stubStrategy{}
	d, _ := newDaemon(t, stub, nil)

	for _, body := range []string{``, `{}`, `{"youtubeUrl":"   "}`, `{not json`} {
		w := post(t, d.Handler(), body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
		if got := decode(t, w)["error"]; got != "YouTube URL is required" {
			t.Fatalf("body %q: unexpected error %v", body, got)
		}
	}
	if stub.calls.Load() != 0 {
		t.Fatalf("expected zero strategy calls, got %d", stub.calls.Load())
	}
}

func TestExtractHonorsURLField(t *testing.T) {
	stub := &stubStrategy{result: extraction.Result{AudioURL: "http://cdn.example/a.m4a", IsDirectStream: true}}
	d, _ := newDaemon(t, stub, func(cfg *config.Config) {
		cfg.Server.URLField = "youtubeUrl"
	})

	if w := post(t, d.Handler(), `{"url":"`+watchURL+`"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected url field to be ignored, got %d", w.Code)
	}
	if w := post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`); w.Code != http.StatusOK {
		t.Fatalf("expected youtubeUrl to be accepted, got %d", w.Code)
	}
}

func TestExtractReturnsOutcome(t *testing.T) {
	stub := &stubStrategy{result: extraction.Result{AudioURL: "http://cdn.example/audio.m4a", IsDirectStream: true}}
	d, _ := newDaemon(t, stub, nil)

	w := post(t, d.Handler(), `{"url":"https://youtu.be/dQw4w9WgXcQ"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	payload := decode(t, w)
	if payload["success"] != true || payload["audioUrl"] != "http://cdn.example/audio.m4a" || payload["isDirectStream"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["duration"] != pipeline.UnknownDuration {
		t.Fatalf("unexpected duration %v", payload["duration"])
	}
}

func TestExtractServesFallbackWhenStrategiesFail(t *testing.T) {
	stub := &stubStrategy{err: extraction.Failed("stub", services.ErrUpstream, "fetch", "blocked", nil)}
	d, _ := newDaemon(t, stub, nil)

	w := post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	payload := decode(t, w)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload)
	}
	if url, _ := payload["audioUrl"].(string); !strings.HasPrefix(url, "http") {
		t.Fatalf("expected fallback http url, got %q", url)
	}
}

func TestExtractLaunchErrorIs500(t *testing.T) {
	stub := &stubStrategy{err: extraction.LaunchError("yt-dlp", errors.New("permission denied"))}
	d, _ := newDaemon(t, stub, nil)

	w := post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	payload := decode(t, w)
	if payload["error"] != "Failed to extract audio" {
		t.Fatalf("unexpected error %v", payload["error"])
	}
	if details, _ := payload["details"].(string); !strings.Contains(details, "permission denied") {
		t.Fatalf("expected launch detail, got %q", details)
	}
}

func TestExtractRejectsGet(t *testing.T) {
	d, _ := newDaemon(t, &stubStrategy{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/extract-audio", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	d, _ := newDaemon(t, &stubStrategy{}, nil)
	for _, path := range []string{"/api/health", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		d.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		payload := decode(t, w)
		if payload["status"] != "OK" || payload["message"] != "YouTube audio server is running" {
			t.Fatalf("%s: unexpected payload %v", path, payload)
		}
		if _, ok := payload["dependencies"].([]any); !ok {
			t.Fatalf("%s: expected dependencies list, got %v", path, payload["dependencies"])
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	d, _ := newDaemon(t, &stubStrategy{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/extract-audio", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	stub := &stubStrategy{result: extraction.Result{AudioURL: "http://cdn.example/a.m4a", IsDirectStream: true}}
	d, _ := newDaemon(t, stub, func(cfg *config.Config) {
		cfg.Server.RequestsPerSecond = 0.001
		cfg.Server.Burst = 1
	})

	if w := post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}

	health := httptest.NewRecorder()
	d.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", health.Code)
	}
}

func TestAudioRouteServesCachedFiles(t *testing.T) {
	d, components := newDaemon(t, &stubStrategy{}, func(cfg *config.Config) {
		cfg.Cache.Enabled = true
	})

	src := filepath.Join(t.TempDir(), "download.mp3")
	payload := []byte("ID3-not-really-an-mp3-but-close-enough")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	url, err := components.Files.Publish(context.Background(), "dQw4w9WgXcQ", src, "Song", time.Minute)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.HasSuffix(url, "/audio/dQw4w9WgXcQ.mp3") {
		t.Fatalf("unexpected published url %q", url)
	}

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/dQw4w9WgXcQ.mp3", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != "inline; filename=Song.mp3" {
		t.Fatalf("unexpected content disposition %q", got)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != string(payload) {
		t.Fatalf("unexpected body %q", body)
	}

	ranged := httptest.NewRequest(http.MethodGet, "/audio/dQw4w9WgXcQ.mp3", nil)
	ranged.Header.Set("Range", "bytes=0-2")
	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, ranged)
	if w.Code != http.StatusPartialContent || w.Body.String() != "ID3" {
		t.Fatalf("expected partial content ID3, got %d %q", w.Code, w.Body.String())
	}

	for _, path := range []string{"/audio/missing.mp3", "/audio/sub%2Fname.mp3", "/audio/.hidden"} {
		w = httptest.NewRecorder()
		d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestAudioRouteWithoutCacheIs404(t *testing.T) {
	d, _ := newDaemon(t, &stubStrategy{}, func(cfg *config.Config) {
		cfg.Cache.Enabled = false
	})
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/dQw4w9WgXcQ.mp3", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
