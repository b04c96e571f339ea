package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"audiorelay/internal/config"
	"audiorelay/internal/daemon"
	"audiorelay/internal/extraction"
	"audiorelay/internal/notifications"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/services"
	"audiorelay/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func (r *recordingNotifier) snapshot() ([]notifications.Event, notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), r.last
}

func newAlertingDaemon(t *testing.T, stub *stubStrategy, streak int) (*daemon.Daemon, *recordingNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Server.RequestsPerSecond = 0
	cfg.Notifications.FallbackStreak = streak
	resolver, err := pipeline.New([]extraction.Strategy{stub}, cfg.Pipeline.FallbackURL)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	rec := &recordingNotifier{}
	d, err := daemon.New(cfg, &pipeline.Components{Resolver: resolver}, nil, daemon.WithNotifier(rec))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, rec
}

func TestFallbackStreakAlertsOnceAndRearms(t *testing.T) {
	stub := &stubStrategy{err: extraction.Failed("stub", services.ErrUpstream, "fetch", "blocked", nil)}
	d, rec := newAlertingDaemon(t, stub, 2)

	for range 3 {
		post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	}
	stub.err = nil
	stub.result = extraction.Result{AudioURL: "http://cdn.example/a.m4a", IsDirectStream: true}
	post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	stub.err = extraction.Failed("stub", services.ErrUpstream, "fetch", "blocked", nil)
	for range 2 {
		post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, last := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 streak alerts, got %v", events)
	}
	for _, ev := range events {
		if ev != notifications.EventFallbackStreak {
			t.Fatalf("unexpected event %q", ev)
		}
	}
	if last["count"] != "2" || last["lastSource"] != watchURL {
		t.Fatalf("unexpected payload %v", last)
	}
}

func TestFallbackStreakDisabledAtZero(t *testing.T) {
	stub := &stubStrategy{err: extraction.Failed("stub", services.ErrUpstream, "fetch", "blocked", nil)}
	d, rec := newAlertingDaemon(t, stub, 0)
	for range 5 {
		post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	}
	_ = d.Close()
	if events, _ := rec.snapshot(); len(events) != 0 {
		t.Fatalf("expected no alerts, got %v", events)
	}
}

func TestLaunchFailureAlertIsThrottled(t *testing.T) {
	stub := &stubStrategy{err: extraction.LaunchError("yt-dlp", errors.New("permission denied"))}
	d, rec := newAlertingDaemon(t, stub, 0)
	for range 3 {
		post(t, d.Handler(), `{"youtubeUrl":"`+watchURL+`"}`)
	}
	_ = d.Close()

	events, last := rec.snapshot()
	if len(events) != 1 || events[0] != notifications.EventExtractorUnavailable {
		t.Fatalf("expected one extractor alert, got %v", events)
	}
	if last["binary"] != config.Default().Extractor.Binary {
		t.Fatalf("unexpected binary %q", last["binary"])
	}
}
