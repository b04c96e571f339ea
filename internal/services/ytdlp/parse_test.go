package ytdlp_test

import (
	"testing"
	"time"

	"audiorelay/internal/services/ytdlp"
)

func TestParseStreamOutputTakesLastURLLine(t *testing.T) {
	lines := []string{
		"[youtube] Extracting URL",
		"https://cdn.example/video.mp4",
		"https://cdn.example/audio.m4a",
		"",
		"   ",
	}
	got, err := ytdlp.ParseStreamOutput(lines).Get()
	if err != nil {
		t.Fatalf("ParseStreamOutput returned error: %v", err)
	}
	if got != "https://cdn.example/audio.m4a" {
		t.Fatalf("unexpected url: %q", got)
	}
}

func TestParseStreamOutputWithoutURL(t *testing.T) {
	result := ytdlp.ParseStreamOutput([]string{"ERROR: Video unavailable", ""})
	if result.IsOk() {
		t.Fatalf("expected error result, got %q", result.MustGet())
	}
	if ytdlp.ParseStreamOutput(nil).IsOk() {
		t.Fatal("expected error result for empty output")
	}
}

func TestParseSidecar(t *testing.T) {
	sidecar, err := ytdlp.ParseSidecar([]byte(`{"title":"  Song\tTitle ","duration":212.5,"ext":"mp3","id":"abc"}`))
	if err != nil {
		t.Fatalf("ParseSidecar returned error: %v", err)
	}
	if title, ok := sidecar.Title.Get(); !ok || title != "Song Title" {
		t.Fatalf("unexpected title: %q (present=%v)", title, ok)
	}
	if duration, ok := sidecar.Duration.Get(); !ok || duration != 212500*time.Millisecond {
		t.Fatalf("unexpected duration: %s (present=%v)", duration, ok)
	}
	if sidecar.Ext != "mp3" {
		t.Fatalf("unexpected ext: %q", sidecar.Ext)
	}
}

func TestParseSidecarMissingFields(t *testing.T) {
	sidecar, err := ytdlp.ParseSidecar([]byte(`{"title":"","duration":null}`))
	if err != nil {
		t.Fatalf("ParseSidecar returned error: %v", err)
	}
	if sidecar.Title.IsPresent() {
		t.Fatal("expected absent title")
	}
	if sidecar.Duration.IsPresent() {
		t.Fatal("expected absent duration")
	}
	if _, err := ytdlp.ParseSidecar([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
