package videoref_test

import (
	"errors"
	"testing"

	"audiorelay/internal/videoref"
)

func TestParseSupportedShapesYieldSameID(t *testing.T) {
	inputs := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=share",
		"https://www.youtube.com/embed/dQw4w9WgXcQ#start",
		"  https://m.youtube.com/watch?v=dQw4w9WgXcQ  ",
	}
	for _, input := range inputs {
		ref, err := videoref.Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", input, err)
		}
		if ref.ID != "dQw4w9WgXcQ" {
			t.Fatalf("Parse(%q) id = %q", input, ref.ID)
		}
	}
}

func TestParseIsDeterministic(t *testing.T) {
	a, err := videoref.Parse("https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	b, err := videoref.Parse("https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical references, got %+v and %+v", a, b)
	}
}

func TestParseRejectsUnsupportedInput(t *testing.T) {
	for _, input := range []string{
		"",
		"not a url",
		"https://vimeo.com/123456",
		"https://www.youtube.com/watch?v=",
		"https://www.youtube.com/channel/UC123",
	} {
		if _, err := videoref.Parse(input); !errors.Is(err, videoref.ErrInvalidURL) {
			t.Fatalf("Parse(%q) expected ErrInvalidURL, got %v", input, err)
		}
	}
}

func TestCanonical(t *testing.T) {
	ref, err := videoref.Parse("https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got := ref.Canonical(); got != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("unexpected canonical url: %q", got)
	}
}
