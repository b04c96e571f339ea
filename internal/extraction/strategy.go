package extraction

import (
	"context"
	"strings"
	"time"

	"github.com/samber/mo"

	"audiorelay/internal/videoref"
)

// Strategy is one independent way of turning a video reference into a playable
// audio URL.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, ref videoref.Reference) (Result, error)
}

// Result is produced once by a successful attempt and never mutated afterwards.
type Result struct {
	AudioURL       string
	IsDirectStream bool
	Strategy       string
	// Title and Duration are present only when the strategy produced
	// authoritative metadata (for example a yt-dlp info sidecar). They take
	// precedence over the separately fetched title.
	Title    mo.Option[string]
	Duration mo.Option[time.Duration]
	// TitleHint is a best-effort title from a third-party service. It is used
	// only when the separately fetched title is unknown.
	TitleHint mo.Option[string]
}

// IsPlayableURL reports whether value is usable as an audio URL.
func IsPlayableURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "http")
}

// Func adapts a function to the Strategy interface.
type Func struct {
	Label string
	Fn    func(ctx context.Context, ref videoref.Reference) (Result, error)
}

func (f Func) Name() string { return f.Label }

func (f Func) Attempt(ctx context.Context, ref videoref.Reference) (Result, error) {
	return f.Fn(ctx, ref)
}
