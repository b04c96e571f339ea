package pipeline

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// UnknownDuration is reported when no strategy supplied a duration.
const UnknownDuration = "unknown"

// CacheStrategy labels outcomes served from the file cache.
const CacheStrategy = "cache"

// Outcome is the externally visible result of one resolution.
type Outcome struct {
	Title          string
	Duration       string
	AudioURL       string
	IsDirectStream bool
	Success        bool
	Strategy       string
	Cached         bool
}

// FormatDuration renders d as M:SS or H:MM:SS.
func FormatDuration(d mo.Option[time.Duration]) string {
	value, ok := d.Get()
	if !ok || value <= 0 {
		return UnknownDuration
	}
	total := int64(value.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
