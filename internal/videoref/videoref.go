// Package videoref turns user-supplied page URLs into video references.
package videoref

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL reports input that does not match any supported page URL shape.
// It is a client error and is never retried.
var ErrInvalidURL = errors.New("invalid video url")

var idPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`)

// Reference identifies one video. ID is derived deterministically from
// SourceURL, so equal inputs always yield equal IDs.
type Reference struct {
	SourceURL string
	ID        string
}

// Parse extracts the video identifier from watch, short-link, and embed URLs.
// Query parameters and fragments after the identifier are ignored.
func Parse(raw string) (Reference, error) {
	source := strings.TrimSpace(raw)
	if source == "" {
		return Reference{}, ErrInvalidURL
	}
	match := idPattern.FindStringSubmatch(source)
	if len(match) != 2 || match[1] == "" {
		return Reference{}, ErrInvalidURL
	}
	return Reference{SourceURL: source, ID: match[1]}, nil
}

// Canonical returns the watch URL for the reference, used when handing the
// video to tools that expect a normalized address.
func (r Reference) Canonical() string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(r.ID)
}

// String implements fmt.Stringer.
func (r Reference) String() string {
	return r.ID
}
