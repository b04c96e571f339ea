// Package oembed fetches display titles from the oEmbed endpoint. Lookups never
// fail from the caller's point of view; any problem yields UnknownTitle.
package oembed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"audiorelay/internal/httpx"
	"audiorelay/internal/logging"
	"audiorelay/internal/textutil"
)

// UnknownTitle is reported when no title could be determined.
const UnknownTitle = "Unknown Title"

// DefaultEndpoint is the public YouTube oEmbed endpoint.
const DefaultEndpoint = "https://www.youtube.com/oembed"

// Info is the subset of the oEmbed payload used by the relay.
type Info struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Client queries an oEmbed endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "oembed")
	}
}

// New constructs a Client. An empty endpoint selects DefaultEndpoint.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		timeout:  timeout,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpx.NewClient(0)
	}
	return c
}

// FetchTitle returns the normalized title for sourceURL, or UnknownTitle.
func (c *Client) FetchTitle(ctx context.Context, sourceURL string) string {
	info, err := c.Fetch(ctx, sourceURL)
	if err != nil {
		logging.WithContext(ctx, c.logger).Debug("title lookup failed",
			logging.String(logging.FieldEventType, "title_lookup_failed"),
			logging.Error(err),
		)
		return UnknownTitle
	}
	if title := textutil.NormalizeTitle(info.Title); title != "" {
		return title
	}
	return UnknownTitle
}

// Fetch retrieves the raw oEmbed payload.
func (c *Client) Fetch(ctx context.Context, sourceURL string) (Info, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return Info{}, fmt.Errorf("parse oembed endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", sourceURL)
	query.Set("format", "json")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Info{}, fmt.Errorf("build oembed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpx.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("oembed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("oembed status %d", resp.StatusCode)
	}
	var info Info
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<10)).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode oembed response: %w", err)
	}
	return info, nil
}
