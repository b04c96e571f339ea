// Package ytclient resolves audio URLs in-process through the kkdai/youtube
// player client, without spawning an external extractor.
package ytclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"audiorelay/internal/extraction"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/videoref"
)

// Name identifies the strategy in pipeline.order.
const Name = "native"

// VideoSource is the subset of *youtube.Client used by the strategy.
type VideoSource interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// Strategy asks the player API for the best audio-only format.
type Strategy struct {
	source  VideoSource
	timeout time.Duration
	logger  *slog.Logger
}

// Option customizes a Strategy.
type Option func(*Strategy)

// WithSource overrides the video source, primarily for tests.
func WithSource(source VideoSource) Option {
	return func(s *Strategy) {
		if source != nil {
			s.source = source
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Strategy) {
		s.logger = logging.NewComponentLogger(logger, "ytclient")
	}
}

// New constructs the native strategy. httpClient may be nil.
func New(httpClient *http.Client, timeout time.Duration, opts ...Option) *Strategy {
	s := &Strategy{timeout: timeout, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = &youtube.Client{HTTPClient: httpClient}
	}
	return s
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) Attempt(ctx context.Context, ref videoref.Reference) (extraction.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	video, err := s.source.GetVideoContext(ctx, ref.ID)
	if err != nil {
		return extraction.Result{}, extraction.Failed(Name, classify(ctx, err), "player", "fetch video", err)
	}
	format, ok := BestAudioFormat(video.Formats).Get()
	if !ok {
		return extraction.Result{}, extraction.Failed(Name, services.ErrNotFound, "formats", "no audio-only format offered", nil)
	}
	streamURL, err := s.source.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return extraction.Result{}, extraction.Failed(Name, classify(ctx, err), "stream", fmt.Sprintf("resolve itag %d", format.ItagNo), err)
	}
	if !extraction.IsPlayableURL(streamURL) {
		return extraction.Result{}, extraction.Failed(Name, services.ErrUpstream, "stream", "stream url is not http", nil)
	}

	logging.WithContext(ctx, s.logger).Debug("native client selected format",
		logging.Int("itag", format.ItagNo),
		logging.String("mime", format.MimeType),
		logging.Int("bitrate", bitrate(format)),
	)

	result := extraction.Result{
		AudioURL:       streamURL,
		IsDirectStream: true,
		Strategy:       Name,
		Title:          mo.None[string](),
		Duration:       mo.None[time.Duration](),
	}
	if title := strings.TrimSpace(video.Title); title != "" {
		result.Title = mo.Some(title)
	}
	if video.Duration > 0 {
		result.Duration = mo.Some(video.Duration)
	}
	return result, nil
}

// BestAudioFormat picks the highest-bitrate audio-only format, preferring
// audio/mp4 on ties since it plays in every browser.
func BestAudioFormat(formats youtube.FormatList) mo.Option[*youtube.Format] {
	candidates := make([]*youtube.Format, 0, len(formats))
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width != 0 || f.Height != 0 {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return mo.None[*youtube.Format]()
	}
	best := lo.MaxBy(candidates, func(a, b *youtube.Format) bool {
		if bitrate(a) != bitrate(b) {
			return bitrate(a) > bitrate(b)
		}
		return isMP4(a) && !isMP4(b)
	})
	return mo.Some(best)
}

func bitrate(f *youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

func isMP4(f *youtube.Format) bool {
	return strings.HasPrefix(f.MimeType, "audio/mp4")
}

func classify(ctx context.Context, err error) error {
	var statusErr *youtube.ErrPlayabiltyStatus
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.ErrTimeout
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.As(err, &statusErr):
		return services.ErrNotFound
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return services.ErrValidation
	default:
		return services.ErrUpstream
	}
}
