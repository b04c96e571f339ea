package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/singleflight"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/extraction"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/services/oembed"
	"audiorelay/internal/streamcache"
	"audiorelay/internal/textutil"
	"audiorelay/internal/videoref"
)

const defaultAttemptTimeout = 60 * time.Second

// TitleFetcher supplies a best-effort display title. It must not fail.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, sourceURL string) string
}

// FileCache is the subset of *audiocache.Cache the resolver reads.
type FileCache interface {
	Lookup(ctx context.Context, id string) (mo.Option[audiocache.Entry], error)
	URLFor(ctx context.Context, fileName string) string
}

// StreamCache is the subset of *streamcache.Cache the resolver uses.
type StreamCache interface {
	Get(ctx context.Context, id string) mo.Option[streamcache.Record]
	Put(ctx context.Context, id string, rec streamcache.Record)
}

// Resolver runs the ordered strategy chain.
type Resolver struct {
	strategies     []extraction.Strategy
	fallbackURL    string
	titles         TitleFetcher
	files          FileCache
	streams        StreamCache
	attemptTimeout func(name string) time.Duration
	dedupe         bool
	group          singleflight.Group
	stats          *counters
	logger         *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithTitleFetcher sets the title source.
func WithTitleFetcher(t TitleFetcher) Option {
	return func(r *Resolver) { r.titles = t }
}

// WithFileCache enables lookups of previously downloaded files.
func WithFileCache(c FileCache) Option {
	return func(r *Resolver) { r.files = c }
}

// WithStreamCache enables memoized direct-stream results.
func WithStreamCache(c StreamCache) Option {
	return func(r *Resolver) { r.streams = c }
}

// WithAttemptTimeout sets the per-strategy wall-clock budget.
func WithAttemptTimeout(fn func(name string) time.Duration) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.attemptTimeout = fn
		}
	}
}

// WithSingleflight makes concurrent resolutions of the same video share one
// strategy run.
func WithSingleflight(enabled bool) Option {
	return func(r *Resolver) { r.dedupe = enabled }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logging.NewComponentLogger(logger, "pipeline") }
}

// New builds a Resolver over strategies, tried in the given order.
func New(strategies []extraction.Strategy, fallbackURL string, opts ...Option) (*Resolver, error) {
	if !extraction.IsPlayableURL(fallbackURL) {
		return nil, fmt.Errorf("fallback url %q is not an http url", fallbackURL)
	}
	seen := make(map[string]struct{}, len(strategies))
	for _, s := range strategies {
		if s == nil {
			return nil, errors.New("nil strategy")
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("strategy %q registered twice", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	r := &Resolver{
		strategies:     append([]extraction.Strategy(nil), strategies...),
		fallbackURL:    fallbackURL,
		attemptTimeout: func(string) time.Duration { return defaultAttemptTimeout },
		stats:          newCounters(),
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// StrategyNames lists the configured strategies in attempt order.
func (r *Resolver) StrategyNames() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Stats returns a snapshot of resolution counters.
func (r *Resolver) Stats() Stats {
	return r.stats.snapshot()
}

// Resolve maps sourceURL to an Outcome. It returns videoref.ErrInvalidURL for
// unparseable input (no strategy runs) and extraction.ErrLaunch when the
// extractor cannot be started at all. Every other failure yields the fallback
// outcome with a nil error.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (Outcome, error) {
	ref, err := videoref.Parse(sourceURL)
	if err != nil {
		return Outcome{}, err
	}
	if !r.dedupe {
		return r.resolve(ctx, ref)
	}

	ch := r.group.DoChan(ref.ID, func() (any, error) {
		// Shared work must outlive any single caller.
		return r.resolve(context.WithoutCancel(ctx), ref)
	})
	select {
	case res := <-ch:
		if res.Shared {
			r.stats.sharedCall()
		}
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, ref videoref.Reference) (Outcome, error) {
	ctx = services.WithVideoID(ctx, ref.ID)
	logger := logging.WithContext(ctx, r.logger)

	if outcome, ok := r.fromCache(ctx, ref).Get(); ok {
		r.stats.resolved(true, false)
		logger.Info("resolved from cache",
			logging.String(logging.FieldEventType, "resolve_cached"),
			logging.String("source", outcome.Strategy),
		)
		return outcome, nil
	}

	titleCh := r.fetchTitleAsync(ctx, ref)
	result, err := r.attempt(ctx, ref)
	fetchedTitle := <-titleCh

	if err != nil {
		if errors.Is(err, extraction.ErrLaunch) {
			logging.ErrorWithContext(logger, "extractor could not be launched", "extractor_launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check extractor.binary permissions and interpreter"),
			)
			return Outcome{}, err
		}
		r.stats.resolved(false, true)
		logging.WarnWithContext(logger, "all strategies failed; serving fallback audio", "resolve_fallback",
			logging.String("attempts", summarizeAttempts(err)),
			logging.String(logging.FieldImpact, "client receives placeholder audio"),
		)
		return Outcome{
			Title:          fetchedTitle,
			Duration:       UnknownDuration,
			AudioURL:       r.fallbackURL,
			IsDirectStream: true,
			Success:        false,
		}, nil
	}

	outcome := merge(result, fetchedTitle)
	r.stats.resolved(false, false)
	if result.IsDirectStream && r.streams != nil {
		rec := streamcache.Record{
			AudioURL: result.AudioURL,
			Strategy: result.Strategy,
			Title:    outcome.Title,
		}
		if d, ok := result.Duration.Get(); ok {
			rec.DurationMS = d.Milliseconds()
		}
		r.streams.Put(ctx, ref.ID, rec)
	}
	logger.Info("resolved audio",
		logging.String(logging.FieldEventType, "resolve_succeeded"),
		logging.String("strategy", outcome.Strategy),
		logging.Bool("direct_stream", outcome.IsDirectStream),
	)
	return outcome, nil
}

func (r *Resolver) fromCache(ctx context.Context, ref videoref.Reference) mo.Option[Outcome] {
	if r.files != nil {
		entry, err := r.files.Lookup(ctx, ref.ID)
		if err != nil {
			logging.WithContext(ctx, r.logger).Warn("file cache lookup failed", logging.Error(err))
		} else if e, ok := entry.Get(); ok {
			title := e.Title
			if title == "" {
				title = r.fetchTitle(ctx, ref)
			}
			duration := mo.None[time.Duration]()
			if e.Duration > 0 {
				duration = mo.Some(e.Duration)
			}
			return mo.Some(Outcome{
				Title:          title,
				Duration:       FormatDuration(duration),
				AudioURL:       r.files.URLFor(ctx, e.FileName),
				IsDirectStream: false,
				Success:        true,
				Strategy:       CacheStrategy,
				Cached:         true,
			})
		}
	}
	if r.streams != nil {
		if rec, ok := r.streams.Get(ctx, ref.ID).Get(); ok && extraction.IsPlayableURL(rec.AudioURL) {
			title := rec.Title
			if title == "" {
				title = r.fetchTitle(ctx, ref)
			}
			return mo.Some(Outcome{
				Title:          title,
				Duration:       FormatDuration(rec.Duration()),
				AudioURL:       rec.AudioURL,
				IsDirectStream: true,
				Success:        true,
				Strategy:       rec.Strategy,
				Cached:         true,
			})
		}
	}
	return mo.None[Outcome]()
}

// attempt runs strategies in order until one returns a playable URL.
func (r *Resolver) attempt(ctx context.Context, ref videoref.Reference) (extraction.Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	var attempts []extraction.AttemptError
	for _, strategy := range r.strategies {
		name := strategy.Name()
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, extraction.AttemptError{Strategy: name, Err: err})
			break
		}
		timeout := r.attemptTimeout(name)
		attemptCtx, cancel := context.WithTimeout(services.WithStrategy(ctx, name), timeout)
		started := time.Now()
		result, err := strategy.Attempt(attemptCtx, ref)
		cancel()
		elapsed := time.Since(started)

		if err == nil && !extraction.IsPlayableURL(result.AudioURL) {
			err = extraction.Failed(name, services.ErrUpstream, "validate", fmt.Sprintf("audio url %q is not http", result.AudioURL), nil)
		}
		if err == nil {
			if result.Strategy == "" {
				result.Strategy = name
			}
			r.stats.attempt(name, "")
			logger.Debug("strategy succeeded",
				logging.String(logging.FieldStrategy, name),
				logging.Duration("elapsed", elapsed),
			)
			return result, nil
		}
		if errors.Is(err, extraction.ErrLaunch) {
			r.stats.attempt(name, "launch")
			return extraction.Result{}, err
		}
		kind := services.FailureKind(err)
		r.stats.attempt(name, kind)
		logger.Info("strategy failed",
			logging.String(logging.FieldEventType, "strategy_failed"),
			logging.String(logging.FieldStrategy, name),
			logging.String("failure", kind),
			logging.Duration("elapsed", elapsed),
			logging.Duration("timeout", timeout),
			logging.Error(err),
		)
		attempts = append(attempts, extraction.AttemptError{Strategy: name, Err: err})
	}
	return extraction.Result{}, &extraction.ExhaustedError{Attempts: attempts}
}

func (r *Resolver) fetchTitleAsync(ctx context.Context, ref videoref.Reference) <-chan string {
	ch := make(chan string, 1)
	go func() {
		ch <- r.fetchTitle(ctx, ref)
	}()
	return ch
}

func (r *Resolver) fetchTitle(ctx context.Context, ref videoref.Reference) string {
	if r.titles == nil {
		return oembed.UnknownTitle
	}
	if title := r.titles.FetchTitle(ctx, ref.SourceURL); title != "" {
		return title
	}
	return oembed.UnknownTitle
}

// merge prefers strategy metadata over the separately fetched title. A title
// hint only fills in for an unknown fetched title.
func merge(result extraction.Result, fetchedTitle string) Outcome {
	title := fetchedTitle
	if hint, ok := result.TitleHint.Get(); ok && title == oembed.UnknownTitle {
		if normalized := textutil.NormalizeTitle(hint); normalized != "" {
			title = normalized
		}
	}
	if t, ok := result.Title.Get(); ok {
		if normalized := textutil.NormalizeTitle(t); normalized != "" {
			title = normalized
		}
	}
	return Outcome{
		Title:          title,
		Duration:       FormatDuration(result.Duration),
		AudioURL:       result.AudioURL,
		IsDirectStream: result.IsDirectStream,
		Success:        true,
		Strategy:       result.Strategy,
	}
}

func summarizeAttempts(err error) string {
	var exhausted *extraction.ExhaustedError
	if !errors.As(err, &exhausted) {
		return err.Error()
	}
	parts := make([]string, 0, len(exhausted.Attempts))
	for _, a := range exhausted.Attempts {
		parts = append(parts, a.Strategy+"="+services.FailureKind(a.Err))
	}
	if len(parts) == 0 {
		return "none configured"
	}
	return strings.Join(parts, ",")
}
