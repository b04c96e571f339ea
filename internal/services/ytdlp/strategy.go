package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"audiorelay/internal/extraction"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/textutil"
	"audiorelay/internal/videoref"
)

// Publisher stores a downloaded file and returns the absolute URL clients use
// to fetch it.
type Publisher interface {
	Publish(ctx context.Context, id, path, title string, duration time.Duration) (string, error)
}

// StrategyConfig configures the profile-iterating strategy.
type StrategyConfig struct {
	Profiles []Profile
	Mode     Mode
	// WorkDir holds per-attempt scratch directories in download mode.
	WorkDir   string
	Publisher Publisher
}

// Strategy tries each client profile in order until one yields audio.
type Strategy struct {
	client *Client
	cfg    StrategyConfig
	logger *slog.Logger
}

// NewStrategy builds the subprocess extraction strategy.
func NewStrategy(client *Client, cfg StrategyConfig, logger *slog.Logger) (*Strategy, error) {
	if client == nil {
		return nil, errors.New("yt-dlp client required")
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []Profile{{Name: "default"}}
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}
	if cfg.Mode == ModeDownload && (cfg.WorkDir == "" || cfg.Publisher == nil) {
		return nil, errors.New("download mode requires a work directory and publisher")
	}
	return &Strategy{client: client, cfg: cfg, logger: logging.NewComponentLogger(logger, Name)}, nil
}

func (s *Strategy) Name() string { return Name }

// Attempt runs yt-dlp once per profile. A fatal launch error ends the attempt
// immediately because every other profile would hit the same host problem.
func (s *Strategy) Attempt(ctx context.Context, ref videoref.Reference) (extraction.Result, error) {
	if s.cfg.Mode == ModeDownload && !textutil.IsSafeToken(ref.ID) {
		return extraction.Result{}, extraction.Failed(Name, services.ErrValidation, "prepare", fmt.Sprintf("video id %q is not usable as a file name", ref.ID), nil)
	}
	logger := logging.WithContext(ctx, s.logger)

	var failures []error
	for _, profile := range s.cfg.Profiles {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		result, err := s.attemptProfile(ctx, ref, profile)
		if err == nil {
			logger.Info("profile succeeded", logging.String("profile", profile.Name), logging.Bool("direct_stream", result.IsDirectStream))
			return result, nil
		}
		if errors.Is(err, extraction.ErrLaunch) {
			return extraction.Result{}, err
		}
		logger.Debug("profile failed",
			logging.String("profile", profile.Name),
			logging.String("failure", services.FailureKind(err)),
			logging.Error(err),
		)
		failures = append(failures, err)
		// A missing binary fails identically for every profile.
		if errors.Is(err, services.ErrNotFound) && isStartFailure(err) {
			break
		}
	}
	marker := services.ErrExternalTool
	if len(failures) > 0 && errors.Is(failures[len(failures)-1], services.ErrTimeout) {
		marker = services.ErrTimeout
	}
	return extraction.Result{}, extraction.Failed(Name, marker, "profiles", fmt.Sprintf("%d profile(s) failed", len(failures)), errors.Join(failures...))
}

func (s *Strategy) attemptProfile(ctx context.Context, ref videoref.Reference, profile Profile) (extraction.Result, error) {
	if s.cfg.Mode != ModeDownload {
		outcome, err := s.client.Run(ctx, Request{Ref: ref, Profile: profile, Mode: ModeStream})
		if err != nil {
			return extraction.Result{}, err
		}
		return extraction.Result{
			AudioURL:       outcome.AudioURL,
			IsDirectStream: true,
			Strategy:       Name,
		}, nil
	}

	if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
		return extraction.Result{}, extraction.Failed(Name, services.ErrConfiguration, "prepare", "create work directory", err)
	}
	dir, err := os.MkdirTemp(s.cfg.WorkDir, ref.ID+"-")
	if err != nil {
		return extraction.Result{}, extraction.Failed(Name, services.ErrConfiguration, "prepare", "create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	outcome, err := s.client.Run(ctx, Request{Ref: ref, Profile: profile, Mode: ModeDownload, Dir: dir})
	if err != nil {
		return extraction.Result{}, err
	}

	result := extraction.Result{Strategy: Name}
	var title string
	var duration time.Duration
	if sidecar, ok := outcome.Sidecar.Get(); ok {
		result.Title = sidecar.Title
		result.Duration = sidecar.Duration
		title = sidecar.Title.OrEmpty()
		duration = sidecar.Duration.OrEmpty()
	}
	audioURL, err := s.cfg.Publisher.Publish(ctx, ref.ID, outcome.FilePath, title, duration)
	if err != nil {
		return extraction.Result{}, extraction.Failed(Name, services.ErrTransient, "publish", "store downloaded audio", err)
	}
	result.AudioURL = audioURL
	return result, nil
}

func isStartFailure(err error) bool {
	var attempt *extraction.AttemptError
	return errors.As(err, &attempt) && errors.Is(err, ErrStart)
}
