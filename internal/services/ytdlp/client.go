package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/semaphore"

	"audiorelay/internal/extraction"
	"audiorelay/internal/logging"
	"audiorelay/internal/services"
	"audiorelay/internal/videoref"
)

// Name is the strategy name used in pipeline.order.
const Name = "ytdlp"

const stderrTailLines = 5

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, Name)
	}
}

// WithFFmpeg sets the ffmpeg binary handed to yt-dlp for audio conversion.
func WithFFmpeg(binary string) Option {
	return func(c *Client) {
		if binary = strings.TrimSpace(binary); binary != "" {
			c.ffmpeg = binary
		}
	}
}

// WithAudioFormat sets the post-processing target format for downloads.
func WithAudioFormat(format string) Option {
	return func(c *Client) {
		if format = strings.TrimSpace(format); format != "" {
			c.audioFormat = format
		}
	}
}

// WithMaxConcurrent bounds how many yt-dlp processes run at once.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithFatalLaunchErrors controls whether host-level launch failures abort the
// resolution (true) or degrade like any other attempt failure (false).
func WithFatalLaunchErrors(fatal bool) Option {
	return func(c *Client) {
		c.fatalLaunch = fatal
	}
}

// Client wraps yt-dlp CLI interactions.
type Client struct {
	binary      string
	ffmpeg      string
	audioFormat string
	timeout     time.Duration
	exec        Executor
	slots       *semaphore.Weighted
	fatalLaunch bool
	logger      *slog.Logger
}

// New constructs a yt-dlp client. timeoutSeconds is the hard wall-clock limit
// for a single process; on expiry the process group is killed.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	client := &Client{
		binary:      binary,
		ffmpeg:      "ffmpeg",
		audioFormat: "mp3",
		timeout:     time.Duration(timeoutSeconds) * time.Second,
		exec:        commandExecutor{},
		slots:       semaphore.NewWeighted(4),
		fatalLaunch: true,
		logger:      logging.NewComponentLogger(nil, Name),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Request describes one yt-dlp invocation.
type Request struct {
	Ref     videoref.Reference
	Profile Profile
	Mode    Mode
	// Dir receives <id>.<ext> and <id>.info.json in download mode.
	Dir string
}

// Outcome is the parsed result of a successful invocation.
type Outcome struct {
	Profile  string
	AudioURL string
	FilePath string
	Sidecar  mo.Option[Sidecar]
}

// Run executes yt-dlp once for the given profile. Failures match
// extraction.ErrStrategyFailed, except launch failures when the client is
// configured to treat them as fatal, which match extraction.ErrLaunch.
func (c *Client) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return Outcome{}, extraction.Failed(Name, services.ErrTimeout, "acquire", "waiting for extractor slot", err)
	}
	defer c.slots.Release(1)

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var args []string
	switch req.Mode {
	case ModeDownload:
		if req.Dir == "" {
			return Outcome{}, extraction.Failed(Name, services.ErrConfiguration, "prepare", "download directory required", nil)
		}
		args = c.downloadArgs(req.Profile, req.Ref.Canonical(), req.Dir, req.Ref.ID)
	default:
		args = c.streamArgs(req.Profile, req.Ref.Canonical())
	}

	var stdout, stderr []string
	start := time.Now()
	err := c.exec.Run(runCtx, c.binary, args,
		func(line string) { stdout = append(stdout, line) },
		func(line string) {
			stderr = append(stderr, line)
			if len(stderr) > stderrTailLines {
				stderr = stderr[1:]
			}
		},
	)
	c.logger.Debug("yt-dlp finished",
		logging.String(logging.FieldVideoID, req.Ref.ID),
		logging.String("profile", req.Profile.Name),
		logging.Duration("elapsed", time.Since(start)),
		logging.Int("stdout_lines", len(stdout)),
	)
	if err != nil {
		return Outcome{}, c.classify(ctx, runCtx, err, stderr)
	}

	outcome := Outcome{Profile: req.Profile.Name, Sidecar: mo.None[Sidecar]()}
	if req.Mode == ModeDownload {
		path, ok := findOutputFile(req.Dir, req.Ref.ID)
		if !ok {
			return Outcome{}, extraction.Failed(Name, services.ErrNotFound, "collect", "yt-dlp exited cleanly but produced no audio file", nil)
		}
		outcome.FilePath = path
		outcome.Sidecar = readSidecar(req.Dir, req.Ref.ID)
		return outcome, nil
	}

	audioURL, parseErr := ParseStreamOutput(stdout).Get()
	if parseErr != nil {
		return Outcome{}, extraction.Failed(Name, services.ErrExternalTool, "parse", "yt-dlp printed no stream url", parseErr)
	}
	outcome.AudioURL = audioURL
	return outcome, nil
}

func (c *Client) classify(ctx, runCtx context.Context, err error, stderr []string) error {
	// exec.Cmd.Start reports an expired context as a start failure, so the
	// deadline checks run before launch classification.
	if ctx.Err() != nil {
		return extraction.Failed(Name, services.ErrTimeout, "run", "attempt cancelled", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return extraction.Failed(Name, services.ErrTimeout, "run", fmt.Sprintf("killed after %s", c.timeout), err)
	}
	if errors.Is(err, ErrStart) {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return extraction.Failed(Name, services.ErrNotFound, "start", c.binary+" not found", err)
		}
		if c.fatalLaunch {
			return extraction.LaunchError(c.binary, err)
		}
		return extraction.Failed(Name, services.ErrExternalTool, "start", "could not launch "+c.binary, err)
	}
	return extraction.Failed(Name, services.ErrExternalTool, "run", strings.Join(stderr, " | "), err)
}
