package extraction

import (
	"errors"
	"fmt"

	"audiorelay/internal/services"
)

var (
	// ErrStrategyFailed marks a recoverable attempt failure; the pipeline moves
	// on to the next strategy.
	ErrStrategyFailed = errors.New("strategy failed")
	// ErrExhausted marks a resolution where every strategy failed.
	ErrExhausted = errors.New("all strategies failed")
	// ErrLaunch marks a host-level failure to start an extractor process. It
	// aborts the resolution instead of degrading to the fallback clip.
	ErrLaunch = errors.New("extractor launch failed")
)

// AttemptError captures one strategy attempt failure.
type AttemptError struct {
	Strategy string
	Err      error
}

func (e *AttemptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("strategy %s failed", e.Strategy)
	}
	return fmt.Sprintf("strategy %s failed: %v", e.Strategy, e.Err)
}

func (e *AttemptError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStrategyFailed}
	}
	return []error{ErrStrategyFailed, e.Err}
}

// Failed builds an AttemptError tagged with a services marker so callers can
// classify the failure with services.FailureKind.
func Failed(strategy string, marker error, operation, message string, err error) error {
	return &AttemptError{
		Strategy: strategy,
		Err:      services.Wrap(marker, "", operation, message, err),
	}
}

// ExhaustedError is returned when no strategy produced a playable URL.
type ExhaustedError struct {
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all strategies failed: no strategies configured"
	}
	return fmt.Sprintf("all strategies failed: %d attempt(s)", len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// LaunchError wraps a failure to start an extractor process.
func LaunchError(binary string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLaunch, binary, err)
}
