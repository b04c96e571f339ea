package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// CurrentName is the pointer file that always refers to the active run's log.
const CurrentName = "audiorelay.log"

const (
	defaultPoll = 250 * time.Millisecond
	maxLineSize = 1024 * 1024
)

// CurrentPath returns the log pointer inside logDir.
func CurrentPath(logDir string) string {
	return filepath.Join(logDir, CurrentName)
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithFs swaps the filesystem (tests use afero.NewMemMapFs).
func WithFs(fsys afero.Fs) Option {
	return func(t *Tailer) {
		if fsys != nil {
			t.fs = fsys
		}
	}
}

// WithPollInterval sets how often Follow checks for new data.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// Tailer reads complete lines from a growing log file.
type Tailer struct {
	fs   afero.Fs
	path string
	poll time.Duration
}

// NewTailer returns a Tailer for path.
func NewTailer(path string, opts ...Option) *Tailer {
	t := &Tailer{fs: afero.NewOsFs(), path: path, poll: defaultPoll}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Last returns up to n trailing lines and the offset just past them. n <= 0
// returns every line. A missing file yields no lines and offset 0.
func (t *Tailer) Last(n int) ([]string, int64, error) {
	file, err := t.fs.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	var lines []string
	var offset int64
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read log: %w", err)
		}
		offset += int64(len(line))
		lines = append(lines, string(bytes.TrimRight(line, "\r\n")))
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, offset, nil
}

// From returns the complete lines written after offset and the new offset.
// A trailing partial line is left for the next call. If the file is shorter
// than offset it was replaced, and reading restarts at the beginning.
func (t *Tailer) From(offset int64) ([]string, int64, error) {
	info, err := t.fs.Stat(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("stat log: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if offset == info.Size() {
		return nil, offset, nil
	}

	file, err := t.fs.Open(t.path)
	if err != nil {
		return nil, offset, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-offset))
	if err != nil {
		return nil, offset, fmt.Errorf("read log: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		if len(data) > maxLineSize {
			return []string{string(data)}, offset + int64(len(data)), nil
		}
		return nil, offset, nil
	}
	chunk := data[:end]
	lines := make([]string, 0, bytes.Count(chunk, []byte{'\n'})+1)
	for _, line := range bytes.Split(chunk, []byte{'\n'}) {
		lines = append(lines, string(bytes.TrimRight(line, "\r")))
	}
	return lines, offset + int64(end) + 1, nil
}

// Follow calls emit for each new line after offset until ctx is done.
func (t *Tailer) Follow(ctx context.Context, offset int64, emit func(string)) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		lines, next, err := t.From(offset)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
