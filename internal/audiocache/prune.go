package audiocache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"audiorelay/internal/logging"
)

// Stats describes current cache usage.
type Stats struct {
	Entries      int     `json:"entries"`
	TotalBytes   int64   `json:"total_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
	FreeRatio    float64 `json:"free_ratio"`
	MinFreeRatio float64 `json:"min_free_ratio"`
}

// PruneReport summarizes one prune pass.
type PruneReport struct {
	Removed        []string `json:"removed"`
	FreedBytes     int64    `json:"freed_bytes"`
	Remaining      int      `json:"remaining"`
	RemainingBytes int64    `json:"remaining_bytes"`
}

// Prune evicts expired entries, then least-recently-used entries until the
// cache fits max_mib and the filesystem keeps min_free_ratio free.
func (c *Cache) Prune(ctx context.Context) (PruneReport, error) {
	if c == nil {
		return PruneReport{}, nil
	}
	return c.prune(ctx, "")
}

// prune never removes keepID; if limits cannot be met without it an error is
// returned.
func (c *Cache) prune(ctx context.Context, keepID string) (PruneReport, error) {
	var report PruneReport
	entries, err := c.idx.listByAccess(ctx)
	if err != nil {
		return report, fmt.Errorf("audiocache: %w", err)
	}
	now := c.now()

	live := entries[:0]
	for _, entry := range entries {
		if entry.VideoID != keepID && c.expired(entry, now) {
			if err := c.evict(ctx, entry, "expired", &report); err != nil {
				return report, err
			}
			continue
		}
		live = append(live, entry)
	}
	c.sweepPartials(ctx)

	var total int64
	for _, entry := range live {
		total += entry.SizeBytes
	}

	remaining := len(live)
	candidates := live
	keptActive := false
	for {
		freeOK, err := c.freeSpaceOK()
		if err != nil {
			return report, err
		}
		if total <= c.maxBytes && freeOK {
			break
		}
		if len(candidates) == 0 {
			if keptActive {
				report.Remaining, report.RemainingBytes = remaining, total
				return report, fmt.Errorf("audiocache: cache over limits and active entry %q cannot be pruned", keepID)
			}
			break
		}
		oldest := candidates[0]
		candidates = candidates[1:]
		if oldest.VideoID == keepID {
			keptActive = true
			continue
		}
		if err := c.evict(ctx, oldest, "over_limit", &report); err != nil {
			return report, err
		}
		total -= oldest.SizeBytes
		remaining--
	}
	report.Remaining, report.RemainingBytes = remaining, total
	return report, nil
}

func (c *Cache) evict(ctx context.Context, entry Entry, reason string, report *PruneReport) error {
	if err := c.removeEntry(ctx, entry); err != nil {
		return err
	}
	report.Removed = append(report.Removed, entry.VideoID)
	report.FreedBytes += entry.SizeBytes
	c.logger.InfoContext(ctx, "pruned cache entry",
		logging.String("file", entry.FileName),
		logging.String("reason", reason),
		logging.Int64("entry_size_bytes", entry.SizeBytes),
	)
	return nil
}

// sweepPartials removes abandoned partial writes older than an hour.
func (c *Cache) sweepPartials(ctx context.Context) {
	infos, err := afero.ReadDir(c.fs, ".")
	if err != nil {
		return
	}
	cutoff := c.now().Add(-partialMaxAge)
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, partialSuffix) || info.ModTime().After(cutoff) {
			continue
		}
		if err := c.fs.Remove(name); err == nil {
			c.logger.DebugContext(ctx, "removed stale partial file", logging.String("file", name))
		}
	}
}

// Stats returns current cache usage and filesystem free-space info.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if c == nil {
		return s, nil
	}
	entries, err := c.idx.listByAccess(ctx)
	if err != nil {
		return s, fmt.Errorf("audiocache: %w", err)
	}
	totalFS, freeFS, err := c.statfs(c.root)
	if err != nil {
		return s, fmt.Errorf("audiocache: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}
	s = Stats{
		Entries:      len(entries),
		MaxBytes:     c.maxBytes,
		FreeBytes:    freeFS,
		TotalFSBytes: totalFS,
		FreeRatio:    ratio,
		MinFreeRatio: c.minFree,
	}
	for _, entry := range entries {
		s.TotalBytes += entry.SizeBytes
	}
	return s, nil
}

// List returns cached entries, most recently used first.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	if c == nil {
		return nil, nil
	}
	entries, err := c.idx.listByAccess(ctx)
	if err != nil {
		return nil, fmt.Errorf("audiocache: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Remove deletes the entry for id. It reports whether an entry existed.
func (c *Cache) Remove(ctx context.Context, id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()
	entry, err := c.idx.get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("audiocache: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	return true, c.removeEntry(ctx, *entry)
}

// Clear removes every entry and returns how many were deleted.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}
	entries, err := c.idx.listByAccess(ctx)
	if err != nil {
		return 0, fmt.Errorf("audiocache: %w", err)
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if err := c.removeEntry(ctx, entry); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (c *Cache) freeSpaceOK() (bool, error) {
	if c.minFree <= 0 {
		return true, nil
	}
	total, free, err := c.statfs(c.root)
	if err != nil {
		return false, fmt.Errorf("audiocache: statfs: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= c.minFree, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
