package audiocache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly. Older
// indexes are rebuilt with `audiorelay cache clear`.
const schemaVersion = 1

// ErrSchemaMismatch indicates the index was created by an incompatible build.
var ErrSchemaMismatch = errors.New("cache index schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

type index struct {
	db *sql.DB
}

func openIndex(ctx context.Context, path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	idx := &index{db: db}
	if err := idx.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *index) close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

func (i *index) initSchema(ctx context.Context) error {
	var tableExists int
	err := i.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return i.createSchema(ctx)
	}
	var version int
	if err := i.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: index has version %d, expected %d (run 'audiorelay cache clear' or delete the index)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (i *index) createSchema(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const entryColumns = "video_id, file_name, title, duration_ms, size_bytes, sha256, created_at, accessed_at"

func (i *index) get(ctx context.Context, id string) (*Entry, error) {
	row := i.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM audio_entries WHERE video_id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return entry, nil
}

func (i *index) getByFile(ctx context.Context, fileName string) (*Entry, error) {
	row := i.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM audio_entries WHERE file_name = ?", fileName)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry for %s: %w", fileName, err)
	}
	return entry, nil
}

// listByAccess returns entries least recently used first.
func (i *index) listByAccess(ctx context.Context) ([]Entry, error) {
	rows, err := i.db.QueryContext(ctx, "SELECT "+entryColumns+" FROM audio_entries ORDER BY accessed_at ASC, video_id ASC")
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (i *index) upsert(ctx context.Context, e Entry) error {
	return i.exec(ctx,
		`INSERT INTO audio_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(video_id) DO UPDATE SET
            file_name = excluded.file_name,
            title = excluded.title,
            duration_ms = excluded.duration_ms,
            size_bytes = excluded.size_bytes,
            sha256 = excluded.sha256,
            created_at = excluded.created_at,
            accessed_at = excluded.accessed_at`,
		e.VideoID,
		e.FileName,
		e.Title,
		e.Duration.Milliseconds(),
		e.SizeBytes,
		e.SHA256,
		formatTime(e.CreatedAt),
		formatTime(e.AccessedAt),
	)
}

func (i *index) touch(ctx context.Context, id string, at time.Time) error {
	return i.exec(ctx, "UPDATE audio_entries SET accessed_at = ? WHERE video_id = ?", formatTime(at), id)
}

func (i *index) delete(ctx context.Context, id string) error {
	return i.exec(ctx, "DELETE FROM audio_entries WHERE video_id = ?", id)
}

func (i *index) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := i.db.ExecContext(ctx, query, args...)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e          Entry
		durationMS int64
		created    string
		accessed   string
	)
	if err := row.Scan(&e.VideoID, &e.FileName, &e.Title, &durationMS, &e.SizeBytes, &e.SHA256, &created, &accessed); err != nil {
		return nil, err
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.CreatedAt = parseTime(created)
	e.AccessedAt = parseTime(accessed)
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
