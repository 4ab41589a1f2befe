package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrInvalidTransition is returned when a status change violates the job
// state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// Open initializes or connects to the queue database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// NewItem enqueues a source file for processing.
func (s *Store) NewItem(ctx context.Context, sourcePath, languageCode string) (*Item, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	languageCode = strings.TrimSpace(languageCode)
	if languageCode == "" {
		languageCode = "en"
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (source_path, language, status, progress_percent, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?)`,
		sourcePath,
		languageCode,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier, nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// List returns queue items, optionally filtered by status, oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			if _, ok := statusSet[status]; !ok {
				return nil, fmt.Errorf("unknown status %q", status)
			}
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Transition moves an item from one status to another, enforcing the state
// machine. The read-check-write runs inside one transaction so concurrent
// workers cannot race a terminal state.
func (s *Store) Transition(ctx context.Context, id int64, to Status) error {
	if _, ok := statusSet[to]; !ok {
		return fmt.Errorf("unknown status %q", to)
	}
	return retryOnBusy(ensureContext(ctx), func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current Status
		if err := tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("item %d not found", id)
			}
			return fmt.Errorf("read status: %w", err)
		}
		if !isValidTransition(current, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ?`,
			to, time.Now().UTC().Format(time.RFC3339Nano), id,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return tx.Commit()
	})
}

// UpdateProgress records stage progress for an in-flight item. Percent is
// clamped to [0, 100].
func (s *Store) UpdateProgress(ctx context.Context, id int64, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET progress_percent = MAX(progress_percent, ?), progress_message = ?, updated_at = ? WHERE id = ?`,
		percent,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted transitions an item to completed and records its artifact.
func (s *Store) MarkCompleted(ctx context.Context, id int64, artifactPath string) error {
	if err := s.Transition(ctx, id, StatusCompleted); err != nil {
		return err
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET artifact_path = ?, progress_percent = 100, error_message = NULL, updated_at = ? WHERE id = ?`,
		nullableString(artifactPath),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// MarkFailed transitions an item to failed with the given error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	if err := s.Transition(ctx, id, StatusFailed); err != nil {
		return err
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET error_message = ?, updated_at = ? WHERE id = ?`,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Clear removes all queue items.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed items.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing returns items stranded in a processing state (for
// example after a crash) back to pending for a fresh run.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	statuses := make([]string, 0, len(processingStatuses))
	args := []any{StatusPending, time.Now().UTC().Format(time.RFC3339Nano)}
	for status := range processingStatuses {
		statuses = append(statuses, "?")
		args = append(args, status)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, progress_percent = 0, progress_message = NULL, updated_at = ?
         WHERE status IN (`+strings.Join(statuses, ", ")+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return res.RowsAffected()
}

// Health returns aggregate queue diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan health row: %w", err)
		}
		summary.Total += count
		switch {
		case status == StatusPending:
			summary.Pending += count
		case status.IsProcessing():
			summary.Processing += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusCancelled:
			summary.Cancelled += count
		}
	}
	return summary, rows.Err()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

const itemColumns = `id, source_path, language, status, progress_percent, progress_message, artifact_path, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item            Item
		progressMessage sql.NullString
		artifactPath    sql.NullString
		errorMessage    sql.NullString
		createdAt       string
		updatedAt       string
	)
	if err := row.Scan(
		&item.ID,
		&item.SourcePath,
		&item.Language,
		&item.Status,
		&item.Progress,
		&progressMessage,
		&artifactPath,
		&errorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	item.ProgressMessage = progressMessage.String
	item.ArtifactPath = artifactPath.String
	item.ErrorMessage = errorMessage.String
	item.CreatedAt = parseTimestamp(createdAt)
	item.UpdatedAt = parseTimestamp(updatedAt)
	return &item, nil
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func nullableString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
