package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Store is the persistent queue table (C4). It knows nothing about
// admission, duplicate suppression, or priority — those are layered on top
// in admission.go, dedup.go, and scheduler.go.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at dsn and returns
// a Store bootstrapped with the logical schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "queue_store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMany bulk-inserts tasks as Queued rows. Per the unique constraint on
// url (the authoritative duplicate barrier — §4.3), a conflicting row is
// silently skipped rather than failing the whole batch (§5).
func (s *Store) InsertMany(ctx context.Context, tasks []CrawlTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageFault("insert_many", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crawl_queue (domain, url, status, num_retries, crawl_type, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`)
	if err != nil {
		return storageFault("insert_many", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tasks {
		status := t.Status
		if status == "" {
			status = StatusQueued
		}
		crawlType := t.CrawlType
		if crawlType == "" {
			crawlType = CrawlTypeNormal
		}
		if _, err := stmt.ExecContext(ctx, t.Domain, t.URL, status, crawlType, now, now); err != nil {
			// A per-row fault is logged and skipped rather than aborting the
			// batch; URL conflicts never get here (ON CONFLICT DO NOTHING).
			s.logger.Warn("insert_many: row failed, continuing", "url", t.URL, "error", err)
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return storageFault("insert_many", err)
	}
	return nil
}

// FindByURL returns the task with the given URL, or ErrNotFound.
func (s *Store) FindByURL(ctx context.Context, url string) (CrawlTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, url, status, num_retries, crawl_type, created_at, updated_at
		FROM crawl_queue WHERE url = ?
	`, url)
	return scanTask(row)
}

// FindByID returns the task with the given ID, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id int64) (CrawlTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, url, status, num_retries, crawl_type, created_at, updated_at
		FROM crawl_queue WHERE id = ?
	`, id)
	return scanTask(row)
}

// CountByStatus returns how many rows currently have the given status.
func (s *Store) CountByStatus(ctx context.Context, status CrawlStatus) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM crawl_queue WHERE status = ?`, status,
	).Scan(&count)
	if err != nil {
		return 0, storageFault("count_by_status", err)
	}
	return count, nil
}

// TaskPatch describes the mutable fields Update may change. Zero-value
// pointers leave the corresponding column untouched.
type TaskPatch struct {
	Status     *CrawlStatus
	NumRetries *uint8
}

// Update applies patch to the row identified by id, refreshing updated_at.
// It returns a *StorageError wrapping ErrNotFound if no row has that id.
func (s *Store) Update(ctx context.Context, id int64, patch TaskPatch) error {
	var sets []string
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.NumRetries != nil {
		sets = append(sets, "num_retries = ?")
		args = append(args, *patch.NumRetries)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE crawl_queue SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageFault("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageFault("update", err)
	}
	if n == 0 {
		return storageFault("update", ErrNotFound)
	}
	return nil
}

// claimQueued is the race-closing conditional update from §5: it flips a
// Queued row to Processing only if it is still Queued, returning whether the
// claim succeeded. A worker that loses the race (0 rows affected) must
// re-dequeue rather than proceed with a task another worker now owns.
func (s *Store) claimQueued(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, StatusProcessing, time.Now().UTC(), id, StatusQueued)
	if err != nil {
		return false, storageFault("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageFault("claim", err)
	}
	return n == 1, nil
}

// ResetProcessing sets every Processing row back to Queued. This is the
// sole legal way to move Processing→Queued without a completion signal; it
// recovers from worker or process crashes (§4.6, §5).
func (s *Store) ResetProcessing(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_queue SET status = ?, updated_at = ? WHERE status = ?
	`, StatusQueued, time.Now().UTC(), StatusProcessing)
	if err != nil {
		return storageFault("reset_processing", err)
	}
	return nil
}

// URLsPresent returns the subset of urls that already exist as a row in
// crawl_queue, regardless of status. Used by the duplicate gate (C3).
func (s *Store) URLsPresent(ctx context.Context, urls []string) (map[string]struct{}, error) {
	return urlsIn(ctx, s.db, "crawl_queue", urls)
}

// IndexedURLsPresent returns the subset of urls already present in
// indexed_document. Used by the duplicate gate (C3).
func (s *Store) IndexedURLsPresent(ctx context.Context, urls []string) (map[string]struct{}, error) {
	return urlsIn(ctx, s.db, "indexed_document", urls)
}

// RecordIndexed inserts rows into indexed_document. This core does not call
// it itself in the enqueue/dequeue/retry path (indexed_document is owned by
// the full-text-index subsystem); within this module only tests call it, to
// populate the table the scheduler and duplicate gate read from.
func (s *Store) RecordIndexed(ctx context.Context, docs []IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageFault("record_indexed", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indexed_document (domain, url) VALUES (?, ?) ON CONFLICT(url) DO NOTHING
	`)
	if err != nil {
		return storageFault("record_indexed", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.Domain, d.URL); err != nil {
			s.logger.Warn("record_indexed: row failed, continuing", "url", d.URL, "error", err)
		}
	}
	return storageFault("record_indexed", tx.Commit())
}

func urlsIn(ctx context.Context, db *sql.DB, table string, urls []string) (map[string]struct{}, error) {
	present := make(map[string]struct{}, len(urls))
	if len(urls) == 0 {
		return present, nil
	}

	placeholders := make([]string, len(urls))
	args := make([]any, len(urls))
	for i, u := range urls {
		placeholders[i] = "?"
		args[i] = u
	}

	query := fmt.Sprintf("SELECT url FROM %s WHERE url IN (%s)", table, strings.Join(placeholders, ","))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageFault("urls_in:"+table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, storageFault("urls_in:"+table, err)
		}
		present[u] = struct{}{}
	}
	return present, storageFault("urls_in:"+table, rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (CrawlTask, error) {
	var t CrawlTask
	err := row.Scan(&t.ID, &t.Domain, &t.URL, &t.Status, &t.NumRetries, &t.CrawlType, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CrawlTask{}, ErrNotFound
	}
	if err != nil {
		return CrawlTask{}, storageFault("scan_task", err)
	}
	return t, nil
}
