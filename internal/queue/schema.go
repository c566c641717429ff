package queue

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver — no cgo toolchain required at build time.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// schemaDDL creates the logical shape this core owns. Migration authoring
// beyond this is explicitly out of scope (§1); this is idempotent bootstrap,
// not a migration tool.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS crawl_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	domain      TEXT NOT NULL,
	url         TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'Queued',
	num_retries INTEGER NOT NULL DEFAULT 0,
	crawl_type  TEXT NOT NULL DEFAULT 'Normal',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS crawl_queue_url_idx ON crawl_queue(url);
CREATE INDEX IF NOT EXISTS crawl_queue_status_idx ON crawl_queue(status);
CREATE INDEX IF NOT EXISTS crawl_queue_domain_idx ON crawl_queue(domain);

CREATE TABLE IF NOT EXISTS indexed_document (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	url    TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS indexed_document_url_idx ON indexed_document(url);
CREATE INDEX IF NOT EXISTS indexed_document_domain_idx ON indexed_document(domain);
`

// openDB opens (and, for a fresh file, creates) the SQLite database at dsn
// and bootstraps the logical schema.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}

	// SQLite allows exactly one writer; a single shared connection avoids
	// "database is locked" errors under the concurrent workers §5 describes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: bootstrap schema: %w", err)
	}

	return db, nil
}
