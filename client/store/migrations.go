package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type migration struct {
	version int
	sql     string
}

// Times are unix milliseconds so that ordering and cutoffs compare as integers.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS offline_records(
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL CHECK (type IN ('diagnosis', 'irrigation', 'market', 'user_data')),
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	sync_state TEXT NOT NULL DEFAULT 'pending' CHECK (sync_state IN ('pending', 'synced', 'failed')),
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	synced_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_offline_records_type ON offline_records(type);
CREATE INDEX IF NOT EXISTS idx_offline_records_created_at ON offline_records(created_at);
CREATE INDEX IF NOT EXISTS idx_offline_records_sync_state ON offline_records(sync_state);
CREATE INDEX IF NOT EXISTS idx_offline_records_pending ON offline_records(created_at) WHERE sync_state <> 'synced';

CREATE VIEW IF NOT EXISTS sync_queue AS
	SELECT id, type, payload, created_at, sync_state, attempts, last_error, synced_at
	FROM offline_records
	WHERE sync_state IN ('pending', 'failed');
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS response_cache(
	signature TEXT PRIMARY KEY,
	body BLOB NOT NULL,
	status INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_created_at ON response_cache(created_at);
`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
