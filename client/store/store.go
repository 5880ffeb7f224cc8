// Package store is the client's local durable store: offline records waiting
// for sync and a cache of online responses for offline reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rootapi "farmapp/api"

	"github.com/apex/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type State string

const (
	StatePending State = "pending"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

// Record is one locally generated offline record.
type Record struct {
	ID        string
	Type      rootapi.RecordType
	Payload   json.RawMessage
	CreatedAt time.Time
	State     State
	Attempts  int
	LastError string
	SyncedAt  *time.Time
}

// NewRecord stamps a pending record with a <type>_<unixMillis>_<8 hex> id.
func NewRecord(t rootapi.RecordType, payload json.RawMessage, now time.Time) *Record {
	now = now.UTC().Truncate(time.Millisecond)
	return &Record{
		ID:        fmt.Sprintf("%s_%d_%s", t, now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		Type:      t,
		Payload:   payload,
		CreatedAt: now,
		State:     StatePending,
	}
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises every write.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debugf("Opened local store %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const recordColumns = `id, type, payload, created_at, sync_state, attempts, last_error, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (*Record, error) {
	var (
		rec       Record
		payload   string
		createdAt int64
		lastError sql.NullString
		syncedAt  sql.NullInt64
	)
	if err := r.Scan(&rec.ID, &rec.Type, &payload, &createdAt, &rec.State, &rec.Attempts, &lastError, &syncedAt); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = fromMillis(createdAt)
	rec.LastError = lastError.String
	if syncedAt.Valid {
		t := fromMillis(syncedAt.Int64)
		rec.SyncedAt = &t
	}
	return &rec, nil
}

func (s *Store) PutRecord(ctx context.Context, rec *Record) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("payload of %s is not valid JSON", rec.ID)
	}
	if rec.State == "" {
		rec.State = StatePending
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO offline_records(id, type, payload, created_at, sync_state)
VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), string(rec.Payload), millis(rec.CreatedAt), string(rec.State))
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM offline_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}

// QueuedRecords returns pending and failed records, oldest first. A limit of
// zero or less returns all of them.
func (s *Store) QueuedRecords(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	recs, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM sync_queue ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read sync queue: %w", err)
	}
	return recs, nil
}

// ListRecords lists records in the given state, or all records for "".
func (s *Store) ListRecords(ctx context.Context, state State) ([]*Record, error) {
	var (
		recs []*Record
		err  error
	)
	if state == "" {
		recs, err = s.queryRecords(ctx, `SELECT `+recordColumns+` FROM offline_records ORDER BY created_at ASC, id ASC`)
	} else {
		recs, err = s.queryRecords(ctx, `SELECT `+recordColumns+` FROM offline_records WHERE sync_state = ? ORDER BY created_at ASC, id ASC`, string(state))
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// transition moves a record out of one of the from states. Moving a record
// that already left them is a no-op; an unknown id is ErrNotFound.
func (s *Store) transition(ctx context.Context, id, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	if n == 0 {
		if _, err := s.GetRecord(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkSynced is idempotent. A synced record never goes back to the queue.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, "mark synced", `
UPDATE offline_records SET sync_state = 'synced', synced_at = ?, last_error = NULL
WHERE id = ? AND sync_state IN ('pending', 'failed')`, millis(at), id)
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, "mark failed", `
UPDATE offline_records SET sync_state = 'failed', attempts = attempts + 1, last_error = ?
WHERE id = ? AND sync_state = 'pending'`, reason, id)
}

// MarkRetrying puts a failed record back to pending before a new attempt.
func (s *Store) MarkRetrying(ctx context.Context, id string) error {
	return s.transition(ctx, id, "mark retrying", `
UPDATE offline_records SET sync_state = 'pending'
WHERE id = ? AND sync_state = 'failed'`, id)
}

// PruneSynced deletes synced records created before the cutoff. Pending and
// failed records are never touched.
func (s *Store) PruneSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_records WHERE sync_state = 'synced' AND created_at < ?`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune synced records: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns the number of records per state.
func (s *Store) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM offline_records GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	ret := map[State]int{StatePending: 0, StateSynced: 0, StateFailed: 0}
	for rows.Next() {
		var (
			state State
			cnt   int
		)
		if err := rows.Scan(&state, &cnt); err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
		ret[state] = cnt
	}
	return ret, rows.Err()
}
