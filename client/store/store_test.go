package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	rootapi "farmapp/api"
)

var base = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "farmsync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, ctx
}

func putAt(t *testing.T, s *Store, ctx context.Context, typ rootapi.RecordType, at time.Time) *Record {
	t.Helper()
	rec := NewRecord(typ, json.RawMessage(`{"crop":"tomato"}`), at)
	if err := s.PutRecord(ctx, rec); err != nil {
		t.Fatalf("put record: %v", err)
	}
	return rec
}

func TestNewRecordID(t *testing.T) {
	rec := NewRecord(rootapi.RecordDiagnosis, json.RawMessage(`{}`), base.Add(123456*time.Microsecond))
	if !regexp.MustCompile(`^diagnosis_1710498600123_[0-9a-f]{8}$`).MatchString(rec.ID) {
		t.Errorf("unexpected id %s", rec.ID)
	}
	if rec.State != StatePending || !rec.CreatedAt.Equal(base.Add(123*time.Millisecond)) {
		t.Errorf("unexpected record %+v", rec)
	}
	if other := NewRecord(rootapi.RecordDiagnosis, json.RawMessage(`{}`), base); other.ID == rec.ID {
		t.Errorf("expected distinct ids")
	}
}

func TestMigrationsAreRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmsync.db")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		s.Close()
	}
}

func TestPutAndGetRecord(t *testing.T) {
	s, ctx := openTemp(t)
	rec := putAt(t, s, ctx, rootapi.RecordMarket, base)

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Type != rootapi.RecordMarket || got.State != StatePending || !got.CreatedAt.Equal(base) || string(got.Payload) != `{"crop":"tomato"}` {
		t.Errorf("unexpected record %+v", got)
	}
	if _, err := s.GetRecord(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutRecord(ctx, &Record{ID: "x", Type: "weather", Payload: json.RawMessage(`{}`)}); err == nil {
		t.Errorf("expected an unknown type to be rejected")
	}
	if err := s.PutRecord(ctx, rec); err == nil {
		t.Errorf("expected a duplicate id to be rejected")
	}
}

func TestQueueTransitions(t *testing.T) {
	s, ctx := openTemp(t)
	newer := putAt(t, s, ctx, rootapi.RecordIrrigation, base.Add(time.Minute))
	older := putAt(t, s, ctx, rootapi.RecordDiagnosis, base)
	third := putAt(t, s, ctx, rootapi.RecordUserData, base.Add(2*time.Minute))

	queue, err := s.QueuedRecords(ctx, 0)
	if err != nil {
		t.Fatalf("queued records: %v", err)
	}
	if len(queue) != 3 || queue[0].ID != older.ID || queue[1].ID != newer.ID {
		t.Fatalf("expected oldest first, got %v", ids(queue))
	}

	if err := s.MarkSynced(ctx, older.ID, base.Add(time.Hour)); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := s.MarkFailed(ctx, newer.ID, "status 500"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Synced never goes back: both calls are no-ops.
	if err := s.MarkFailed(ctx, older.ID, "late failure"); err != nil {
		t.Errorf("mark failed on synced: %v", err)
	}
	if err := s.MarkRetrying(ctx, older.ID); err != nil {
		t.Errorf("mark retrying on synced: %v", err)
	}
	if err := s.MarkSynced(ctx, older.ID, base.Add(2*time.Hour)); err != nil {
		t.Errorf("mark synced twice: %v", err)
	}
	got, _ := s.GetRecord(ctx, older.ID)
	if got.State != StateSynced || got.SyncedAt == nil || !got.SyncedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected synced record %+v", got)
	}

	failed, _ := s.GetRecord(ctx, newer.ID)
	if failed.State != StateFailed || failed.Attempts != 1 || failed.LastError != "status 500" {
		t.Errorf("unexpected failed record %+v", failed)
	}

	// Failed records stay in the queue.
	queue, _ = s.QueuedRecords(ctx, 0)
	if len(queue) != 2 || queue[0].ID != newer.ID || queue[1].ID != third.ID {
		t.Errorf("unexpected queue %v", ids(queue))
	}
	if queue, _ = s.QueuedRecords(ctx, 1); len(queue) != 1 {
		t.Errorf("expected the limit to apply, got %d", len(queue))
	}

	if err := s.MarkRetrying(ctx, newer.ID); err != nil {
		t.Fatalf("mark retrying: %v", err)
	}
	if got, _ := s.GetRecord(ctx, newer.ID); got.State != StatePending {
		t.Errorf("expected pending after retry, got %s", got.State)
	}

	if err := s.MarkSynced(ctx, "nope", base); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[StatePending] != 2 || counts[StateSynced] != 1 || counts[StateFailed] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}
	if synced, _ := s.ListRecords(ctx, StateSynced); len(synced) != 1 || synced[0].ID != older.ID {
		t.Errorf("unexpected synced list %v", ids(synced))
	}
	if all, _ := s.ListRecords(ctx, ""); len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}
}

func TestPruneSyncedOnly(t *testing.T) {
	s, ctx := openTemp(t)
	oldSynced := putAt(t, s, ctx, rootapi.RecordDiagnosis, base.Add(-10*24*time.Hour))
	oldPending := putAt(t, s, ctx, rootapi.RecordDiagnosis, base.Add(-10*24*time.Hour))
	oldFailed := putAt(t, s, ctx, rootapi.RecordMarket, base.Add(-10*24*time.Hour))
	newSynced := putAt(t, s, ctx, rootapi.RecordDiagnosis, base.Add(-time.Hour))

	s.MarkSynced(ctx, oldSynced.ID, base)
	s.MarkSynced(ctx, newSynced.ID, base)
	s.MarkFailed(ctx, oldFailed.ID, "timeout")

	n, err := s.PruneSynced(ctx, base.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}
	if _, err := s.GetRecord(ctx, oldSynced.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected the old synced record to be gone, got %v", err)
	}
	for _, id := range []string{oldPending.ID, oldFailed.ID, newSynced.ID} {
		if _, err := s.GetRecord(ctx, id); err != nil {
			t.Errorf("expected %s to survive: %v", id, err)
		}
	}
}

func TestResponseCache(t *testing.T) {
	s, ctx := openTemp(t)
	sig := "GET /api/v1/weather?lat=18.52&lon=73.85"

	if _, err := s.CacheGet(ctx, sig, time.Hour, base); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a miss, got %v", err)
	}
	if err := s.CachePut(ctx, sig, []byte(`{"temp":30}`), 200, base); err != nil {
		t.Fatalf("cache put: %v", err)
	}
	if err := s.CachePut(ctx, sig, []byte(`{"temp":31}`), 200, base.Add(time.Minute)); err != nil {
		t.Fatalf("cache overwrite: %v", err)
	}

	got, err := s.CacheGet(ctx, sig, time.Hour, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if string(got.Body) != `{"temp":31}` || got.Status != 200 {
		t.Errorf("unexpected entry %+v", got)
	}
	if _, err := s.CacheGet(ctx, sig, time.Hour, base.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a stale entry to miss, got %v", err)
	}

	n, err := s.CacheEvict(ctx, base.Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("expected 1 evicted entry, got %d, %v", n, err)
	}
}

func ids(recs []*Record) []string {
	ret := []string{}
	for _, r := range recs {
		ret = append(ret, r.ID)
	}
	return ret
}
