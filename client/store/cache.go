package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type CachedResponse struct {
	Signature string
	Body      []byte
	Status    int
	CreatedAt time.Time
}

func (s *Store) CachePut(ctx context.Context, signature string, body []byte, status int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO response_cache(signature, body, status, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(signature) DO UPDATE SET
	body = excluded.body,
	status = excluded.status,
	created_at = excluded.created_at`, signature, body, status, millis(at))
	if err != nil {
		return fmt.Errorf("cache %s: %w", signature, err)
	}
	return nil
}

// CacheGet returns the entry if it is younger than maxAge at now, else ErrNotFound.
func (s *Store) CacheGet(ctx context.Context, signature string, maxAge time.Duration, now time.Time) (*CachedResponse, error) {
	resp := &CachedResponse{Signature: signature}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT body, status, created_at FROM response_cache WHERE signature = ?`, signature).
		Scan(&resp.Body, &resp.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", signature, err)
	}
	resp.CreatedAt = fromMillis(createdAt)
	if now.Sub(resp.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	return resp, nil
}

func (s *Store) CacheEvict(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE created_at < ?`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("evict cache: %w", err)
	}
	return res.RowsAffected()
}
