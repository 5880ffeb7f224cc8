package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"farmapp/common"
)

type AnalyticsStore struct {
	db *sql.DB
}

func NewAnalyticsStore(db *sql.DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Log appends an event. There is no dedup, a replayed event is logged twice.
func (s *AnalyticsStore) Log(ctx context.Context, userID, eventType string, data map[string]any, eventTime time.Time) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO analytics_events (user_id, event_type, data, event_time)
		VALUES (?, ?, ?, ?)`, userID, eventType, string(b), eventTime)
	common.LogResult("logAnalytics", result, err, true)
	return err
}
