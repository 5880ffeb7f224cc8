package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"farmapp/common"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrUserNotFound = errors.New("user not found")
)

type Diagnosis struct {
	ID               int64
	UserID           string
	Crop             string
	Disease          string
	Confidence       float64
	Severity         string
	Description      string
	Symptoms         []string
	Treatment        []string
	Prevention       []string
	Location         json.RawMessage
	Weather          json.RawMessage
	Feedback         json.RawMessage
	IsOffline        bool
	ProcessingTimeMs int64
	ModelVersion     string
	CreatedAt        time.Time
}

type DiagnosisStore struct {
	db *sql.DB
}

func NewDiagnosisStore(db *sql.DB) *DiagnosisStore {
	return &DiagnosisStore{db: db}
}

// FindDuplicate looks a diagnosis up by its sync dedup key.
func (s *DiagnosisStore) FindDuplicate(ctx context.Context, userID string, createdAt time.Time, disease string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM crop_diagnoses
		WHERE user_id = ? AND created_at = ? AND disease = ?`,
		userID, createdAt, disease).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		log.Errorf("Error looking up diagnosis of %s at %s: %v", userID, createdAt, err)
		return 0, false, err
	}
	return id, true, nil
}

// Insert returns ErrDuplicate when the dedup key is already taken.
func (s *DiagnosisStore) Insert(ctx context.Context, d *Diagnosis) (int64, error) {
	symptoms, err := jsonList(d.Symptoms)
	if err != nil {
		return 0, err
	}
	treatment, err := jsonList(d.Treatment)
	if err != nil {
		return 0, err
	}
	prevention, err := jsonList(d.Prevention)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO crop_diagnoses
		(user_id, crop, disease, confidence, severity, description, symptoms, treatment, prevention,
		 location, weather, is_offline, processing_time_ms, model_version, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Crop, d.Disease, d.Confidence, d.Severity, d.Description, symptoms, treatment, prevention,
		nullJSON(d.Location), nullJSON(d.Weather), d.IsOffline, d.ProcessingTimeMs, d.ModelVersion, nullJSON(d.Feedback), d.CreatedAt)
	if isDuplicateEntry(err) {
		return 0, ErrDuplicate
	}
	common.LogResult("insertDiagnosis", result, err, true)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CountOfflineSince counts the user's offline-origin diagnoses created after since.
func (s *DiagnosisStore) CountOfflineSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crop_diagnoses
		WHERE user_id = ? AND is_offline = true AND created_at >= ?`,
		userID, since).Scan(&cnt)
	if err != nil {
		log.Errorf("Error counting offline diagnoses of %s: %v", userID, err)
		return 0, err
	}
	return cnt, nil
}

func (s *DiagnosisStore) DeleteOfflineOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM crop_diagnoses
		WHERE user_id = ? AND is_offline = true AND created_at < ?`,
		userID, cutoff)
	common.LogResult("deleteOfflineDiagnoses", result, err, false)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func jsonList(v []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
