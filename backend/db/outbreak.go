package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"
	"farmapp/common"

	"github.com/apex/log"
)

const (
	outbreakColumns = `id, disease, crop, latitude, longitude, address, region, severity, status,
		confirmed_cases, affected_area, created_at, updated_at`
	maxOutbreaksInBox = 1000
)

// ErrResolved is returned when a resolved cluster would be changed.
var ErrResolved = errors.New("outbreak is resolved")

// NewCluster seeds a cluster for a report that matched no active one.
type NewCluster struct {
	Disease   string
	Crop      string
	Location  api.Location
	Severity  outbreak.Severity
	CreatedAt time.Time
}

type OutbreakStore struct {
	db *sql.DB
}

func NewOutbreakStore(db *sql.DB) *OutbreakStore {
	return &OutbreakStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbreak(r rowScanner) (*api.Outbreak, error) {
	o := &api.Outbreak{}
	var address, region sql.NullString
	if err := r.Scan(&o.ID, &o.Disease, &o.Crop, &o.Location.Latitude, &o.Location.Longitude,
		&address, &region, &o.Severity, &o.Status, &o.ConfirmedCases, &o.AffectedArea,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Location.Address = address.String
	o.Location.Region = region.String
	return o, nil
}

// FindActiveNear returns the non-resolved clusters of the disease and crop
// whose center lies inside the box. Matching ignores case.
func (s *OutbreakStore) FindActiveNear(ctx context.Context, disease, crop string, box outbreak.Box) ([]*api.Outbreak, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outbreakColumns+` FROM disease_outbreaks
		WHERE LOWER(disease) = ? AND LOWER(crop) = ? AND status <> 'resolved'
		AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		strings.ToLower(strings.TrimSpace(disease)), strings.ToLower(strings.TrimSpace(crop)),
		box.LatMin, box.LatMax, box.LonMin, box.LonMax)
	if err != nil {
		log.Errorf("Error searching outbreaks of %s on %s: %v", disease, crop, err)
		return nil, err
	}
	defer rows.Close()

	ret := []*api.Outbreak{}
	for rows.Next() {
		o, err := scanOutbreak(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, o)
	}
	return ret, rows.Err()
}

// CreateOrJoin inserts a cluster under the canonical active key and adds the
// report to it. When another writer created the same key first, the report
// joins that cluster and created is false.
func (s *OutbreakStore) CreateOrJoin(ctx context.Context, c *NewCluster, r *api.OutbreakReport) (*api.Outbreak, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, false, err
	}
	defer tx.Rollback()

	key := outbreak.ClusterKey(c.Disease, c.Crop, c.Location.Latitude, c.Location.Longitude)
	result, err := tx.ExecContext(ctx, `INSERT INTO disease_outbreaks
		(disease, crop, latitude, longitude, address, region, severity, status,
		 confirmed_cases, affected_area, cluster_key, active_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'active', 0, 0, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`,
		strings.TrimSpace(c.Disease), strings.TrimSpace(c.Crop), c.Location.Latitude, c.Location.Longitude,
		c.Location.Address, c.Location.Region, c.Severity, key, key, c.CreatedAt, c.CreatedAt)
	if err != nil {
		log.Errorf("Error creating outbreak %s: %v", key, err)
		return nil, false, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	// 1 for a fresh row, 0 when the key already existed.
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	o, err := appendReport(ctx, tx, id, r)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing outbreak %d: %v", id, err)
		return nil, false, err
	}
	return o, affected == 1, nil
}

// AppendReport adds a report to an existing cluster and re-derives its severity.
func (s *OutbreakStore) AppendReport(ctx context.Context, id int64, r *api.OutbreakReport) (*api.Outbreak, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	o, err := appendReport(ctx, tx, id, r)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing outbreak %d: %v", id, err)
		return nil, err
	}
	return o, nil
}

func appendReport(ctx context.Context, tx *sql.Tx, id int64, r *api.OutbreakReport) (*api.Outbreak, error) {
	o, err := lockOutbreak(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == outbreak.StatusResolved {
		return nil, ErrResolved
	}

	images, err := jsonList(r.Images)
	if err != nil {
		return nil, err
	}
	result, err := tx.ExecContext(ctx, `INSERT INTO outbreak_reports
		(outbreak_id, reporter_id, severity, affected_area, images, notes, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, r.ReporterID, r.Severity, r.AffectedArea, images, r.Notes, r.ReportedAt)
	common.LogResult("insertOutbreakReport", result, err, true)
	if err != nil {
		return nil, err
	}

	o.ConfirmedCases++
	o.AffectedArea = o.AffectedArea.Add(r.AffectedArea)
	o.Severity = outbreak.Escalate(o.Severity, o.ConfirmedCases, o.AffectedArea)
	o.UpdatedAt = r.ReportedAt

	result, err = tx.ExecContext(ctx, `UPDATE disease_outbreaks
		SET confirmed_cases = ?, affected_area = ?, severity = ?, updated_at = ?
		WHERE id = ?`,
		o.ConfirmedCases, o.AffectedArea, o.Severity, o.UpdatedAt, id)
	common.LogResult("updateOutbreak", result, err, true)
	if err != nil {
		return nil, err
	}

	if o.Reports, err = loadReports(ctx, tx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func lockOutbreak(ctx context.Context, tx *sql.Tx, id int64) (*api.Outbreak, error) {
	o, err := scanOutbreak(tx.QueryRowContext(ctx,
		`SELECT `+outbreakColumns+` FROM disease_outbreaks WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("Error locking outbreak %d: %v", id, err)
		return nil, err
	}
	return o, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadReports(ctx context.Context, q queryer, id int64) ([]api.OutbreakReport, error) {
	rows, err := q.QueryContext(ctx, `SELECT reporter_id, severity, affected_area, images, notes, reported_at
		FROM outbreak_reports WHERE outbreak_id = ? ORDER BY id`, id)
	if err != nil {
		log.Errorf("Error loading reports of outbreak %d: %v", id, err)
		return nil, err
	}
	defer rows.Close()

	ret := []api.OutbreakReport{}
	for rows.Next() {
		var (
			r      api.OutbreakReport
			images sql.NullString
			notes  sql.NullString
		)
		if err := rows.Scan(&r.ReporterID, &r.Severity, &r.AffectedArea, &images, &notes, &r.ReportedAt); err != nil {
			return nil, err
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &r.Images); err != nil {
				return nil, fmt.Errorf("bad images of outbreak %d: %w", id, err)
			}
		}
		r.Notes = notes.String
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// Get returns the cluster with its reports.
func (s *OutbreakStore) Get(ctx context.Context, id int64) (*api.Outbreak, error) {
	o, err := scanOutbreak(s.db.QueryRowContext(ctx,
		`SELECT `+outbreakColumns+` FROM disease_outbreaks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("Error getting outbreak %d: %v", id, err)
		return nil, err
	}
	if o.Reports, err = loadReports(ctx, s.db, id); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus is the only way a cluster changes status. Resolved is final
// and frees the cluster key so a new report in the area starts a new cluster.
func (s *OutbreakStore) UpdateStatus(ctx context.Context, id int64, status outbreak.Status, now time.Time) (*api.Outbreak, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	o, err := lockOutbreak(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == outbreak.StatusResolved {
		return nil, ErrResolved
	}

	var result sql.Result
	if status == outbreak.StatusResolved {
		result, err = tx.ExecContext(ctx, `UPDATE disease_outbreaks
			SET status = ?, active_key = NULL, updated_at = ? WHERE id = ?`, status, now, id)
	} else {
		result, err = tx.ExecContext(ctx, `UPDATE disease_outbreaks
			SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	}
	common.LogResult("updateOutbreakStatus", result, err, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing outbreak %d: %v", id, err)
		return nil, err
	}
	o.Status = status
	o.UpdatedAt = now
	return o, nil
}

// ListInBox returns clusters inside the box, newest first. An empty status
// matches every status.
func (s *OutbreakStore) ListInBox(ctx context.Context, box outbreak.Box, status outbreak.Status) ([]*api.Outbreak, error) {
	query := `SELECT ` + outbreakColumns + ` FROM disease_outbreaks
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
	args := []any{box.LatMin, box.LatMax, box.LonMin, box.LonMax}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, maxOutbreaksInBox)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Error listing outbreaks: %v", err)
		return nil, err
	}
	defer rows.Close()

	ret := []*api.Outbreak{}
	for rows.Next() {
		o, err := scanOutbreak(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, o)
	}
	return ret, rows.Err()
}
