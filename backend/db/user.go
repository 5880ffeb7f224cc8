package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"
	"farmapp/common"

	"github.com/apex/log"
)

// UserStore works on profiles of users registered by the auth layer.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) exists(ctx context.Context, userID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ?", userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		log.Errorf("Error getting user %s: %v", userID, err)
	}
	return err
}

// UpdateProfile writes the fields present in u and nothing else.
func (s *UserStore) UpdateProfile(ctx context.Context, userID string, u *api.ProfileUpdate) error {
	if err := s.exists(ctx, userID); err != nil {
		return err
	}

	sets := []string{}
	args := []any{}
	if u.Preferences != nil {
		sets = append(sets, "preferences = ?")
		args = append(args, nullJSON(*u.Preferences))
	}
	if u.FarmDetails != nil {
		sets = append(sets, "farm_details = ?")
		args = append(args, nullJSON(*u.FarmDetails))
	}
	if u.Location != nil {
		loc, err := json.Marshal(u.Location)
		if err != nil {
			return err
		}
		sets = append(sets, "location = ?")
		args = append(args, string(loc))
		if u.Location.Latitude != nil && u.Location.Longitude != nil {
			sets = append(sets, "latitude = ?", "longitude = ?")
			args = append(args, *u.Location.Latitude, *u.Location.Longitude)
		}
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID)

	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	common.LogResult("updateProfile", result, err, false)
	return err
}

func (s *UserStore) SetLastSync(ctx context.Context, userID string, t time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET last_sync_at = ? WHERE id = ?", t, userID)
	if err != nil {
		log.Errorf("Error setting last sync of %s: %v", userID, err)
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		log.Warnf("Last sync of %s not recorded, unknown user", userID)
	}
	return nil
}

// GetLastSync returns nil when the user never synced.
func (s *UserStore) GetLastSync(ctx context.Context, userID string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT last_sync_at FROM users WHERE id = ?", userID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Errorf("Error getting last sync of %s: %v", userID, err)
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

// FindNear returns ids of users with a known location within radiusKm of
// the point, except the excluded one.
func (s *UserStore) FindNear(ctx context.Context, lat, lon, radiusKm float64, exclude string) ([]string, error) {
	box := outbreak.BoxForRadius(lat, lon, radiusKm)
	rows, err := s.db.QueryContext(ctx, `SELECT id, latitude, longitude FROM users
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ? AND id <> ?`,
		box.LatMin, box.LatMax, box.LonMin, box.LonMax, exclude)
	if err != nil {
		log.Errorf("Error finding users near %f,%f: %v", lat, lon, err)
		return nil, err
	}
	defer rows.Close()

	ret := []string{}
	for rows.Next() {
		var (
			id         string
			uLat, uLon float64
		)
		if err := rows.Scan(&id, &uLat, &uLon); err != nil {
			return nil, err
		}
		if outbreak.DistanceKm(lat, lon, uLat, uLon) <= radiusKm {
			ret = append(ret, id)
		}
	}
	return ret, rows.Err()
}
