package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"farmapp/backend/server/api"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestUpdateProfile(t *testing.T) {
	it(func() {
		prefs := json.RawMessage(`{"language":"hi"}`)
		lat, lon := 18.5, 73.8

		testCases := []struct {
			name      string
			exists    bool
			update    *api.ProfileUpdate
			execQuery string
			execArgs  []driver.Value
			expectErr error
		}{
			{
				name:      "Preferences only",
				exists:    true,
				update:    &api.ProfileUpdate{Preferences: &prefs},
				execQuery: "UPDATE users SET preferences = (.+) WHERE id = (.+)",
				execArgs:  []driver.Value{`{"language":"hi"}`, "user1"},
			}, {
				name:      "Location sets coordinates too",
				exists:    true,
				update:    &api.ProfileUpdate{Location: &api.ProfileLocation{Latitude: &lat, Longitude: &lon, Region: "MH"}},
				execQuery: "UPDATE users SET location = (.+), latitude = (.+), longitude = (.+) WHERE id = (.+)",
				execArgs:  []driver.Value{`{"latitude":18.5,"longitude":73.8,"region":"MH"}`, lat, lon, "user1"},
			}, {
				name:      "Unknown user",
				exists:    false,
				update:    &api.ProfileUpdate{Preferences: &prefs},
				expectErr: ErrUserNotFound,
			},
		}

		for _, testCase := range testCases {
			rows := sqlmock.NewRows([]string{"id"})
			if testCase.exists {
				rows.AddRow("user1")
			}
			mock.ExpectQuery("SELECT id FROM users WHERE id = (.+)").
				WithArgs("user1").
				WillReturnRows(rows)
			if testCase.execQuery != "" {
				mock.ExpectExec(testCase.execQuery).
					WithArgs(testCase.execArgs...).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := NewUserStore(db).UpdateProfile(context.Background(), "user1", testCase.update)
			if !errors.Is(err, testCase.expectErr) {
				t.Errorf("%s, expected error %v, got %v", testCase.name, testCase.expectErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s, not all expectations were met: %v", testCase.name, err)
			}
		}
	})
}

func TestLastSync(t *testing.T) {
	it(func() {
		mock.ExpectExec("UPDATE users SET last_sync_at = (.+) WHERE id = (.+)").
			WithArgs(blightAt, "user1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT last_sync_at FROM users WHERE id = (.+)").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at"}).AddRow(blightAt))
		mock.ExpectQuery("SELECT last_sync_at FROM users WHERE id = (.+)").
			WithArgs("user2").
			WillReturnRows(sqlmock.NewRows([]string{"last_sync_at"}).AddRow(nil))

		s := NewUserStore(db)
		if err := s.SetLastSync(context.Background(), "user1", blightAt); err != nil {
			t.Errorf("unexpected error %v", err)
		}
		last, err := s.GetLastSync(context.Background(), "user1")
		if err != nil || last == nil || !last.Equal(blightAt) {
			t.Errorf("expected %s, got %v, %v", blightAt, last, err)
		}
		last, err = s.GetLastSync(context.Background(), "user2")
		if err != nil || last != nil {
			t.Errorf("expected no last sync, got %v, %v", last, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}

func TestFindNear(t *testing.T) {
	it(func() {
		// The box is a square, the corner user is outside the 25km circle.
		mock.ExpectQuery("SELECT id, latitude, longitude FROM users WHERE latitude BETWEEN (.+) AND id <> (.+)").
			WillReturnRows(sqlmock.NewRows([]string{"id", "latitude", "longitude"}).
				AddRow("near", 18.55, 73.85).
				AddRow("corner", 18.72, 74.06))

		ids, err := NewUserStore(db).FindNear(context.Background(), 18.52, 73.85, 25, "reporter")
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if !reflect.DeepEqual(ids, []string{"near"}) {
			t.Errorf("expected [near], got %v", ids)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}
