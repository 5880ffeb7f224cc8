package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

var outbreakRowColumns = []string{"id", "disease", "crop", "latitude", "longitude", "address", "region",
	"severity", "status", "confirmed_cases", "affected_area", "created_at", "updated_at"}

var reportRowColumns = []string{"reporter_id", "severity", "affected_area", "images", "notes", "reported_at"}

func outbreakRow(id int64, severity, status string, cases int, area string) []driver.Value {
	return []driver.Value{id, "Late Blight", "Tomato", 18.52, 73.85, "Pune", "MH", severity, status, cases, area, blightAt, blightAt}
}

func TestFindActiveNear(t *testing.T) {
	it(func() {
		box := outbreak.BoundingBox(18.5, 73.8, 0.09)
		mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE LOWER(.+) AND status <> 'resolved'").
			WithArgs("late blight", "tomato", box.LatMin, box.LatMax, box.LonMin, box.LonMax).
			WillReturnRows(sqlmock.NewRows(outbreakRowColumns).
				AddRow(outbreakRow(1, "low", "active", 2, "10")...).
				AddRow(outbreakRow(2, "high", "contained", 12, "250.5")...))

		found, err := NewOutbreakStore(db).FindActiveNear(context.Background(), " Late Blight", "TOMATO", box)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if len(found) != 2 {
			t.Fatalf("expected 2 clusters, got %d", len(found))
		}
		if found[1].Status != outbreak.StatusContained || found[1].ConfirmedCases != 12 {
			t.Errorf("unexpected cluster %+v", found[1])
		}
		if !found[1].AffectedArea.Equal(decimal.RequireFromString("250.5")) {
			t.Errorf("expected 250.5 acres, got %s", found[1].AffectedArea)
		}
		if found[0].Location.Address != "Pune" {
			t.Errorf("expected address Pune, got %q", found[0].Location.Address)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}

func TestCreateOrJoin(t *testing.T) {
	it(func() {
		testCases := []struct {
			name         string
			rowsAffected int64
			lockedRow    []driver.Value
			expectNew    bool
			expectCases  int
		}{
			{
				name:         "Fresh cluster",
				rowsAffected: 1,
				lockedRow:    outbreakRow(5, "medium", "active", 0, "0"),
				expectNew:    true,
				expectCases:  1,
			}, {
				name:         "Another writer created the same cluster",
				rowsAffected: 0,
				lockedRow:    outbreakRow(5, "medium", "active", 1, "3"),
				expectNew:    false,
				expectCases:  2,
			},
		}

		for _, testCase := range testCases {
			key := outbreak.ClusterKey("Late Blight", "Tomato", 18.52, 73.85)
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO disease_outbreaks (.+) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID").
				WithArgs("Late Blight", "Tomato", 18.52, 73.85, "Pune", "MH", outbreak.SeverityMedium, key, key, blightAt, blightAt).
				WillReturnResult(sqlmock.NewResult(5, testCase.rowsAffected))
			mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE id = (.+) FOR UPDATE").
				WithArgs(5).
				WillReturnRows(sqlmock.NewRows(outbreakRowColumns).AddRow(testCase.lockedRow...))
			mock.ExpectExec("INSERT INTO outbreak_reports").
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE disease_outbreaks SET confirmed_cases = (.+), affected_area = (.+), severity = (.+)").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery("SELECT reporter_id, severity, affected_area, images, notes, reported_at FROM outbreak_reports").
				WithArgs(5).
				WillReturnRows(sqlmock.NewRows(reportRowColumns).
					AddRow("user1", "medium", "3", `["a.jpg"]`, "leaves", blightAt))
			mock.ExpectCommit()

			o, created, err := NewOutbreakStore(db).CreateOrJoin(context.Background(), &NewCluster{
				Disease:   "Late Blight",
				Crop:      "Tomato",
				Location:  api.Location{Latitude: 18.52, Longitude: 73.85, Address: "Pune", Region: "MH"},
				Severity:  outbreak.SeverityMedium,
				CreatedAt: blightAt,
			}, &api.OutbreakReport{
				ReporterID:   "user2",
				Severity:     outbreak.SeverityMedium,
				AffectedArea: decimal.NewFromInt(3),
				ReportedAt:   blightAt,
			})
			if err != nil {
				t.Errorf("%s, unexpected error %v", testCase.name, err)
				continue
			}
			if created != testCase.expectNew {
				t.Errorf("%s, expected created %v, got %v", testCase.name, testCase.expectNew, created)
			}
			if o.ConfirmedCases != testCase.expectCases {
				t.Errorf("%s, expected %d cases, got %d", testCase.name, testCase.expectCases, o.ConfirmedCases)
			}
			if len(o.Reports) != 1 || o.Reports[0].Images[0] != "a.jpg" {
				t.Errorf("%s, unexpected reports %+v", testCase.name, o.Reports)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s, not all expectations were met: %v", testCase.name, err)
			}
		}
	})
}

func TestAppendReportEscalates(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE id = (.+) FOR UPDATE").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows(outbreakRowColumns).AddRow(outbreakRow(9, "medium", "active", 9, "40")...))
		mock.ExpectExec("INSERT INTO outbreak_reports").
			WillReturnResult(sqlmock.NewResult(10, 1))
		mock.ExpectExec("UPDATE disease_outbreaks SET confirmed_cases").
			WithArgs(10, decimal.RequireFromString("45"), outbreak.SeverityHigh, blightAt, 9).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT reporter_id (.+) FROM outbreak_reports").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows(reportRowColumns))
		mock.ExpectCommit()

		o, err := NewOutbreakStore(db).AppendReport(context.Background(), 9, &api.OutbreakReport{
			ReporterID:   "user3",
			Severity:     outbreak.SeverityLow,
			AffectedArea: decimal.NewFromInt(5),
			ReportedAt:   blightAt,
		})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if o.Severity != outbreak.SeverityHigh || o.ConfirmedCases != 10 {
			t.Errorf("expected high with 10 cases, got %s with %d", o.Severity, o.ConfirmedCases)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}

func TestAppendReportToResolved(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE id = (.+) FOR UPDATE").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(outbreakRowColumns).AddRow(outbreakRow(3, "high", "resolved", 12, "0")...))
		mock.ExpectRollback()

		_, err := NewOutbreakStore(db).AppendReport(context.Background(), 3, &api.OutbreakReport{ReporterID: "user1"})
		if !errors.Is(err, ErrResolved) {
			t.Errorf("expected ErrResolved, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}

func TestUpdateStatus(t *testing.T) {
	it(func() {
		now := blightAt.Add(time.Hour)
		testCases := []struct {
			name      string
			current   string
			status    outbreak.Status
			execQuery string
			expectErr error
		}{
			{
				name:      "Contain an active cluster",
				current:   "active",
				status:    outbreak.StatusContained,
				execQuery: "UPDATE disease_outbreaks SET status = (.+), updated_at = (.+) WHERE id = (.+)",
			}, {
				name:      "Resolve frees the cluster key",
				current:   "contained",
				status:    outbreak.StatusResolved,
				execQuery: "UPDATE disease_outbreaks SET status = (.+), active_key = NULL, updated_at = (.+)",
			}, {
				name:      "Resolved is final",
				current:   "resolved",
				status:    outbreak.StatusActive,
				expectErr: ErrResolved,
			},
		}

		for _, testCase := range testCases {
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE id = (.+) FOR UPDATE").
				WithArgs(4).
				WillReturnRows(sqlmock.NewRows(outbreakRowColumns).AddRow(outbreakRow(4, "high", testCase.current, 12, "0")...))
			if testCase.execQuery != "" {
				mock.ExpectExec(testCase.execQuery).
					WithArgs(testCase.status, now, 4).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			o, err := NewOutbreakStore(db).UpdateStatus(context.Background(), 4, testCase.status, now)
			if !errors.Is(err, testCase.expectErr) {
				t.Errorf("%s, expected error %v, got %v", testCase.name, testCase.expectErr, err)
			}
			if err == nil && o.Status != testCase.status {
				t.Errorf("%s, expected status %s, got %s", testCase.name, testCase.status, o.Status)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s, not all expectations were met: %v", testCase.name, err)
			}
		}
	})
}

func TestGetOutbreak(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE id = (.+)").
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows(outbreakRowColumns))

		if _, err := NewOutbreakStore(db).Get(context.Background(), 100); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}

func TestListInBox(t *testing.T) {
	it(func() {
		box := outbreak.Box{LatMin: 18, LatMax: 19, LonMin: 73, LonMax: 74}
		mock.ExpectQuery("SELECT (.+) FROM disease_outbreaks WHERE latitude BETWEEN (.+) AND status = (.+) ORDER BY updated_at DESC LIMIT 1000").
			WithArgs(18.0, 19.0, 73.0, 74.0, outbreak.StatusActive).
			WillReturnRows(sqlmock.NewRows(outbreakRowColumns).AddRow(outbreakRow(1, "low", "active", 1, "0")...))

		list, err := NewOutbreakStore(db).ListInBox(context.Background(), box, outbreak.StatusActive)
		if err != nil || len(list) != 1 {
			t.Errorf("expected one outbreak, got %d, %v", len(list), err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("not all expectations were met: %v", err)
		}
	})
}
