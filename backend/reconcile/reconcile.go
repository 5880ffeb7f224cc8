// Package reconcile merges synced offline records into server state. Every
// reconciler is idempotent on its dedup key or append-only by nature, so a
// client may safely deliver the same record more than once.
package reconcile

import (
	"context"
	"fmt"
	"time"

	rootapi "farmapp/api"
	"farmapp/backend/db"
	"farmapp/backend/server/api"
)

type Reconciler interface {
	Reconcile(ctx context.Context, userID string, item *api.SyncItem) (*api.Outcome, error)
}

type DiagnosisRepo interface {
	FindDuplicate(ctx context.Context, userID string, createdAt time.Time, disease string) (int64, bool, error)
	Insert(ctx context.Context, d *db.Diagnosis) (int64, error)
}

type AnalyticsRepo interface {
	Log(ctx context.Context, userID, eventType string, data map[string]any, eventTime time.Time) error
}

type ProfileRepo interface {
	UpdateProfile(ctx context.Context, userID string, u *api.ProfileUpdate) error
}

// Dispatcher routes an item to the reconciler of its record type.
type Dispatcher struct {
	reconcilers map[rootapi.RecordType]Reconciler
}

func NewDispatcher(diagnoses DiagnosisRepo, analytics AnalyticsRepo, profiles ProfileRepo) *Dispatcher {
	return &Dispatcher{
		reconcilers: map[rootapi.RecordType]Reconciler{
			rootapi.RecordDiagnosis:  &DiagnosisReconciler{diagnoses: diagnoses},
			rootapi.RecordIrrigation: &AnalyticsReconciler{eventType: rootapi.RecordIrrigation, analytics: analytics},
			rootapi.RecordMarket:     &AnalyticsReconciler{eventType: rootapi.RecordMarket, analytics: analytics},
			rootapi.RecordUserData:   &UserDataReconciler{profiles: profiles},
		},
	}
}

func (d *Dispatcher) Reconcile(ctx context.Context, userID string, item *api.SyncItem) (*api.Outcome, error) {
	r, ok := d.reconcilers[item.Type]
	if !ok {
		return nil, fmt.Errorf("unknown record type %q", item.Type)
	}
	return r.Reconcile(ctx, userID, item)
}
