package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"farmapp/backend/db"
	"farmapp/backend/server/api"

	"github.com/apex/log"
)

const reasonDuplicate = "duplicate"

// DiagnosisReconciler skips a diagnosis already stored under the same user,
// creation time and disease, and inserts it otherwise.
type DiagnosisReconciler struct {
	diagnoses DiagnosisRepo
}

func (r *DiagnosisReconciler) Reconcile(ctx context.Context, userID string, item *api.SyncItem) (*api.Outcome, error) {
	var p api.DiagnosisPayload
	if err := json.Unmarshal(item.Data, &p); err != nil {
		verr := &api.ValidationError{}
		verr.Add("data", "is not a diagnosis: "+err.Error())
		return nil, verr
	}
	disease := strings.TrimSpace(p.Result.Disease)
	if disease == "" {
		verr := &api.ValidationError{}
		verr.Add("data.result.disease", "is required")
		return nil, verr
	}
	// DATETIME(3) keeps milliseconds, the key must compare at that precision.
	createdAt := item.EventTime().Truncate(time.Millisecond)

	id, found, err := r.diagnoses.FindDuplicate(ctx, userID, createdAt, disease)
	if err != nil {
		return nil, fmt.Errorf("failed to look up diagnosis: %w", err)
	}
	if found {
		return &api.Outcome{Action: api.ActionSkipped, Reason: reasonDuplicate, ID: id}, nil
	}

	id, err = r.diagnoses.Insert(ctx, &db.Diagnosis{
		UserID:           userID,
		Crop:             p.Crop,
		Disease:          disease,
		Confidence:       p.Result.Confidence,
		Severity:         p.Result.Severity,
		Description:      p.Result.Description,
		Symptoms:         p.Result.Symptoms,
		Treatment:        p.Result.Treatment,
		Prevention:       p.Result.Prevention,
		Location:         p.Location,
		Weather:          p.Weather,
		Feedback:         p.Feedback,
		IsOffline:        true,
		ProcessingTimeMs: p.ProcessingTime,
		ModelVersion:     p.ModelVersion,
		CreatedAt:        createdAt,
	})
	if errors.Is(err, db.ErrDuplicate) {
		// A concurrent delivery of the same record won the insert.
		log.Infof("Diagnosis of %s at %s inserted concurrently", userID, createdAt)
		id, found, err = r.diagnoses.FindDuplicate(ctx, userID, createdAt, disease)
		if err != nil {
			return nil, fmt.Errorf("failed to look up diagnosis: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("diagnosis of %s at %s conflicts but is missing", userID, createdAt)
		}
		return &api.Outcome{Action: api.ActionSkipped, Reason: reasonDuplicate, ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert diagnosis: %w", err)
	}
	return &api.Outcome{Action: api.ActionCreated, ID: id}, nil
}
