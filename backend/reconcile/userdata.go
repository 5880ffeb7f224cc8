package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"farmapp/backend/server/api"
)

// UserDataReconciler copies the allow-listed profile fields and ignores the rest.
type UserDataReconciler struct {
	profiles ProfileRepo
}

func (r *UserDataReconciler) Reconcile(ctx context.Context, userID string, item *api.SyncItem) (*api.Outcome, error) {
	var u api.ProfileUpdate
	if err := json.Unmarshal(item.Data, &u); err != nil {
		verr := &api.ValidationError{}
		verr.Add("data", "is not a profile update: "+err.Error())
		return nil, verr
	}
	fields := u.Fields()
	if len(fields) == 0 {
		return &api.Outcome{Action: api.ActionNoChanges}, nil
	}
	if err := r.profiles.UpdateProfile(ctx, userID, &u); err != nil {
		return nil, fmt.Errorf("failed to update profile of %s: %w", userID, err)
	}
	return &api.Outcome{Action: api.ActionUpdated, Fields: fields}, nil
}
