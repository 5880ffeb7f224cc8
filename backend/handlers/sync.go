package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"farmapp/backend/metrics"
	"farmapp/backend/middleware"
	"farmapp/backend/reconcile"
	"farmapp/backend/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

const (
	defaultStatusWindow = 7 * 24 * time.Hour
	defaultClearWindow  = "30d"
)

var clearWindows = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

type OfflineDiagnosesRepo interface {
	CountOfflineSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteOfflineOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

type LastSyncRepo interface {
	SetLastSync(ctx context.Context, userID string, t time.Time) error
	GetLastSync(ctx context.Context, userID string) (*time.Time, error)
}

type SyncHandler struct {
	reconciler reconcile.Reconciler
	diagnoses  OfflineDiagnosesRepo
	users      LastSyncRepo
	maxBatch   int
	now        func() time.Time
}

func NewSyncHandler(reconciler reconcile.Reconciler, diagnoses OfflineDiagnosesRepo, users LastSyncRepo, maxBatch int) *SyncHandler {
	return &SyncHandler{
		reconciler: reconciler,
		diagnoses:  diagnoses,
		users:      users,
		maxBatch:   maxBatch,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func validationFailed(c *gin.Context, err error) bool {
	var verr *api.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Validation failed", Errors: verr.Errors})
	return true
}

func (h *SyncHandler) touchLastSync(ctx context.Context, userID string, now time.Time) {
	if err := h.users.SetLastSync(ctx, userID, now); err != nil {
		log.Errorf("Failed to record last sync of %s: %v", userID, err)
	}
}

// Sync reconciles one offline record.
func (h *SyncHandler) Sync(c *gin.Context) {
	userID := middleware.UserID(c)
	item := &api.SyncItem{}
	if err := c.ShouldBindJSON(item); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}
	verr := &api.ValidationError{}
	item.Validate("", verr)
	if validationFailed(c, verr.Err()) {
		return
	}

	out, err := h.reconciler.Reconcile(c.Request.Context(), userID, item)
	if err != nil {
		metrics.SyncItemsTotal.WithLabelValues(string(item.Type), "", api.ItemStatusError).Inc()
		if validationFailed(c, err) {
			return
		}
		log.Errorf("Error syncing %s of %s: %v", item.Type, userID, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}
	metrics.SyncItemsTotal.WithLabelValues(string(item.Type), string(out.Action), api.ItemStatusSuccess).Inc()

	now := h.now()
	h.touchLastSync(c.Request.Context(), userID, now)
	c.JSON(http.StatusOK, &api.SyncResponse{
		Message:   "Data synced successfully",
		Type:      item.Type,
		Result:    out,
		Timestamp: formatTime(now),
	})
}

// SyncBatch reconciles every item on its own, one failure doesn't stop the rest.
func (h *SyncHandler) SyncBatch(c *gin.Context) {
	userID := middleware.UserID(c)
	req := &api.BatchSyncRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}

	verr := &api.ValidationError{}
	switch {
	case len(req.Items) == 0:
		verr.Add("items", "must not be empty")
	case len(req.Items) > h.maxBatch:
		verr.Add("items", fmt.Sprintf("must not contain more than %d items", h.maxBatch))
	default:
		for i := range req.Items {
			req.Items[i].Validate(fmt.Sprintf("items[%d].", i), verr)
		}
	}
	if validationFailed(c, verr.Err()) {
		return
	}
	metrics.SyncBatchSize.Observe(float64(len(req.Items)))

	ctx := c.Request.Context()
	summary := api.BatchSummary{Total: len(req.Items)}
	results := make([]api.BatchItemResult, 0, len(req.Items))
	for i := range req.Items {
		item := &req.Items[i]
		out, err := h.reconciler.Reconcile(ctx, userID, item)
		if err != nil {
			log.Warnf("Batch item %d (%s) of %s failed: %v", i, item.Type, userID, err)
			metrics.SyncItemsTotal.WithLabelValues(string(item.Type), "", api.ItemStatusError).Inc()
			summary.Errors++
			results = append(results, api.BatchItemResult{Type: item.Type, Status: api.ItemStatusError, Error: err.Error()})
			continue
		}
		metrics.SyncItemsTotal.WithLabelValues(string(item.Type), string(out.Action), api.ItemStatusSuccess).Inc()
		summary.Success++
		results = append(results, api.BatchItemResult{Type: item.Type, Status: api.ItemStatusSuccess, Result: out})
	}

	now := h.now()
	h.touchLastSync(ctx, userID, now)
	c.JSON(http.StatusOK, &api.BatchSyncResponse{
		Message:   "Batch sync completed",
		Summary:   summary,
		Results:   results,
		Timestamp: formatTime(now),
	})
}

func (h *SyncHandler) Status(c *gin.Context) {
	userID := middleware.UserID(c)
	now := h.now()
	since := now.Add(-defaultStatusWindow)
	if v, ok := c.GetQuery("since"); ok {
		t, err := api.ParseTimestamp(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, &api.ErrorResponse{
				Error:  "Validation failed",
				Errors: []api.FieldError{{Field: "since", Message: "must be an ISO8601 date"}},
			})
			return
		}
		since = t
	}

	ctx := c.Request.Context()
	last, err := h.users.GetLastSync(ctx, userID)
	if err != nil {
		log.Errorf("Error getting last sync of %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}
	cnt, err := h.diagnoses.CountOfflineSince(ctx, userID, since)
	if err != nil {
		log.Errorf("Error counting offline diagnoses of %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}

	resp := &api.SyncStatusResponse{
		PendingItems: api.PendingItems{Diagnoses: cnt},
		ServerTime:   formatTime(now),
	}
	if last != nil {
		s := formatTime(*last)
		resp.LastSync = &s
	}
	c.JSON(http.StatusOK, resp)
}

// Clear deletes the user's offline-origin diagnoses older than the window.
func (h *SyncHandler) Clear(c *gin.Context) {
	userID := middleware.UserID(c)
	window := c.DefaultQuery("olderThan", defaultClearWindow)
	d, ok := clearWindows[window]
	if !ok {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{
			Error:  "Validation failed",
			Errors: []api.FieldError{{Field: "olderThan", Message: "must be one of 7d, 30d, 90d"}},
		})
		return
	}

	cutoff := h.now().Add(-d)
	deleted, err := h.diagnoses.DeleteOfflineOlderThan(c.Request.Context(), userID, cutoff)
	if err != nil {
		log.Errorf("Error clearing offline diagnoses of %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}
	c.JSON(http.StatusOK, &api.ClearResponse{
		Message:      fmt.Sprintf("Cleared %d synced records", deleted),
		DeletedCount: deleted,
		CutoffDate:   formatTime(cutoff),
	})
}
