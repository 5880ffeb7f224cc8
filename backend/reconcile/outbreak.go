package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"farmapp/backend/db"
	"farmapp/backend/metrics"
	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"

	"github.com/apex/log"
	"github.com/shopspring/decimal"
)

type OutbreakRepo interface {
	FindActiveNear(ctx context.Context, disease, crop string, box outbreak.Box) ([]*api.Outbreak, error)
	CreateOrJoin(ctx context.Context, c *db.NewCluster, r *api.OutbreakReport) (*api.Outbreak, bool, error)
	AppendReport(ctx context.Context, id int64, r *api.OutbreakReport) (*api.Outbreak, error)
	UpdateStatus(ctx context.Context, id int64, status outbreak.Status, now time.Time) (*api.Outbreak, error)
}

type RecipientFinder interface {
	FindNear(ctx context.Context, lat, lon, radiusKm float64, exclude string) ([]string, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, message any) error
}

const alertTimeout = 10 * time.Second

type OutbreakOptions struct {
	ClusterRadiusDeg float64
	AlertRadiusKm    float64
	AlertMinCases    int
}

// OutbreakReconciler merges a report into the nearest active cluster of the
// same disease and crop, or starts a new cluster.
type OutbreakReconciler struct {
	outbreaks OutbreakRepo
	users     RecipientFinder
	alerts    AlertPublisher
	opts      OutbreakOptions
	now       func() time.Time

	alerting sync.WaitGroup
}

// NewOutbreakReconciler takes a nil alerts publisher to only log alerts.
func NewOutbreakReconciler(outbreaks OutbreakRepo, users RecipientFinder, alerts AlertPublisher, opts OutbreakOptions) *OutbreakReconciler {
	return &OutbreakReconciler{
		outbreaks: outbreaks,
		users:     users,
		alerts:    alerts,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Report expects a validated request.
func (r *OutbreakReconciler) Report(ctx context.Context, userID string, req *api.OutbreakReportRequest) (*api.OutbreakReportResponse, error) {
	severity, err := outbreak.ParseSeverity(req.Severity)
	if err != nil {
		return nil, err
	}
	now := r.now().Truncate(time.Millisecond)
	report := &api.OutbreakReport{
		ReporterID:   userID,
		Severity:     severity,
		AffectedArea: decimal.Zero,
		Images:       req.Images,
		Notes:        req.Notes,
		ReportedAt:   now,
	}
	if req.AffectedArea != nil {
		report.AffectedArea = *req.AffectedArea
	}
	loc := *req.Location

	var (
		o     *api.Outbreak
		isNew bool
	)
	nearest, err := r.nearestActive(ctx, req.Disease, req.Crop, loc)
	if err != nil {
		metrics.OutbreakReportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if nearest != nil {
		o, err = r.outbreaks.AppendReport(ctx, nearest.ID, report)
		if errors.Is(err, db.ErrResolved) {
			log.Infof("Outbreak %d was resolved meanwhile, starting a new one", nearest.ID)
			nearest = nil
		} else if err != nil {
			metrics.OutbreakReportsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to add report to outbreak %d: %w", nearest.ID, err)
		}
	}
	if nearest == nil {
		o, isNew, err = r.outbreaks.CreateOrJoin(ctx, &db.NewCluster{
			Disease:   strings.TrimSpace(req.Disease),
			Crop:      strings.TrimSpace(req.Crop),
			Location:  loc,
			Severity:  severity,
			CreatedAt: now,
		}, report)
		if err != nil {
			metrics.OutbreakReportsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to create outbreak: %w", err)
		}
	}

	message := "Report added to existing outbreak"
	if isNew {
		message = "New outbreak reported"
		metrics.OutbreakReportsTotal.WithLabelValues("created").Inc()
	} else {
		metrics.OutbreakReportsTotal.WithLabelValues("merged").Inc()
	}

	alertsSent := false
	if outbreak.ShouldAlert(o.Severity, o.ConfirmedCases, r.opts.AlertMinCases) {
		r.alertInBackground(ctx, o, userID)
		alertsSent = true
	}
	return &api.OutbreakReportResponse{
		Message:       message,
		Outbreak:      o,
		IsNewOutbreak: isNew,
		AlertsSent:    alertsSent,
	}, nil
}

func (r *OutbreakReconciler) nearestActive(ctx context.Context, disease, crop string, loc api.Location) (*api.Outbreak, error) {
	box := outbreak.BoundingBox(loc.Latitude, loc.Longitude, r.opts.ClusterRadiusDeg)
	candidates, err := r.outbreaks.FindActiveNear(ctx, disease, crop, box)
	if err != nil {
		return nil, fmt.Errorf("failed to search outbreaks: %w", err)
	}
	var (
		nearest *api.Outbreak
		best    float64
	)
	for _, c := range candidates {
		d := outbreak.DistanceKm(loc.Latitude, loc.Longitude, c.Location.Latitude, c.Location.Longitude)
		if nearest == nil || d < best {
			nearest, best = c, d
		}
	}
	return nearest, nil
}

// alertInBackground never fails or delays the report. The alert outlives the
// request for at most alertTimeout; delivery problems are only logged.
func (r *OutbreakReconciler) alertInBackground(ctx context.Context, o *api.Outbreak, reporterID string) {
	msg := &api.OutbreakAlert{
		OutbreakID:     o.ID,
		Disease:        o.Disease,
		Crop:           o.Crop,
		Severity:       o.Severity,
		ConfirmedCases: o.ConfirmedCases,
		Latitude:       o.Location.Latitude,
		Longitude:      o.Location.Longitude,
		RadiusKm:       r.opts.AlertRadiusKm,
		Timestamp:      r.now(),
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	r.alerting.Add(1)
	go func() {
		defer r.alerting.Done()
		defer cancel()
		r.alert(actx, msg, reporterID)
	}()
}

func (r *OutbreakReconciler) alert(ctx context.Context, msg *api.OutbreakAlert, reporterID string) {
	recipients, err := r.users.FindNear(ctx, msg.Latitude, msg.Longitude, msg.RadiusKm, reporterID)
	if err != nil {
		log.Errorf("Failed to find farmers near outbreak %d: %v", msg.OutbreakID, err)
		metrics.OutbreakAlertsTotal.WithLabelValues("error").Inc()
		return
	}
	msg.Recipients = recipients
	if r.alerts == nil {
		log.Infof("Outbreak %d alert for %d farmers not published, no alert channel", msg.OutbreakID, len(recipients))
		return
	}
	if err := r.alerts.Publish(ctx, msg); err != nil {
		log.Errorf("Failed to publish alert for outbreak %d: %v", msg.OutbreakID, err)
		metrics.OutbreakAlertsTotal.WithLabelValues("error").Inc()
		return
	}
	log.Infof("Outbreak %d alert published for %d farmers", msg.OutbreakID, len(recipients))
	metrics.OutbreakAlertsTotal.WithLabelValues("sent").Inc()
}

// Wait blocks until the alerts started so far are done.
func (r *OutbreakReconciler) Wait() {
	r.alerting.Wait()
}

// UpdateStatus moves a cluster through its lifecycle.
func (r *OutbreakReconciler) UpdateStatus(ctx context.Context, id int64, status outbreak.Status) (*api.Outbreak, error) {
	return r.outbreaks.UpdateStatus(ctx, id, status, r.now().Truncate(time.Millisecond))
}
