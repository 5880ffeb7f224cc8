package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"farmapp/backend/db"
	"farmapp/backend/map_aggr"
	"farmapp/backend/middleware"
	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

type OutbreakReader interface {
	Get(ctx context.Context, id int64) (*api.Outbreak, error)
	ListInBox(ctx context.Context, box outbreak.Box, status outbreak.Status) ([]*api.Outbreak, error)
}

type OutbreakReporter interface {
	Report(ctx context.Context, userID string, req *api.OutbreakReportRequest) (*api.OutbreakReportResponse, error)
	UpdateStatus(ctx context.Context, id int64, status outbreak.Status) (*api.Outbreak, error)
}

type OutbreakHandler struct {
	reporter  OutbreakReporter
	outbreaks OutbreakReader
}

func NewOutbreakHandler(reporter OutbreakReporter, outbreaks OutbreakReader) *OutbreakHandler {
	return &OutbreakHandler{
		reporter:  reporter,
		outbreaks: outbreaks,
	}
}

// Report answers 201 when the report started a cluster and 200 when it joined one.
func (h *OutbreakHandler) Report(c *gin.Context) {
	req := &api.OutbreakReportRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}
	if validationFailed(c, req.Validate()) {
		return
	}

	resp, err := h.reporter.Report(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		log.Errorf("Error reporting outbreak of %s on %s: %v", req.Disease, req.Crop, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}
	status := http.StatusOK
	if resp.IsNewOutbreak {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: fmt.Sprintf("Parsing id: %v", err)})
		return 0, false
	}
	return id, true
}

func (h *OutbreakHandler) writeLookupError(c *gin.Context, id int64, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, &api.ErrorResponse{Error: fmt.Sprintf("outbreak %d not found", id)})
	case errors.Is(err, db.ErrResolved):
		c.JSON(http.StatusConflict, &api.ErrorResponse{Error: fmt.Sprintf("outbreak %d is resolved", id)})
	default:
		log.Errorf("Error on outbreak %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
	}
}

func (h *OutbreakHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	o, err := h.outbreaks.Get(c.Request.Context(), id)
	if err != nil {
		h.writeLookupError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *OutbreakHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req := &api.OutbreakStatusRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}
	status, err := outbreak.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{
			Error:  "Validation failed",
			Errors: []api.FieldError{{Field: "status", Message: "must be one of active, contained, resolved"}},
		})
		return
	}

	o, err := h.reporter.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		h.writeLookupError(c, id, err)
		return
	}
	log.Infof("Outbreak %d is now %s", id, status)
	c.JSON(http.StatusOK, o)
}

// parseViewPort reads sw_lat, sw_lon, ne_lat and ne_lon. Without them the
// whole world is returned.
func parseViewPort(c *gin.Context) (outbreak.Box, bool) {
	box := outbreak.Box{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}
	params := []struct {
		name string
		dst  *float64
	}{
		{"sw_lat", &box.LatMin},
		{"sw_lon", &box.LonMin},
		{"ne_lat", &box.LatMax},
		{"ne_lon", &box.LonMax},
	}
	for _, p := range params {
		v, ok := c.GetQuery(p.name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Errorf("Error in parsing %s param: %v", p.name, err)
			c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: fmt.Sprintf("Parsing %s: %v", p.name, err)})
			return box, false
		}
		*p.dst = f
	}
	return box, true
}

// List answers a GeoJSON FeatureCollection of point features.
func (h *OutbreakHandler) List(c *gin.Context) {
	box, ok := parseViewPort(c)
	if !ok {
		return
	}
	var status outbreak.Status
	if v := c.Query("status"); v != "" {
		s, err := outbreak.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: fmt.Sprintf("Parsing status: %v", err)})
			return
		}
		status = s
	}

	list, err := h.outbreaks.ListInBox(c.Request.Context(), box, status)
	if err != nil {
		log.Errorf("Error listing outbreaks in %+v: %v", box, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, o := range list {
		f := geojson.NewPointFeature([]float64{o.Location.Longitude, o.Location.Latitude})
		f.ID = o.ID
		f.SetProperty("disease", o.Disease)
		f.SetProperty("crop", o.Crop)
		f.SetProperty("severity", o.Severity)
		f.SetProperty("status", o.Status)
		f.SetProperty("confirmedCases", o.ConfirmedCases)
		f.SetProperty("affectedArea", o.AffectedArea)
		f.SetProperty("region", o.Location.Region)
		f.SetProperty("updatedAt", formatTime(o.UpdatedAt))
		fc.AddFeature(f)
	}
	c.JSON(http.StatusOK, fc)
}

// Map aggregates active and contained outbreaks of the viewport into pins.
func (h *OutbreakHandler) Map(c *gin.Context) {
	args := &api.MapArgs{}
	if err := c.ShouldBindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", c.FullPath(), err)
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}

	box := outbreak.Box{
		LatMin: args.VPort.LatMin,
		LatMax: args.VPort.LatMax,
		LonMin: args.VPort.LonMin,
		LonMax: args.VPort.LonMax,
	}
	list, err := h.outbreaks.ListInBox(c.Request.Context(), box, "")
	if err != nil {
		log.Errorf("Error listing outbreaks in %+v: %v", box, err)
		c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
		return
	}

	a := map_aggr.NewAggregator(&args.VPort, &args.Center)
	for _, o := range list {
		if o.Status != outbreak.StatusResolved {
			a.AddOutbreak(o)
		}
	}
	c.JSON(http.StatusOK, a.Pins())
}
