package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"farmapp/backend/providers"
	"farmapp/backend/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// AdvisoryHandler serves the online-only advice endpoints.
type AdvisoryHandler struct {
	providers *providers.Set
}

func NewAdvisoryHandler(set *providers.Set) *AdvisoryHandler {
	return &AdvisoryHandler{providers: set}
}

func providerFailed(c *gin.Context, what string, err error) {
	log.Errorf("Error getting %s: %v", what, err)
	if errors.Is(err, providers.ErrUnavailable) {
		c.JSON(http.StatusBadGateway, &api.ErrorResponse{Error: fmt.Sprintf("%s source is unavailable", what)})
		return
	}
	c.JSON(http.StatusInternalServerError, &api.ErrorResponse{Error: fmt.Sprint(err)})
}

func parseLatLon(c *gin.Context) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "lat must be a latitude"})
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "lon must be a longitude"})
		return 0, 0, false
	}
	return lat, lon, true
}

func (h *AdvisoryHandler) Weather(c *gin.Context) {
	lat, lon, ok := parseLatLon(c)
	if !ok {
		return
	}
	w, err := h.providers.Weather.Current(c.Request.Context(), lat, lon)
	if err != nil {
		providerFailed(c, "weather", err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *AdvisoryHandler) Irrigation(c *gin.Context) {
	req := &providers.IrrigationRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: err.Error()})
		return
	}
	w, err := h.providers.Weather.Current(c.Request.Context(), req.Latitude, req.Longitude)
	if err != nil {
		providerFailed(c, "weather", err)
		return
	}
	c.JSON(http.StatusOK, providers.Irrigation(req, w))
}

func (h *AdvisoryHandler) MarketPrices(c *gin.Context) {
	crop := strings.TrimSpace(c.Query("crop"))
	if crop == "" {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "crop is required"})
		return
	}
	prices, err := h.providers.Market.Prices(c.Request.Context(), crop, c.Query("region"))
	if err != nil {
		providerFailed(c, "market prices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crop": crop, "prices": prices})
}

type DiagnosisRequest struct {
	Crop  string `json:"crop"`
	Image string `json:"image"` // base64, optionally as a data URL
}

type DiagnosisResponse struct {
	Crop           string               `json:"crop"`
	Result         *api.DiagnosisResult `json:"result"`
	ProcessingTime int64                `json:"processingTime"`
	Timestamp      string               `json:"timestamp"`
}

// Diagnose classifies a photo online. Offline clients classify locally and
// sync the result as a diagnosis record.
func (h *AdvisoryHandler) Diagnose(c *gin.Context) {
	req := &DiagnosisRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "Malformed request body"})
		return
	}
	if strings.TrimSpace(req.Crop) == "" {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "crop is required"})
		return
	}
	data := req.Image
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i > 0 {
		data = data[i+1:]
	}
	image, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, &api.ErrorResponse{Error: "image must be base64 encoded"})
		return
	}

	start := time.Now()
	result, err := h.providers.Classifier.Classify(c.Request.Context(), req.Crop, image)
	if err != nil {
		providerFailed(c, "diagnosis", err)
		return
	}
	c.JSON(http.StatusOK, &DiagnosisResponse{
		Crop:           req.Crop,
		Result:         result,
		ProcessingTime: time.Since(start).Milliseconds(),
		Timestamp:      formatTime(time.Now()),
	})
}
