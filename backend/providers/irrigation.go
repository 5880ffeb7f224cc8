package providers

import (
	"fmt"
	"math"
	"strings"
)

const litersPerAcreMm = 4046.86

// Crop coefficients (Kc) at mid season.
var cropCoefficients = map[string]float64{
	"rice":      1.2,
	"wheat":     1.15,
	"maize":     1.2,
	"cotton":    1.15,
	"sugarcane": 1.25,
	"tomato":    1.15,
	"potato":    1.15,
	"onion":     1.05,
	"soybean":   1.15,
	"groundnut": 1.1,
}

const defaultCropCoefficient = 1.0

// Share of applied water that stays in the root zone.
var soilFactors = map[string]float64{
	"sandy": 1.3,
	"loam":  1.0,
	"loamy": 1.0,
	"clay":  0.85,
	"silt":  0.95,
	"black": 0.9,
}

type IrrigationRequest struct {
	Crop      string  `json:"crop"`
	FieldSize float64 `json:"fieldSize"` // acres
	SoilType  string  `json:"soilType"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (r *IrrigationRequest) Validate() error {
	if strings.TrimSpace(r.Crop) == "" {
		return fmt.Errorf("crop is required")
	}
	if r.FieldSize <= 0 {
		return fmt.Errorf("fieldSize must be positive")
	}
	return nil
}

type IrrigationAdvice struct {
	Crop             string   `json:"crop"`
	FieldSize        float64  `json:"fieldSize"`
	SoilType         string   `json:"soilType"`
	WaterRequirement float64  `json:"waterRequirement"` // liters per day for the field
	DepthMm          float64  `json:"depthMm"`
	Recommendation   string   `json:"recommendation"`
	Weather          *Weather `json:"weather"`
}

// Irrigation computes the daily need as crop ET minus rainfall, scaled by soil.
func Irrigation(r *IrrigationRequest, w *Weather) *IrrigationAdvice {
	kc, ok := cropCoefficients[strings.ToLower(strings.TrimSpace(r.Crop))]
	if !ok {
		kc = defaultCropCoefficient
	}
	soil, ok := soilFactors[strings.ToLower(strings.TrimSpace(r.SoilType))]
	if !ok {
		soil = 1.0
	}

	depth := math.Max(0, kc*w.ReferenceET-w.RainfallMm) * soil
	depth = math.Round(depth*10) / 10
	liters := math.Round(depth * litersPerAcreMm * r.FieldSize)

	var rec string
	switch {
	case depth == 0:
		rec = "No irrigation needed today, rainfall covers the crop's demand."
	case w.TemperatureC >= 35:
		rec = fmt.Sprintf("Irrigate %.1f mm early in the morning or in the evening to limit evaporation.", depth)
	case soil > 1:
		rec = fmt.Sprintf("Irrigate %.1f mm split into two shorter sessions, sandy soil drains fast.", depth)
	default:
		rec = fmt.Sprintf("Irrigate %.1f mm today.", depth)
	}

	return &IrrigationAdvice{
		Crop:             r.Crop,
		FieldSize:        r.FieldSize,
		SoilType:         r.SoilType,
		WaterRequirement: liters,
		DepthMm:          depth,
		Recommendation:   rec,
		Weather:          w,
	}
}
