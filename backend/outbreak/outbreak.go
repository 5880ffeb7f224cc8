// Package outbreak holds the rules behind geofenced disease-outbreak clusters:
// severity escalation, cluster lookup geometry and alert triggering.
package outbreak

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusContained Status = "contained"
	StatusResolved  Status = "resolved"
)

const (
	// ClusterCellLevel is the s2 level whose cells are roughly 10km across.
	ClusterCellLevel = 10
	earthRadiusKm    = 6371.0088
)

var (
	mediumCases   = 5
	highCases     = 10
	criticalCases = 20

	mediumArea   = decimal.NewFromInt(50)
	highArea     = decimal.NewFromInt(200)
	criticalArea = decimal.NewFromInt(500)
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusContained, StatusResolved:
		return true
	}
	return false
}

// ParseSeverity accepts any casing; unknown values are rejected.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Escalate re-derives the cluster severity after a report was added.
// The result is never lower than current.
func Escalate(current Severity, confirmedCases int, affectedArea decimal.Decimal) Severity {
	derived := current
	switch {
	case confirmedCases >= criticalCases || affectedArea.GreaterThanOrEqual(criticalArea):
		derived = SeverityCritical
	case confirmedCases >= highCases || affectedArea.GreaterThanOrEqual(highArea):
		derived = SeverityHigh
	case confirmedCases >= mediumCases || affectedArea.GreaterThanOrEqual(mediumArea):
		derived = SeverityMedium
	}
	if derived.Rank() > current.Rank() {
		return derived
	}
	if !current.Valid() {
		return SeverityLow
	}
	return current
}

// ShouldAlert tells whether nearby farmers get notified about the cluster.
func ShouldAlert(s Severity, confirmedCases, minCases int) bool {
	return s == SeverityCritical || confirmedCases >= minCases
}

type Box struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// BoundingBox is the square search window of +-deg around a point.
func BoundingBox(lat, lon, deg float64) Box {
	return Box{
		LatMin: lat - deg,
		LatMax: lat + deg,
		LonMin: lon - deg,
		LonMax: lon + deg,
	}
}

// BoxForRadius covers a circle of radiusKm around the point.
func BoxForRadius(lat, lon, radiusKm float64) Box {
	deg := s1.Angle(radiusKm / earthRadiusKm).Degrees()
	lonDeg := 180.0
	if c := math.Cos(lat * math.Pi / 180); c > 1e-6 {
		lonDeg = math.Min(deg/c, 180)
	}
	return Box{
		LatMin: lat - deg,
		LatMax: lat + deg,
		LonMin: lon - lonDeg,
		LonMax: lon + lonDeg,
	}
}

// CellToken returns the s2 cell token of the ~10km cell holding the point.
func CellToken(lat, lon float64) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(ClusterCellLevel).ToToken()
}

// ClusterKey is the canonical identity of an active cluster: the same
// disease on the same crop inside one ~10km cell.
func ClusterKey(disease, crop string, lat, lon float64) string {
	return fmt.Sprintf("%s|%s|%s", normalize(disease), normalize(crop), CellToken(lat, lon))
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusKm
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
