package outbreak

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEscalate(t *testing.T) {
	testCases := []struct {
		name    string
		current Severity
		cases   int
		area    int64
		expect  Severity
	}{
		{"below every threshold", SeverityLow, 4, 49, SeverityLow},
		{"five reports", SeverityLow, 5, 0, SeverityMedium},
		{"fifty acres", SeverityLow, 1, 50, SeverityMedium},
		{"ten reports", SeverityMedium, 10, 0, SeverityHigh},
		{"two hundred acres", SeverityLow, 2, 200, SeverityHigh},
		{"twenty reports", SeverityHigh, 20, 0, SeverityCritical},
		{"five hundred acres", SeverityLow, 1, 500, SeverityCritical},
		{"no downgrade from reported high", SeverityHigh, 1, 0, SeverityHigh},
		{"no downgrade from critical", SeverityCritical, 5, 10, SeverityCritical},
		{"empty current becomes low", "", 1, 0, SeverityLow},
	}

	for _, testCase := range testCases {
		got := Escalate(testCase.current, testCase.cases, decimal.NewFromInt(testCase.area))
		if got != testCase.expect {
			t.Errorf("%s: expected %s, got %s", testCase.name, testCase.expect, got)
		}
	}
}

func TestEscalateIsMonotonic(t *testing.T) {
	sev := SeverityLow
	area := decimal.Zero
	perReport := decimal.RequireFromString("12.5")
	for cases := 1; cases <= 40; cases++ {
		area = area.Add(perReport)
		next := Escalate(sev, cases, area)
		if next.Rank() < sev.Rank() {
			t.Fatalf("severity went down from %s to %s at %d reports", sev, next, cases)
		}
		sev = next
		switch cases {
		case 5:
			if sev != SeverityMedium {
				t.Errorf("expected medium at 5 reports, got %s", sev)
			}
		case 10:
			if sev != SeverityHigh {
				t.Errorf("expected high at 10 reports, got %s", sev)
			}
		case 20:
			if sev != SeverityCritical {
				t.Errorf("expected critical at 20 reports, got %s", sev)
			}
		}
	}
}

func TestShouldAlert(t *testing.T) {
	if !ShouldAlert(SeverityCritical, 1, 10) {
		t.Error("critical cluster must alert")
	}
	if !ShouldAlert(SeverityLow, 10, 10) {
		t.Error("ten confirmed cases must alert")
	}
	if ShouldAlert(SeverityHigh, 9, 10) {
		t.Error("high with nine cases must not alert")
	}
}

func TestParse(t *testing.T) {
	if s, err := ParseSeverity(" HIGH "); err != nil || s != SeverityHigh {
		t.Errorf("expected high, got %s, %v", s, err)
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if s, err := ParseStatus("Resolved"); err != nil || s != StatusResolved {
		t.Errorf("expected resolved, got %s, %v", s, err)
	}
	if _, err := ParseStatus("closed"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestClusterKey(t *testing.T) {
	a := ClusterKey(" Late Blight", "Tomato", 18.5204, 73.8567)
	b := ClusterKey("late blight", "TOMATO ", 18.5204, 73.8567)
	if a != b {
		t.Errorf("expected case-insensitive key, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "late blight|tomato|") {
		t.Errorf("unexpected key %s", a)
	}
	far := ClusterKey("late blight", "tomato", 19.0760, 72.8777)
	if far == a {
		t.Errorf("expected different key for a point ~120km away")
	}
}

func TestDistanceAndBoxes(t *testing.T) {
	// Pune to Mumbai is roughly 120km.
	d := DistanceKm(18.5204, 73.8567, 19.0760, 72.8777)
	if d < 110 || d > 130 {
		t.Errorf("unexpected distance %v", d)
	}

	box := BoundingBox(10, 20, 0.09)
	if math.Abs(box.LatMin-9.91) > 1e-9 || math.Abs(box.LonMax-20.09) > 1e-9 {
		t.Errorf("unexpected box %+v", box)
	}

	r := BoxForRadius(45, 10, 25)
	latSpan := r.LatMax - 45
	lonSpan := r.LonMax - 10
	if math.Abs(latSpan-0.2248) > 0.001 {
		t.Errorf("unexpected latitude span %v", latSpan)
	}
	if lonSpan <= latSpan {
		t.Errorf("longitude span %v must exceed latitude span %v away from the equator", lonSpan, latSpan)
	}
}
