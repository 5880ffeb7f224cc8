package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestIrrigation(t *testing.T) {
	testCases := []struct {
		name        string
		req         IrrigationRequest
		weather     Weather
		expectDepth float64
		expectWords string
	}{
		{
			name:        "rain covers demand",
			req:         IrrigationRequest{Crop: "wheat", FieldSize: 1, SoilType: "loam"},
			weather:     Weather{ReferenceET: 4, RainfallMm: 10},
			expectDepth: 0,
			expectWords: "No irrigation",
		}, {
			name:        "rice on loam",
			req:         IrrigationRequest{Crop: "Rice", FieldSize: 2, SoilType: "loam"},
			weather:     Weather{ReferenceET: 5, TemperatureC: 30},
			expectDepth: 6,
			expectWords: "Irrigate 6.0 mm today",
		}, {
			name:        "unknown crop on sandy soil",
			req:         IrrigationRequest{Crop: "quinoa", FieldSize: 1, SoilType: "sandy"},
			weather:     Weather{ReferenceET: 5, RainfallMm: 1, TemperatureC: 25},
			expectDepth: 5.2,
			expectWords: "sandy soil",
		}, {
			name:        "heat",
			req:         IrrigationRequest{Crop: "tomato", FieldSize: 1, SoilType: "clay"},
			weather:     Weather{ReferenceET: 4, TemperatureC: 38},
			expectDepth: 3.9,
			expectWords: "early in the morning",
		},
	}

	for _, testCase := range testCases {
		advice := Irrigation(&testCase.req, &testCase.weather)
		if advice.DepthMm != testCase.expectDepth {
			t.Errorf("%s, expected %.1f mm, got %.1f", testCase.name, testCase.expectDepth, advice.DepthMm)
		}
		if !strings.Contains(advice.Recommendation, testCase.expectWords) {
			t.Errorf("%s, unexpected recommendation %q", testCase.name, advice.Recommendation)
		}
		if advice.WaterRequirement < 0 {
			t.Errorf("%s, negative water requirement", testCase.name)
		}
	}
}

func TestFakesAreStable(t *testing.T) {
	ctx := context.Background()
	a, _ := FakeWeather{}.Current(ctx, 18.52, 73.85)
	b, _ := FakeWeather{}.Current(ctx, 18.52, 73.85)
	if a.TemperatureC != b.TemperatureC || a.RainfallMm != b.RainfallMm {
		t.Errorf("expected same reading for the same place, got %+v and %+v", a, b)
	}

	d1, _ := FakeClassifier{}.Classify(ctx, "tomato", []byte("img"))
	d2, _ := FakeClassifier{}.Classify(ctx, "Tomato", []byte("img"))
	if d1.Disease != d2.Disease || d1.Disease == "" {
		t.Errorf("expected a stable label, got %q and %q", d1.Disease, d2.Disease)
	}

	prices, _ := FakeMarket{}.Prices(ctx, "rice", "MH")
	if len(prices) != len(fakeMarkets) || !prices[0].Price.IsPositive() {
		t.Errorf("unexpected prices %+v", prices)
	}
}

type countingWeather struct {
	calls int32
	err   error
}

func (c *countingWeather) Current(_ context.Context, lat, lon float64) (*Weather, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return &Weather{Latitude: lat, Longitude: lon, TemperatureC: 30}, nil
}

func TestCachedWeather(t *testing.T) {
	next := &countingWeather{}
	cached := NewCachedWeather(next, time.Minute)
	ctx := context.Background()

	cached.Current(ctx, 18.521, 73.851)
	cached.Current(ctx, 18.524, 73.849)
	if next.calls != 1 {
		t.Errorf("expected one upstream call for the same grid square, got %d", next.calls)
	}
	cached.Current(ctx, 19.07, 72.87)
	if next.calls != 2 {
		t.Errorf("expected a second upstream call for another place, got %d", next.calls)
	}

	failing := NewCachedWeather(&countingWeather{err: ErrUnavailable}, time.Minute)
	if _, err := failing.Current(ctx, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPProviders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/current":
			if r.URL.Query().Get("key") != "k" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"temperature":31.5,"humidity":60,"rainfall":2,"referenceEt":5.1,"conditions":"cloudy"}`))
		case "/prices":
			w.Write([]byte(`[{"crop":"rice","market":"Pune APMC","price":"2150.50","change":"-1.5"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	w, err := NewHTTPWeather(ts.URL, "k").Current(ctx, 18.52, 73.85)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if w.TemperatureC != 31.5 || w.Latitude != 18.52 {
		t.Errorf("unexpected weather %+v", w)
	}
	if _, err := NewHTTPWeather(ts.URL, "wrong").Current(ctx, 1, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	prices, err := NewHTTPMarket(ts.URL).Prices(ctx, "rice", "")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(prices) != 1 || prices[0].Price.String() != "2150.5" {
		t.Errorf("unexpected prices %+v", prices)
	}
}

func TestNewProviderSet(t *testing.T) {
	if _, err := New(Config{Kind: "fake"}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := New(Config{Kind: "http"}); err == nil {
		t.Error("expected error for http providers without urls")
	}
	set, err := New(Config{Kind: "http", WeatherURL: "http://w", MarketURL: "http://m"})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, ok := set.Weather.(*CachedWeather); !ok {
		t.Errorf("expected cached weather, got %T", set.Weather)
	}
	if _, err := New(Config{Kind: "grpc"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
