package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"farmapp/backend/server/api"

	"github.com/shopspring/decimal"
)

// FakeWeather derives stable readings from the coordinates.
type FakeWeather struct{}

func (FakeWeather) Current(_ context.Context, lat, lon float64) (*Weather, error) {
	seed := hashOf(decimal.NewFromFloat(lat).StringFixed(2), decimal.NewFromFloat(lon).StringFixed(2))
	temp := 34 - math.Abs(lat)*0.4 + float64(seed%60)/10
	humidity := 40 + float64(seed%45)
	rain := 0.0
	if seed%4 == 0 {
		rain = float64(seed%120) / 10
	}
	conditions := "clear"
	if rain > 0 {
		conditions = "rain"
	} else if humidity > 70 {
		conditions = "cloudy"
	}
	return &Weather{
		Latitude:     lat,
		Longitude:    lon,
		TemperatureC: round1(temp),
		Humidity:     humidity,
		RainfallMm:   rain,
		WindKph:      float64(seed % 25),
		ReferenceET:  round1(math.Max(1, 0.0023*(temp+17.8)*math.Sqrt(10)*12)),
		Conditions:   conditions,
		ObservedAt:   time.Now().UTC().Truncate(time.Hour),
	}, nil
}

var fakeMarkets = []string{"Pune APMC", "Nashik APMC", "Azadpur Mandi"}

type FakeMarket struct{}

func (FakeMarket) Prices(_ context.Context, crop, region string) ([]MarketPrice, error) {
	ret := []MarketPrice{}
	for _, m := range fakeMarkets {
		seed := hashOf(strings.ToLower(crop), m)
		ret = append(ret, MarketPrice{
			Crop:      crop,
			Market:    m,
			Region:    region,
			Price:     decimal.New(int64(1200+seed%3000), 0),
			Change:    decimal.New(int64(seed%200)-100, -1),
			UpdatedAt: time.Now().UTC().Truncate(24 * time.Hour),
		})
	}
	return ret, nil
}

var fakeDiseases = []api.DiagnosisResult{
	{
		Disease:     "Late Blight",
		Severity:    "high",
		Description: "Water-soaked lesions spreading quickly in humid weather.",
		Symptoms:    []string{"dark lesions on leaves", "white growth under leaves"},
		Treatment:   []string{"copper fungicide", "remove infected plants"},
		Prevention:  []string{"avoid overhead watering", "rotate crops"},
	},
	{
		Disease:     "Leaf Rust",
		Severity:    "medium",
		Description: "Orange pustules on the leaf surface.",
		Symptoms:    []string{"orange pustules", "yellowing leaves"},
		Treatment:   []string{"propiconazole spray"},
		Prevention:  []string{"resistant varieties"},
	},
	{
		Disease:     "Powdery Mildew",
		Severity:    "low",
		Description: "White powdery patches on leaves and stems.",
		Symptoms:    []string{"white patches"},
		Treatment:   []string{"sulfur dust"},
		Prevention:  []string{"good air circulation"},
	},
	{
		Disease:     "Healthy",
		Severity:    "low",
		Description: "No disease detected.",
	},
}

// FakeClassifier labels an image by its hash, it does no inference.
type FakeClassifier struct{}

func (FakeClassifier) Classify(_ context.Context, crop string, image []byte) (*api.DiagnosisResult, error) {
	seed := hashOf(strings.ToLower(crop), string(image))
	r := fakeDiseases[seed%uint64(len(fakeDiseases))]
	r.Confidence = 0.6 + float64(seed%40)/100
	return &r, nil
}

func hashOf(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
