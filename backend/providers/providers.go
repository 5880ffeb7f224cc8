// Package providers puts the external data sources behind interfaces: weather,
// market prices and the disease classifier. Fakes serve development and
// tests, HTTP implementations pass through to third-party services.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmapp/backend/server/api"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("provider unavailable")

type Weather struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	TemperatureC float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	RainfallMm   float64   `json:"rainfall"`
	WindKph      float64   `json:"windSpeed"`
	ReferenceET  float64   `json:"referenceEt"` // mm/day
	Conditions   string    `json:"conditions"`
	ObservedAt   time.Time `json:"observedAt"`
}

type MarketPrice struct {
	Crop      string          `json:"crop"`
	Market    string          `json:"market"`
	Region    string          `json:"region"`
	Price     decimal.Decimal `json:"price"` // per quintal
	Change    decimal.Decimal `json:"change"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (*Weather, error)
}

type MarketDataProvider interface {
	Prices(ctx context.Context, crop, region string) ([]MarketPrice, error)
}

type DiseaseClassifier interface {
	Classify(ctx context.Context, crop string, image []byte) (*api.DiagnosisResult, error)
}

type Set struct {
	Weather    WeatherProvider
	Market     MarketDataProvider
	Classifier DiseaseClassifier
}

type Config struct {
	Kind          string // fake or http
	WeatherURL    string
	WeatherAPIKey string
	MarketURL     string
	CacheTTL      time.Duration
}

// New builds the provider set. HTTP providers are wrapped in a TTL cache.
func New(cfg Config) (*Set, error) {
	switch cfg.Kind {
	case "", "fake":
		return &Set{
			Weather:    &FakeWeather{},
			Market:     &FakeMarket{},
			Classifier: &FakeClassifier{},
		}, nil
	case "http":
		if cfg.WeatherURL == "" || cfg.MarketURL == "" {
			return nil, fmt.Errorf("http providers need WEATHER_API_URL and MARKET_API_URL")
		}
		return &Set{
			Weather:    NewCachedWeather(NewHTTPWeather(cfg.WeatherURL, cfg.WeatherAPIKey), cfg.CacheTTL),
			Market:     NewCachedMarket(NewHTTPMarket(cfg.MarketURL), cfg.CacheTTL),
			Classifier: &FakeClassifier{},
		}, nil
	}
	return nil, fmt.Errorf("unknown providers kind %q", cfg.Kind)
}
