package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"
)

var providerHTTPClient = &http.Client{
	Timeout: 8 * time.Second,
}

// HTTPWeather reads current weather from a JSON service:
// GET <base>/current?lat=..&lon=..&key=.. answering a Weather object.
type HTTPWeather struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPWeather(baseURL, apiKey string) *HTTPWeather {
	return &HTTPWeather{baseURL: baseURL, apiKey: apiKey, client: providerHTTPClient}
}

func (p *HTTPWeather) Current(ctx context.Context, lat, lon float64) (*Weather, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}
	w := &Weather{}
	if err := getJSON(ctx, p.client, p.baseURL+"/current?"+q.Encode(), w); err != nil {
		return nil, err
	}
	w.Latitude, w.Longitude = lat, lon
	return w, nil
}

// HTTPMarket reads prices from GET <base>/prices?crop=..&region=.. answering
// a list of MarketPrice objects.
type HTTPMarket struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMarket(baseURL string) *HTTPMarket {
	return &HTTPMarket{baseURL: baseURL, client: providerHTTPClient}
}

func (p *HTTPMarket) Prices(ctx context.Context, crop, region string) ([]MarketPrice, error) {
	q := url.Values{}
	q.Set("crop", crop)
	if region != "" {
		q.Set("region", region)
	}
	prices := []MarketPrice{}
	if err := getJSON(ctx, p.client, p.baseURL+"/prices?"+q.Encode(), &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		log.Errorf("Provider request failed: %v", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("Provider answered %d", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
