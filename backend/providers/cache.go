package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultCacheTTL = 10 * time.Minute

func newCache(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return cache.New(ttl, 2*ttl)
}

// CachedWeather memoizes readings per ~1km grid square.
type CachedWeather struct {
	next  WeatherProvider
	cache *cache.Cache
}

func NewCachedWeather(next WeatherProvider, ttl time.Duration) *CachedWeather {
	return &CachedWeather{next: next, cache: newCache(ttl)}
}

func (c *CachedWeather) Current(ctx context.Context, lat, lon float64) (*Weather, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)
	if v, ok := c.cache.Get(key); ok {
		return v.(*Weather), nil
	}
	w, err := c.next.Current(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, w)
	return w, nil
}

type CachedMarket struct {
	next  MarketDataProvider
	cache *cache.Cache
}

func NewCachedMarket(next MarketDataProvider, ttl time.Duration) *CachedMarket {
	return &CachedMarket{next: next, cache: newCache(ttl)}
}

func (c *CachedMarket) Prices(ctx context.Context, crop, region string) ([]MarketPrice, error) {
	key := strings.ToLower(crop) + "|" + strings.ToLower(region)
	if v, ok := c.cache.Get(key); ok {
		return v.([]MarketPrice), nil
	}
	prices, err := c.next.Prices(ctx, crop, region)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, prices)
	return prices, nil
}
