// Package transport talks to the farmapp server: it delivers offline records
// to the sync endpoint and serves advisory GETs through the local cache.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	rootapi "farmapp/api"
	"farmapp/backend/server/api"
	"farmapp/client/store"

	"github.com/apex/log"
)

var ErrOffline = errors.New("offline and no fresh cached response")

// DeliveryError is a non-2xx answer from the server.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Body)
}

type ResponseCache interface {
	CachePut(ctx context.Context, signature string, body []byte, status int, at time.Time) error
	CacheGet(ctx context.Context, signature string, maxAge time.Duration, now time.Time) (*store.CachedResponse, error)
}

type Reachability interface {
	Online() bool
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   ResponseCache
	network Reachability
	now     func() time.Time
}

// New returns a client without a cache. Use WithCache for offline reads.
func New(cfg Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) WithCache(cache ResponseCache, network Reachability) *Client {
	c.cache = cache
	c.network = network
	return c
}

// timestampLayout matches the millisecond precision the server keys on.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Deliver posts one record to the sync endpoint. The record's creation time
// is sent as the event time so replays carry the same dedup key.
func (c *Client) Deliver(ctx context.Context, rec *store.Record) (*api.SyncResponse, error) {
	body, err := json.Marshal(&api.SyncItem{
		Type:      rec.Type,
		Data:      rec.Payload,
		Timestamp: rec.CreatedAt.UTC().Format(timestampLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	resp := &api.SyncResponse{}
	if _, err := c.do(ctx, http.MethodPost, rootapi.SyncEndpoint, bytes.NewReader(body), resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// do sends the request, decodes a 2xx body into out when out is set and
// returns the raw body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response of %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response of %s %s: %w", method, path, err)
		}
	}
	return raw, nil
}

// Signature identifies a GET by path and sorted query.
func Signature(method, path string, query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string{}, query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return method + " " + path + "?" + strings.Join(parts, "&")
}

// GetCached fetches path online and caches the body. Offline, or when the
// fetch fails on the network, it serves a cached body younger than ttl.
func (c *Client) GetCached(ctx context.Context, path string, query url.Values, ttl time.Duration) ([]byte, error) {
	sig := Signature(http.MethodGet, path, query)
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	online := c.network == nil || c.network.Online()
	if online {
		raw, err := c.do(ctx, http.MethodGet, target, nil, nil)
		if err == nil {
			if c.cache != nil {
				if err := c.cache.CachePut(ctx, sig, raw, http.StatusOK, c.now()); err != nil {
					log.Warnf("Failed to cache %s: %v", sig, err)
				}
			}
			return raw, nil
		}
		var derr *DeliveryError
		if errors.As(err, &derr) {
			return nil, err
		}
		log.Warnf("Fetching %s failed, trying the cache: %v", sig, err)
	}

	if c.cache == nil {
		return nil, ErrOffline
	}
	cached, err := c.cache.CacheGet(ctx, sig, ttl, c.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOffline
	}
	if err != nil {
		return nil, err
	}
	return cached.Body, nil
}
