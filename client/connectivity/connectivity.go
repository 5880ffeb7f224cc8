// Package connectivity tracks whether the client can reach the server. The
// effective state is online only when the network is reachable and the user
// has not forced offline mode.
package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	rootapi "farmapp/api"

	"github.com/apex/log"
)

type Prober interface {
	Probe(ctx context.Context) bool
}

type Monitor struct {
	mu         sync.Mutex
	prober     Prober
	reachable  bool
	forced     bool
	subscriber func()
}

// New starts out unreachable until the first probe or event.
func New(prober Prober) *Monitor {
	return &Monitor{prober: prober}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable && !m.forced
}

// Subscribe sets the single callback run on every transition to online.
func (m *Monitor) Subscribe(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = fn
}

// update applies fn under the lock and notifies the subscriber after an
// offline to online transition.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	was := m.reachable && !m.forced
	fn()
	now := m.reachable && !m.forced
	sub := m.subscriber
	m.mu.Unlock()

	if was == now {
		return
	}
	log.Infof("Connectivity changed, online: %v", now)
	if now && sub != nil {
		sub()
	}
}

func (m *Monitor) SetNetworkReachable(reachable bool) {
	m.update(func() { m.reachable = reachable })
}

// SetForcedOffline goes offline at once. Leaving forced mode probes the
// network first, so the state reflects what is actually reachable.
func (m *Monitor) SetForcedOffline(forced bool) {
	if forced {
		m.update(func() { m.forced = true })
		return
	}
	reachable := m.probe(context.Background())
	m.update(func() {
		m.forced = false
		m.reachable = reachable
	})
}

// Refresh probes once and records the result.
func (m *Monitor) Refresh(ctx context.Context) bool {
	m.SetNetworkReachable(m.probe(ctx))
	return m.Online()
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.prober == nil {
		return false
	}
	return m.prober.Probe(ctx)
}

// Watch probes every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// HTTPProber treats any 2xx from the health endpoint as reachable.
type HTTPProber struct {
	url    string
	client *http.Client
}

func NewHTTPProber(serverURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:    strings.TrimRight(serverURL, "/") + rootapi.HealthEndpoint,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		log.Debugf("Probe of %s failed: %v", p.url, err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
