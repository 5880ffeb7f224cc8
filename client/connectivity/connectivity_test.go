package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type staticProber struct {
	up atomic.Bool
}

func (p *staticProber) Probe(context.Context) bool {
	return p.up.Load()
}

func TestMonitorTransitions(t *testing.T) {
	p := &staticProber{}
	m := New(p)
	calls := 0
	m.Subscribe(func() { calls++ })

	if m.Online() {
		t.Fatalf("expected a new monitor to be offline")
	}

	m.SetNetworkReachable(true)
	m.SetNetworkReachable(true)
	if !m.Online() || calls != 1 {
		t.Errorf("expected one online notification, got online=%v calls=%d", m.Online(), calls)
	}

	m.SetForcedOffline(true)
	if m.Online() || calls != 1 {
		t.Errorf("forced offline must report offline without a callback, got online=%v calls=%d", m.Online(), calls)
	}

	// Leaving forced mode re-probes, and the prober says the network is gone.
	m.SetForcedOffline(false)
	if m.Online() || calls != 1 {
		t.Errorf("expected to stay offline after the probe failed, got online=%v calls=%d", m.Online(), calls)
	}

	p.up.Store(true)
	m.SetForcedOffline(true)
	m.SetForcedOffline(false)
	if !m.Online() || calls != 2 {
		t.Errorf("expected a second online notification, got online=%v calls=%d", m.Online(), calls)
	}

	m.SetNetworkReachable(false)
	if m.Online() || calls != 2 {
		t.Errorf("going offline must not notify, got calls=%d", calls)
	}
	if !m.Refresh(context.Background()) || calls != 3 {
		t.Errorf("expected refresh to bring the monitor online, got calls=%d", calls)
	}
}

func TestWatchPolls(t *testing.T) {
	p := &staticProber{}
	p.up.Store(true)
	m := New(p)
	online := make(chan struct{}, 1)
	m.Subscribe(func() { online <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, 5*time.Millisecond)

	select {
	case <-online:
	case <-time.After(time.Second):
		t.Fatalf("expected watch to detect the network")
	}
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL+"/", time.Second)
	if !p.Probe(context.Background()) {
		t.Errorf("expected a healthy server to be reachable")
	}
	status.Store(http.StatusServiceUnavailable)
	if p.Probe(context.Background()) {
		t.Errorf("expected a 503 to be unreachable")
	}

	srv.Close()
	if p.Probe(context.Background()) {
		t.Errorf("expected a closed server to be unreachable")
	}
}
