// Package syncqueue delivers offline records to the server once the client is
// online. Records are persisted before any delivery attempt and leave the
// queue only when the server acknowledged them.
package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rootapi "farmapp/api"
	"farmapp/backend/server/api"
	"farmapp/client/store"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	PutRecord(ctx context.Context, rec *store.Record) error
	QueuedRecords(ctx context.Context, limit int) ([]*store.Record, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkRetrying(ctx context.Context, id string) error
	PruneSynced(ctx context.Context, cutoff time.Time) (int64, error)
}

type Monitor interface {
	Online() bool
	Subscribe(fn func())
}

type Deliverer interface {
	Deliver(ctx context.Context, rec *store.Record) (*api.SyncResponse, error)
}

type Options struct {
	Concurrency     int
	DeliveryTimeout time.Duration
	Retention       time.Duration
	PruneInterval   time.Duration
	Now             func() time.Time
}

const (
	DefaultConcurrency     = 10
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultPruneInterval   = time.Hour
)

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = DefaultPruneInterval
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// DrainReport is informational. Skipped means another drain was running and
// will pick the queue up again. Offline means nothing was attempted.
type DrainReport struct {
	Attempted int
	Synced    int
	Failed    int
	Skipped   bool
	Offline   bool
}

type Manager struct {
	store     Store
	monitor   Monitor
	deliverer Deliverer
	opts      Options

	draining atomic.Bool
	rerun    atomic.Bool
	inflight sync.WaitGroup
}

func NewManager(s Store, monitor Monitor, deliverer Deliverer, opts Options) *Manager {
	return &Manager{
		store:     s,
		monitor:   monitor,
		deliverer: deliverer,
		opts:      opts.withDefaults(),
	}
}

func (m *Manager) spawn(fn func()) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		fn()
	}()
}

// Wait blocks until every delivery and drain spawned so far has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Enqueue persists the record as pending. When online, one delivery starts in
// the background; its result lands in the store.
func (m *Manager) Enqueue(ctx context.Context, t rootapi.RecordType, payload json.RawMessage) (*store.Record, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown record type %q, expected one of %v", t, rootapi.RecordTypes())
	}
	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("payload must be a JSON object")
	}

	rec := store.NewRecord(t, json.RawMessage(trimmed), m.opts.Now())
	if err := m.store.PutRecord(ctx, rec); err != nil {
		return nil, err
	}
	log.Debugf("Queued %s", rec.ID)

	if m.monitor.Online() {
		bg := context.WithoutCancel(ctx)
		m.spawn(func() { m.deliver(bg, rec) })
	}
	return rec, nil
}

// deliver makes one attempt. Any error, including a timeout or a non-2xx
// answer, leaves the record failed and retryable.
func (m *Manager) deliver(ctx context.Context, rec *store.Record) bool {
	dctx, cancel := context.WithTimeout(ctx, m.opts.DeliveryTimeout)
	resp, err := m.deliverer.Deliver(dctx, rec)
	cancel()

	if err != nil {
		log.Warnf("Delivery of %s failed: %v", rec.ID, err)
		if err := m.store.MarkFailed(ctx, rec.ID, err.Error()); err != nil {
			log.Errorf("Failed to mark %s as failed: %v", rec.ID, err)
		}
		return false
	}
	if err := m.store.MarkSynced(ctx, rec.ID, m.opts.Now()); err != nil {
		log.Errorf("Failed to mark %s as synced: %v", rec.ID, err)
		return false
	}
	if resp != nil && resp.Result != nil {
		log.Debugf("Synced %s: %s %s", rec.ID, resp.Result.Action, resp.Result.Reason)
	}
	return true
}

// Drain attempts every queued record, oldest first, with at most
// Concurrency deliveries in flight. A call that finds a drain running asks it
// to read the queue once more before it finishes and returns Skipped. The
// error is only for a queue that cannot be read.
func (m *Manager) Drain(ctx context.Context) (*DrainReport, error) {
	if !m.monitor.Online() {
		return &DrainReport{Offline: true}, nil
	}
	m.rerun.Store(true)
	if !m.draining.CompareAndSwap(false, true) {
		log.Debug("Drain already in progress, queued a rerun")
		return &DrainReport{Skipped: true}, nil
	}

	report := &DrainReport{}
	for {
		m.rerun.Store(false)
		err := m.drainOnce(ctx, report)
		m.draining.Store(false)
		if err != nil {
			return nil, err
		}
		// A rerun requested after the flag was cleared either sees draining
		// released and runs itself, or is seen here.
		if !m.rerun.Load() || !m.monitor.Online() || ctx.Err() != nil {
			break
		}
		if !m.draining.CompareAndSwap(false, true) {
			break
		}
	}
	if report.Attempted > 0 {
		log.Infof("Drained sync queue: %d attempted, %d synced, %d failed", report.Attempted, report.Synced, report.Failed)
	}
	return report, nil
}

func (m *Manager) drainOnce(ctx context.Context, report *DrainReport) error {
	recs, err := m.store.QueuedRecords(ctx, 0)
	if err != nil {
		return err
	}

	var synced, failed atomic.Int64
	g := &errgroup.Group{}
	g.SetLimit(m.opts.Concurrency)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			if rec.State == store.StateFailed {
				if err := m.store.MarkRetrying(ctx, rec.ID); err != nil {
					log.Errorf("Failed to retry %s: %v", rec.ID, err)
					failed.Add(1)
					return nil
				}
			}
			if m.deliver(ctx, rec) {
				synced.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	report.Attempted += len(recs)
	report.Synced += int(synced.Load())
	report.Failed += int(failed.Load())
	return nil
}

func (m *Manager) Prune(ctx context.Context) (int64, error) {
	return m.PruneOlderThan(ctx, m.opts.Retention)
}

// PruneOlderThan deletes synced records created before now-window.
func (m *Manager) PruneOlderThan(ctx context.Context, window time.Duration) (int64, error) {
	n, err := m.store.PruneSynced(ctx, m.opts.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("Pruned %d synced records", n)
	}
	return n, nil
}

func (m *Manager) drainInBackground(ctx context.Context) {
	m.spawn(func() {
		if _, err := m.Drain(ctx); err != nil {
			log.Errorf("Drain failed: %v", err)
		}
	})
}

// Start drains on every transition to online, once right away when already
// online, and prunes every PruneInterval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.monitor.Subscribe(func() { m.drainInBackground(ctx) })
	if m.monitor.Online() {
		m.drainInBackground(ctx)
	}

	go func() {
		ticker := time.NewTicker(m.opts.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Prune(ctx); err != nil {
					log.Errorf("Prune failed: %v", err)
				}
			}
		}
	}()
}
