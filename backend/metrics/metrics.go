package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SyncItemsTotal counts reconciled sync items by record type, action and item status.
	SyncItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmapp",
		Subsystem: "sync",
		Name:      "items_total",
		Help:      "Total number of sync items processed, labeled by type, action and status.",
	}, []string{"type", "action", "status"})

	// SyncBatchSize is the number of items per batch request.
	SyncBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "farmapp",
		Subsystem: "sync",
		Name:      "batch_size",
		Help:      "Number of items in a batch sync request.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	OutbreakReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmapp",
		Subsystem: "outbreak",
		Name:      "reports_total",
		Help:      "Total number of outbreak reports, labeled by result (created, merged, error).",
	}, []string{"result"})

	OutbreakAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmapp",
		Subsystem: "outbreak",
		Name:      "alerts_total",
		Help:      "Total number of outbreak alerts, labeled by result (sent, error).",
	}, []string{"result"})
)

// Register registers farmapp metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SyncItemsTotal,
			SyncBatchSize,
			OutbreakReportsTotal,
			OutbreakAlertsTotal,
		)
	})
}
