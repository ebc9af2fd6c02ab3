// Package metrics holds the Prometheus collectors for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is passed to every component that records something. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// ImportedRecords counts records by entity and outcome (created, updated, duplicate, failed)
	ImportedRecords *prometheus.CounterVec
	// ImportBatches counts finalized batches by entity and status
	ImportBatches *prometheus.CounterVec
	// ImportDuration records batch wall time in seconds
	ImportDuration *prometheus.HistogramVec
	// ProviderCalls counts provider API calls by result
	ProviderCalls *prometheus.CounterVec
	// TokenRefreshes counts refresh attempts by result
	TokenRefreshes *prometheus.CounterVec
	SyncJobs       *prometheus.CounterVec
	QueueJobs      *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors on a
// dedicated registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ImportedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_imported_records_total", Help: "Imported records by entity and outcome."},
			[]string{"entity", "outcome"},
		),
		ImportBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_import_batches_total", Help: "Finalized import batches by entity and status."},
			[]string{"entity", "status"},
		),
		ImportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "ledgersync_import_duration_seconds", Help: "Import batch duration in seconds.", Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600}},
			[]string{"entity"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_provider_calls_total", Help: "Provider API calls by result."},
			[]string{"result"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_token_refreshes_total", Help: "Token refresh attempts by result."},
			[]string{"result"},
		),
		SyncJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_sync_jobs_total", Help: "Sync jobs reaching a terminal status."},
			[]string{"status"},
		),
		QueueJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ledgersync_queue_jobs_total", Help: "Processed queue jobs by queue and result."},
			[]string{"queue", "result"},
		),
	}

	m.Registry.MustRegister(
		m.ImportedRecords,
		m.ImportBatches,
		m.ImportDuration,
		m.ProviderCalls,
		m.TokenRefreshes,
		m.SyncJobs,
		m.QueueJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RecordImported(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImportedRecords.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *Metrics) RecordBatch(entity, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.ImportBatches.WithLabelValues(entity, status).Inc()
	m.ImportDuration.WithLabelValues(entity).Observe(took.Seconds())
}

func (m *Metrics) RecordProviderCall(result string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSyncJob(status string) {
	if m == nil {
		return
	}
	m.SyncJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordQueueJob(queue, result string) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(queue, result).Inc()
}
