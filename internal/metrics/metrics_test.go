package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordImported("invoices", "created", 3)
	m.RecordImported("invoices", "created", 2)
	m.RecordImported("invoices", "failed", 0)
	m.RecordBatch("invoices", "completed", 2*time.Second)
	m.RecordQueueJob("import-invoices", "completed")

	assert.Equal(t, 5.0, testutil.ToFloat64(m.ImportedRecords.WithLabelValues("invoices", "created")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ImportedRecords.WithLabelValues("invoices", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportBatches.WithLabelValues("invoices", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueJobs.WithLabelValues("import-invoices", "completed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordImported("accounts", "created", 1)
		m.RecordBatch("accounts", "failed", time.Second)
		m.RecordProviderCall("ok")
		m.RecordTokenRefresh("ok")
		m.RecordSyncJob("completed")
		m.RecordQueueJob("q", "failed")
	})
}
