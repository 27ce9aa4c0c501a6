package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.Pipeline)
	require.NotNil(t, r.PrometheusRegistry())
}

func TestRegisterCounterRejectsDuplicates(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})
	require.NoError(t, r.RegisterCounter("svc", "test_counter_total", c))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_counter_total", Help: "test"})
	err := r.RegisterCounter("svc", "test_counter_total", c2)
	assert.Error(t, err)
}

func TestNewPoolMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	m, err := NewPoolMetrics(r, "batch_pool")
	require.NoError(t, err)
	require.NotNil(t, m.Submitted)
	require.NotNil(t, m.ProcessingTime)

	// A second set under the same prefix must be refused, not silently
	// split between two collector instances
	_, err = NewPoolMetrics(r, "batch_pool")
	assert.Error(t, err)

	_, err = NewPoolMetrics(r, "other_pool")
	assert.NoError(t, err)
}

func TestPoolMetricsServedByHandler(t *testing.T) {
	r := NewMetricsRegistry()

	m, err := NewPoolMetrics(r, "batch_pool")
	require.NoError(t, err)
	m.Submitted.Inc()
	m.Processed.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "batch_pool_submitted_total 1")
	assert.Contains(t, body, "batch_pool_processed_total 1")
}

func TestHandlerServesPipelineMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	r.Pipeline.JobsEnqueued.WithLabelValues("bulk_import").Inc()
	r.Pipeline.JobsDuplicate.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "recordstream_jobs_enqueued_total")
	assert.Contains(t, body, "recordstream_jobs_duplicate_total 1")
}
