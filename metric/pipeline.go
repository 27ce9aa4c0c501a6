package metric

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics holds the core metrics for the job-dispatch pipeline.
// Labels follow the envelope operation tags so import/export throughput can
// be separated from single-record traffic.
type PipelineMetrics struct {
	JobsEnqueued    *prometheus.CounterVec // by op
	JobsProcessed   *prometheus.CounterVec // by op, status (success|failed)
	JobsDuplicate   prometheus.Counter
	JobsRedelivered prometheus.Counter
	StoreOps        *prometheus.CounterVec // by op (create|read|update|delete|scan)
	RowsImported    prometheus.Counter
	RowsRejected    prometheus.Counter
	ProcessingTime  *prometheus.HistogramVec // by op
}

func newPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recordstream_jobs_enqueued_total",
			Help: "Job envelopes published to the broker",
		}, []string{"op"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recordstream_jobs_processed_total",
			Help: "Job envelopes processed by the worker loop",
		}, []string{"op", "status"}),
		JobsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recordstream_jobs_duplicate_total",
			Help: "Redelivered envelopes skipped by the idempotency ledger",
		}),
		JobsRedelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recordstream_jobs_redelivery_requested_total",
			Help: "Envelopes left unacknowledged for broker redelivery",
		}),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recordstream_store_operations_total",
			Help: "Record store operations by type",
		}, []string{"op"}),
		RowsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recordstream_rows_imported_total",
			Help: "CSV rows successfully imported into the store",
		}),
		RowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recordstream_rows_rejected_total",
			Help: "CSV rows rejected as malformed",
		}),
		ProcessingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recordstream_job_processing_duration_seconds",
			Help:    "Time spent processing job envelopes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op"}),
	}
}

func (p *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.JobsEnqueued,
		p.JobsProcessed,
		p.JobsDuplicate,
		p.JobsRedelivered,
		p.StoreOps,
		p.RowsImported,
		p.RowsRejected,
		p.ProcessingTime,
	}
}
