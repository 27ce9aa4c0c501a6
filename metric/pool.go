package metric

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics instruments worker pools. One set is registered per prefix and
// shared by every pool constructed under it, so counters accumulate across
// batch runs instead of colliding on re-registration.
type PoolMetrics struct {
	QueueDepth     prometheus.Gauge
	Submitted      prometheus.Counter
	Processed      prometheus.Counter
	Failed         prometheus.Counter
	Dropped        prometheus.Counter
	ProcessingTime *prometheus.HistogramVec // by status (success|error)
}

// NewPoolMetrics builds pool metrics and registers them under the given
// prefix. Registering the same prefix twice fails.
func NewPoolMetrics(r Registrar, prefix string) (*PoolMetrics, error) {
	m := &PoolMetrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to full queue",
		}),
		ProcessingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const serviceName = "worker_pool"
	if err := r.RegisterGauge(serviceName, prefix+"_queue_depth", m.QueueDepth); err != nil {
		return nil, err
	}
	if err := r.RegisterCounter(serviceName, prefix+"_submitted_total", m.Submitted); err != nil {
		return nil, err
	}
	if err := r.RegisterCounter(serviceName, prefix+"_processed_total", m.Processed); err != nil {
		return nil, err
	}
	if err := r.RegisterCounter(serviceName, prefix+"_failed_total", m.Failed); err != nil {
		return nil, err
	}
	if err := r.RegisterCounter(serviceName, prefix+"_dropped_total", m.Dropped); err != nil {
		return nil, err
	}
	if err := r.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.ProcessingTime); err != nil {
		return nil, err
	}
	return m, nil
}
