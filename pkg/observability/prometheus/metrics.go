package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/jobpool/pkg/core/concurrency"
)

const namespace = "jobpool"

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "jobpool"}, DefaultRegistry)
)

// Job outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomePanic = "panic"
)

// Metrics holds the per-job Prometheus metrics. Pool and server gauges are
// read at scrape time by the collectors in collector.go.
type Metrics struct {
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobWait     prometheus.Histogram
}

// NewMetrics registers the job metrics with registerer. A nil registerer
// means DefaultRegisterer; registering twice on the same one panics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		JobsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of jobs run by the pool",
			},
			[]string{"outcome"},
		),
		JobDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time a worker spent running a job",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		JobWait: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_queue_wait_seconds",
				Help:      "Time a job spent queued before a worker picked it up",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
		),
	}
}

// ObserveJob records one finished job. Its signature matches
// concurrency.JobObserver.
func (m *Metrics) ObserveJob(result concurrency.JobResult) {
	outcome := OutcomeOK
	if result.Panic != nil {
		outcome = OutcomePanic
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(result.Elapsed.Seconds())
	m.JobWait.Observe(result.Waited.Seconds())
}
