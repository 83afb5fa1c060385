package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/jobpool/pkg/core/concurrency"
	"github.com/fluxorio/jobpool/pkg/tcp"
)

// PoolStatsSource is implemented by *concurrency.ThreadPool.
type PoolStatsSource interface {
	Stats() concurrency.PoolStats
}

// ServerMetricsSource is implemented by *tcp.TCPServer.
type ServerMetricsSource interface {
	Metrics() tcp.ServerMetrics
}

func desc(subsystem, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
}

type poolCollector struct {
	source PoolStatsSource

	workers, queueCapacity, queued, busy     *prometheus.Desc
	submitted, completed, panicked, rejected *prometheus.Desc
}

// NewPoolCollector exports a pool's Stats at scrape time.
func NewPoolCollector(source PoolStatsSource) prometheus.Collector {
	return &poolCollector{
		source:        source,
		workers:       desc("pool", "workers", "Fixed number of pool workers"),
		queueCapacity: desc("pool", "queue_capacity", "Job queue capacity (0 = unbounded)"),
		queued:        desc("pool", "queued_jobs", "Jobs waiting in the queue"),
		busy:          desc("pool", "busy_workers", "Workers currently running a job"),
		submitted:     desc("pool", "submitted_jobs_total", "Jobs accepted by Submit"),
		completed:     desc("pool", "completed_jobs_total", "Jobs that returned, including panicked ones"),
		panicked:      desc("pool", "panicked_jobs_total", "Jobs that panicked"),
		rejected:      desc("pool", "rejected_jobs_total", "Submissions refused after shutdown began"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.queueCapacity
	ch <- c.queued
	ch <- c.busy
	ch <- c.submitted
	ch <- c.completed
	ch <- c.panicked
	ch <- c.rejected
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Workers))
	ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(s.QueueCapacity))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, float64(s.Busy))
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(c.panicked, prometheus.CounterValue, float64(s.Panicked))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected))
}

type serverCollector struct {
	source ServerMetricsSource

	accepted, rejected, handled, errored *prometheus.Desc
	queued, active, maxConns             *prometheus.Desc
}

// NewServerCollector exports a TCP server's Metrics at scrape time.
func NewServerCollector(source ServerMetricsSource) prometheus.Collector {
	return &serverCollector{
		source:   source,
		accepted: desc("tcp", "accepted_connections_total", "Connections accepted"),
		rejected: desc("tcp", "rejected_connections_total", "Connections closed without running the handler"),
		handled:  desc("tcp", "handled_connections_total", "Connections whose handler started"),
		errored:  desc("tcp", "error_connections_total", "Connections whose handler failed or panicked"),
		queued:   desc("tcp", "queued_connections", "Connections waiting for a worker"),
		active:   desc("tcp", "active_connections", "Connections queued or being handled"),
		maxConns: desc("tcp", "max_connections", "In-flight connection limit (0 = unlimited)"),
	}
}

func (c *serverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.rejected
	ch <- c.handled
	ch <- c.errored
	ch <- c.queued
	ch <- c.active
	ch <- c.maxConns
}

func (c *serverCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.CounterValue, float64(m.TotalAccepted))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(m.RejectedConnections))
	ch <- prometheus.MustNewConstMetric(c.handled, prometheus.CounterValue, float64(m.HandledConnections))
	ch <- prometheus.MustNewConstMetric(c.errored, prometheus.CounterValue, float64(m.ErrorConnections))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(m.QueuedConnections))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(m.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(m.MaxConns))
}

// RegisterPool registers a pool collector with registerer (default: DefaultRegisterer).
func RegisterPool(registerer prometheus.Registerer, source PoolStatsSource) error {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	return registerer.Register(NewPoolCollector(source))
}

// RegisterServer registers a server collector with registerer (default: DefaultRegisterer).
func RegisterServer(registerer prometheus.Registerer, source ServerMetricsSource) error {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	return registerer.Register(NewServerCollector(source))
}
