package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the monitor's latest sample as prometheus metrics.
type Collector struct {
	monitor *Monitor

	queueSize       *prometheus.Desc
	processingTime  *prometheus.Desc
	failureRate     *prometheus.Desc
	throughput      *prometheus.Desc
	deadLetterCount *prometheus.Desc
	activeWorkers   *prometheus.Desc
	healthScore     *prometheus.Desc
	processorUp     *prometheus.Desc
}

// NewCollector creates a prometheus collector backed by the monitor.
// Register it with a prometheus.Registerer to scrape queue health.
func NewCollector(monitor *Monitor) *Collector {
	return &Collector{
		monitor: monitor,
		queueSize: prometheus.NewDesc("queue_size",
			"Number of pending and processing items.", nil, nil),
		processingTime: prometheus.NewDesc("queue_avg_processing_seconds",
			"Average item processing duration in seconds.", nil, nil),
		failureRate: prometheus.NewDesc("queue_failure_rate",
			"Share of items in failed status.", nil, nil),
		throughput: prometheus.NewDesc("queue_throughput",
			"Completed items per second of processor uptime.", nil, nil),
		deadLetterCount: prometheus.NewDesc("queue_dead_letter_count",
			"Number of dead letter entries.", nil, nil),
		activeWorkers: prometheus.NewDesc("queue_active_workers",
			"Number of workers currently executing items.", nil, nil),
		healthScore: prometheus.NewDesc("queue_health_score",
			"Derived queue health score (0-100).", nil, nil),
		processorUp: prometheus.NewDesc("queue_processor_up",
			"Whether the processing loop is running.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueSize
	ch <- c.processingTime
	ch <- c.failureRate
	ch <- c.throughput
	ch <- c.deadLetterCount
	ch <- c.activeWorkers
	ch <- c.healthScore
	ch <- c.processorUp
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.monitor.Snapshot()

	up := 0.0
	if snap.Current.Processing {
		up = 1.0
	}

	ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(snap.Current.QueueSize))
	ch <- prometheus.MustNewConstMetric(c.processingTime, prometheus.GaugeValue, snap.Current.AvgProcessingTime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.failureRate, prometheus.GaugeValue, snap.Current.FailureRate)
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, snap.Current.Throughput)
	ch <- prometheus.MustNewConstMetric(c.deadLetterCount, prometheus.GaugeValue, float64(snap.Current.DeadLetterCount))
	ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(snap.Current.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(c.healthScore, prometheus.GaugeValue, float64(snap.HealthScore))
	ch <- prometheus.MustNewConstMetric(c.processorUp, prometheus.GaugeValue, up)
}
