package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "latency_bench"

// Collector exports a Recorder to Prometheus. Values are read from the
// recorder on every scrape.
type Collector struct {
	rec       *Recorder
	transport string

	events  *prometheus.Desc
	latency *prometheus.Desc
}

// NewCollector creates a collector labelled with the transport kind.
func NewCollector(rec *Recorder, transportKind string) *Collector {
	constLabels := prometheus.Labels{"transport": transportKind}
	return &Collector{
		rec:       rec,
		transport: transportKind,
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Pipeline event counters by name.",
			[]string{"name"},
			constLabels,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "latency_seconds"),
			"End-to-end tick latency over the recorder window.",
			nil,
			constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.rec.Counters() {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), name)
	}

	snap := c.rec.Snapshot()
	ch <- prometheus.MustNewConstSummary(c.latency,
		snap.Count,
		snap.Sum.Seconds(),
		map[float64]float64{
			0.5:  snap.P50.Seconds(),
			0.95: snap.P95.Seconds(),
			0.99: snap.P99.Seconds(),
		},
	)
}
