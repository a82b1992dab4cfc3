package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats provides the metrics collector access to live engine state.
type EngineStats interface {
	Transcribing() bool
	TranscriptionsPending() int
	CatalogSize() int
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats EngineStats

	transcribing         *prometheus.Desc
	transcriptionPending *prometheus.Desc
	catalogRecordings    *prometheus.Desc
	sseSubscribers       *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil, in which case every gauge reports 0.
func NewCollector(stats EngineStats) *Collector {
	return &Collector{
		stats: stats,
		transcribing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcribing"),
			"1 while a transcription call is in progress.",
			nil, nil,
		),
		transcriptionPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcriptions_pending"),
			"Transcription jobs waiting for the worker.",
			nil, nil,
		),
		catalogRecordings: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "catalog", "recordings"),
			"Recordings in the catalog.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transcribing
	ch <- c.transcriptionPending
	ch <- c.catalogRecordings
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.transcribing, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.transcriptionPending, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.catalogRecordings, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
		return
	}

	busy := 0.0
	if c.stats.Transcribing() {
		busy = 1
	}
	ch <- prometheus.MustNewConstMetric(c.transcribing, prometheus.GaugeValue, busy)
	ch <- prometheus.MustNewConstMetric(c.transcriptionPending, prometheus.GaugeValue, float64(c.stats.TranscriptionsPending()))
	ch <- prometheus.MustNewConstMetric(c.catalogRecordings, prometheus.GaugeValue, float64(c.stats.CatalogSize()))
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SSESubscriberCount()))
}
