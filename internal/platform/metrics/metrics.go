package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the live recorder.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	errorsTotal             prometheus.Counter
	recordingsStartedTotal  prometheus.Counter
	recordingsFinishedTotal prometheus.Counter
	segmentsDiscoveredTotal prometheus.Counter
	batchesStartedTotal     prometheus.Counter
	batchFailuresTotal      prometheus.Counter
	batchesSkippedTotal     prometheus.Counter
	activeRecordings        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	recordingsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_recordings_started_total",
		Help: "Total number of recording sessions started",
	})
	recordingsFinishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_recordings_finished_total",
		Help: "Total number of recording sessions that reached their terminal state",
	})
	segmentsDiscoveredTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_segments_discovered_total",
		Help: "Total number of distinct segments discovered across all sessions",
	})
	batchesStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_batches_started_total",
		Help: "Total number of batch downloads started",
	})
	batchFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_batch_failures_total",
		Help: "Total number of batch downloads that failed or timed out",
	})
	batchesSkippedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livedownload_batches_skipped_total",
		Help: "Total number of batch files skipped at concatenation time",
	})
	activeRecordings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livedownload_active_recordings",
		Help: "Number of recording sessions that have not finished",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		recordingsStartedTotal,
		recordingsFinishedTotal,
		segmentsDiscoveredTotal,
		batchesStartedTotal,
		batchFailuresTotal,
		batchesSkippedTotal,
		activeRecordings,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		recordingsStartedTotal:  recordingsStartedTotal,
		recordingsFinishedTotal: recordingsFinishedTotal,
		segmentsDiscoveredTotal: segmentsDiscoveredTotal,
		batchesStartedTotal:     batchesStartedTotal,
		batchFailuresTotal:      batchFailuresTotal,
		batchesSkippedTotal:     batchesSkippedTotal,
		activeRecordings:        activeRecordings,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRecordingsStarted increments the recordings started counter.
func (m *Metrics) IncRecordingsStarted() {
	m.recordingsStartedTotal.Inc()
}

// IncRecordingsFinished increments the recordings finished counter.
func (m *Metrics) IncRecordingsFinished() {
	m.recordingsFinishedTotal.Inc()
}

// AddSegmentsDiscovered adds n newly discovered segments to the counter.
func (m *Metrics) AddSegmentsDiscovered(n int) {
	m.segmentsDiscoveredTotal.Add(float64(n))
}

// IncBatchesStarted increments the batches started counter.
func (m *Metrics) IncBatchesStarted() {
	m.batchesStartedTotal.Inc()
}

// IncBatchFailures increments the batch failure counter.
func (m *Metrics) IncBatchFailures() {
	m.batchFailuresTotal.Inc()
}

// AddBatchesSkipped adds n skipped batches to the counter.
func (m *Metrics) AddBatchesSkipped(n int) {
	m.batchesSkippedTotal.Add(float64(n))
}

// SetActiveRecordings sets the active recordings gauge.
func (m *Metrics) SetActiveRecordings(n int) {
	m.activeRecordings.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// active recordings).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
