package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nao_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the NAO pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	StageDuration   *prometheus.HistogramVec // labels: stage
	StageErrors     *prometheus.CounterVec   // labels: stage

	// Archive (CDS) metrics.
	ArchiveRequests        *prometheus.CounterVec   // labels: kind={reanalysis,forecast}, outcome={success,error}
	ArchiveRequestDuration *prometheus.HistogramVec // labels: kind

	FilesWritten          *prometheus.CounterVec // labels: stage
	FallbackSubstitutions *prometheus.CounterVec // labels: model
	RecordsPublished      prometheus.Counter
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a refresh job is running, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		StageErrors: counterVec("stage_errors_total", "Pipeline stages that ended in error.", "stage"),
		ArchiveRequests: counterVec("archive_requests_total",
			"Climate Data Store retrievals by kind and outcome.", "kind", "outcome"),
		ArchiveRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_request_duration_seconds",
			Help:      "Wall time of a Climate Data Store retrieval, queueing included.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
		FilesWritten: counterVec("files_written_total", "NetCDF files finalized by stage.", "stage"),
		FallbackSubstitutions: counterVec("fallback_substitutions_total",
			"Forecast initializations replaced by a missing-value placeholder.", "model"),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_records_published_total",
			Help:      "NAO index records written to the sink topic.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.PipelineRunning,
		m.StageDuration,
		m.StageErrors,
		m.ArchiveRequests,
		m.ArchiveRequestDuration,
		m.FilesWritten,
		m.FallbackSubstitutions,
		m.RecordsPublished,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
