// Package telemetry exposes Prometheus metrics for the analysis service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	SessionsAnalyzed *prometheus.CounterVec
	AnalysisErrors   *prometheus.CounterVec
	Archetypes       *prometheus.CounterVec
	FeatureFailures  *prometheus.CounterVec
	DataQuality      *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	OpenStreams      prometheus.Gauge
	WSConnections    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playprofile_sessions_analyzed_total",
			Help: "Sessions analyzed, by longitudinal status of the resulting report",
		}, []string{"status"}),
		AnalysisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playprofile_analysis_errors_total",
			Help: "Analysis failures and partial results, by error kind",
		}, []string{"kind"}),
		Archetypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playprofile_archetypes_total",
			Help: "Archetype labels assigned",
		}, []string{"label"}),
		FeatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playprofile_feature_failures_total",
			Help: "Individual feature computations that failed",
		}, []string{"feature"}),
		DataQuality: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playprofile_data_quality_flags_total",
			Help: "Data-quality flags raised on feature vectors",
		}, []string{"flag"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "playprofile_analysis_duration_seconds",
			Help:    "Wall time of one session analysis",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		OpenStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playprofile_open_streams",
			Help: "Sessions currently being collected over websocket",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playprofile_ws_connections",
			Help: "Open websocket connections",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsAnalyzed,
		m.AnalysisErrors,
		m.Archetypes,
		m.FeatureFailures,
		m.DataQuality,
		m.AnalysisDuration,
		m.OpenStreams,
		m.WSConnections,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// ObserveSince records the analysis duration measured from start.
func (m *Metrics) ObserveSince(start time.Time) {
	m.AnalysisDuration.Observe(time.Since(start).Seconds())
}
