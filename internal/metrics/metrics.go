// Package metrics exposes the Prometheus instrumentation for the engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_engine_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fraud_engine_http_request_duration_milliseconds",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"path"},
	)
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_engine_evaluations_total",
			Help: "Total number of transaction evaluations by resulting risk level",
		},
		[]string{"risk_level"},
	)
	fraudChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_engine_fraud_checks_total",
			Help: "Total number of orchestrated fraud checks",
		},
		[]string{"risk_level", "partial"},
	)
	componentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_engine_component_failures_total",
			Help: "Total number of failed fraud check components",
		},
		[]string{"component"},
	)
	scoringEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_engine_scoring_events_total",
			Help: "Total number of scoring events processed by the stats worker",
		},
		[]string{"source"},
	)
	graphVertices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fraud_engine_graph_vertices",
			Help: "Number of vertices in the in-memory graph",
		},
	)
	graphEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fraud_engine_graph_edges",
			Help: "Number of edges in the in-memory graph",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(evaluationsTotal)
	prometheus.MustRegister(fraudChecksTotal)
	prometheus.MustRegister(componentFailuresTotal)
	prometheus.MustRegister(scoringEventsTotal)
	prometheus.MustRegister(graphVertices)
	prometheus.MustRegister(graphEdges)
}

// ObserveHTTPRequest records one handled request
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(path).Observe(float64(duration.Milliseconds()))
}

// RecordEvaluation records a completed transaction evaluation
func RecordEvaluation(riskLevel string) {
	evaluationsTotal.WithLabelValues(riskLevel).Inc()
}

// RecordFraudCheck records a completed orchestrated fraud check
func RecordFraudCheck(riskLevel string, partial bool) {
	fraudChecksTotal.WithLabelValues(riskLevel, strconv.FormatBool(partial)).Inc()
}

// RecordComponentFailure records a failed fraud check component
func RecordComponentFailure(component string) {
	componentFailuresTotal.WithLabelValues(component).Inc()
}

// RecordScoringEvent records a scoring event consumed by the stats worker
func RecordScoringEvent(source string) {
	scoringEventsTotal.WithLabelValues(source).Inc()
}

// SetGraphSize publishes the current graph dimensions
func SetGraphSize(vertices, edges int) {
	graphVertices.Set(float64(vertices))
	graphEdges.Set(float64(edges))
}
