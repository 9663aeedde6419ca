package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// AnalysisTotal counts finished analyses by backend and outcome kind.
	AnalysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "garden_doctor",
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Total number of analysis requests, labeled by backend and result kind.",
	}, []string{"backend", "result"})

	// AnalysisDurationSeconds is end-to-end dispatcher time per request.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "garden_doctor",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "End-to-end time to analyze one image (backend call + normalize).",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"backend", "result"})

	// AnalysisInFlight is the number of backend invocations currently running.
	AnalysisInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "garden_doctor",
		Subsystem: "analysis",
		Name:      "in_flight",
		Help:      "Current number of backend invocations in progress.",
	})

	// CacheLookupsTotal counts result-cache lookups by outcome (hit, miss, error).
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "garden_doctor",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups, labeled by outcome.",
	}, []string{"outcome"})

	// ScratchCleanupErrorsTotal counts scratch files that could not be removed.
	ScratchCleanupErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "garden_doctor",
		Subsystem: "local",
		Name:      "scratch_cleanup_errors_total",
		Help:      "Total number of scratch files the local backend failed to delete.",
	})

	// HTTPRequestsTotal counts HTTP requests by route and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "garden_doctor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests, labeled by method, route and status.",
	}, []string{"method", "route", "status"})

	// SpanDurationSeconds records StartSpan durations.
	SpanDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "garden_doctor",
		Name:      "span_duration_seconds",
		Help:      "Duration of instrumented operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component", "operation", "result"})
)

// Register registers collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysisTotal,
			AnalysisDurationSeconds,
			AnalysisInFlight,
			CacheLookupsTotal,
			ScratchCleanupErrorsTotal,
			HTTPRequestsTotal,
			SpanDurationSeconds,
		)
	})
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
