package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry                   *prometheus.Registry
	requestTotal               *prometheus.CounterVec
	requestDuration            *prometheus.HistogramVec
	relayOutcomesTotal         *prometheus.CounterVec
	submissionsCoalescedTotal  prometheus.Counter
	streamSessionsActive       prometheus.Gauge
	streamEventsTotal          *prometheus.CounterVec
	callbacksTotal             *prometheus.CounterVec
	notificationsEnqueuedTotal *prometheus.CounterVec
	rateLimitRejected          *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		relayOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_relay_outcomes_total",
			Help: "Total relay submissions by classified outcome.",
		}, []string{"outcome"}),
		submissionsCoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxflow_relay_submissions_coalesced_total",
			Help: "Submissions that attached to an identical in-flight upstream call.",
		}),
		streamSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxflow_stream_sessions_active",
			Help: "Currently open status stream sessions.",
		}),
		streamEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_stream_events_total",
			Help: "Total status stream events emitted by type.",
		}, []string{"type"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_callbacks_total",
			Help: "Total worker callbacks by ingestion result.",
		}, []string{"result"}),
		notificationsEnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_notifications_enqueued_total",
			Help: "Total webhook notifications enqueued by event.",
		}, []string{"event"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.relayOutcomesTotal,
		m.submissionsCoalescedTotal,
		m.streamSessionsActive,
		m.streamEventsTotal,
		m.callbacksTotal,
		m.notificationsEnqueuedTotal,
		m.rateLimitRejected,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/submit"):
		return "/v1/jobs/{id}/submit"
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/events"):
		return "/v1/jobs/{id}/events"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case strings.HasPrefix(path, "/v1/jobs"):
		return "/v1/jobs"
	case strings.HasPrefix(path, "/v1/submissions"):
		return "/v1/submissions"
	case strings.HasPrefix(path, "/v1/callbacks"):
		return "/v1/callbacks/transcription"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps SSE responses streaming through the metrics wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
