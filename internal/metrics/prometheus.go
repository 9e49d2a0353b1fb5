package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	usersFlaggedTotal   prometheus.Counter
	usersUnflaggedTotal prometheus.Counter
	eventsPublished     *prometheus.CounterVec
	eventsProcessed     *prometheus.CounterVec
	bulkActionsTotal    *prometheus.CounterVec
	propagationDuration prometheus.Histogram
	queueDepth          prometheus.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheus creates and registers every collector under namespace.
func NewPrometheus(namespace string) *PrometheusRecorder {
	m := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		usersFlaggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_flagged_total",
			Help:      "Flag requests accepted by the Administrative API.",
		}),
		usersUnflaggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_unflagged_total",
			Help:      "Unflag requests accepted by the Administrative API.",
		}),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Change events published by status (success, failed, disabled).",
			},
			[]string{"status"},
		),
		eventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Change events handled by the worker by outcome (success, partial, poison, retry).",
			},
			[]string{"outcome"},
		),
		bulkActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_actions_total",
				Help:      "Per-document bulk actions by result.",
			},
			[]string{"result"},
		),
		propagationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "propagation_duration_seconds",
			Help:      "Time to scan and bulk-update the documents of one event.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Change events waiting in the channel.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.usersFlaggedTotal,
		m.usersUnflaggedTotal,
		m.eventsPublished,
		m.eventsProcessed,
		m.bulkActionsTotal,
		m.propagationDuration,
		m.queueDepth,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *PrometheusRecorder) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *PrometheusRecorder) IncUserFlagged()   { m.usersFlaggedTotal.Inc() }
func (m *PrometheusRecorder) IncUserUnflagged() { m.usersUnflaggedTotal.Inc() }

func (m *PrometheusRecorder) IncEventPublished(status string) {
	m.eventsPublished.WithLabelValues(status).Inc()
}

func (m *PrometheusRecorder) IncEventProcessed(outcome string) {
	m.eventsProcessed.WithLabelValues(outcome).Inc()
}

func (m *PrometheusRecorder) AddBulkActions(succeeded, failed int) {
	m.bulkActionsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	m.bulkActionsTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *PrometheusRecorder) ObservePropagationDuration(duration time.Duration) {
	m.propagationDuration.Observe(duration.Seconds())
}

func (m *PrometheusRecorder) SetQueueDepth(depth int64) {
	m.queueDepth.Set(float64(depth))
}
