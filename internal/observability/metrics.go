package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	automation    *prometheus.CounterVec
	passDuration  prometheus.Histogram
	lockWait      prometheus.Histogram
	droppedEvents prometheus.Counter
}

// NewMetrics builds and registers collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP error responses by error code.",
		}, []string{"path", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_transitions_total",
			Help:      "Accepted ticket status transitions.",
		}, []string{"type", "from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_rejections_total",
			Help:      "Business-rule rejections by operation and error code.",
		}, []string{"operation", "code"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Recorded approval decisions by decision and resulting level outcome.",
		}, []string{"decision", "outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation levels raised by rule.",
		}, []string{"rule"}),
		automation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_matches_total",
			Help:      "Automation rules applied by type and strategy.",
		}, []string{"type", "strategy"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_pass_duration_seconds",
			Help:      "Duration of one escalation scan.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_lock_wait_seconds",
			Help:      "Time spent waiting for a per-ticket lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events that could not be enqueued for delivery.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.transitions, m.rejections, m.decisions, m.escalations, m.automation,
		m.passDuration, m.lockWait, m.droppedEvents,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

func (m *Metrics) RecordTransition(ticketType, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(ticketType, from, to).Inc()
}

func (m *Metrics) RecordRejection(operation, code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) RecordDecision(decision, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, outcome).Inc()
}

func (m *Metrics) RecordEscalation(ruleID string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) RecordAutomation(ruleType, strategy string) {
	if m == nil {
		return
	}
	m.automation.WithLabelValues(ruleType, strategy).Inc()
}

func (m *Metrics) ObserveEscalationPass(d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}
