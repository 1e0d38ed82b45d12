package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the saga orchestrator.
type Metrics struct {
	registry      *prometheus.Registry
	sagaStarted   prometheus.Counter
	transitions   *prometheus.CounterVec
	compensations *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	reconcile     *prometheus.CounterVec

	consumerRetries *prometheus.CounterVec
	consumerDLQ     *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New creates a metrics registry and registers saga metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	sagaStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_started_total",
		Help: "Total number of order sagas started.",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Total number of saga status transitions by target status.",
	}, []string{"status"})

	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Total number of compensation commands published.",
	}, []string{"command"})

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_events_dropped_total",
		Help: "Total number of result events ignored by the orchestrator.",
	}, []string{"event", "reason"})

	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_reconcile_actions_total",
		Help: "Total number of actions taken by the reconcile sweep.",
	}, []string{"action"})

	consumerRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_retries_total",
		Help: "Total number of handler retries per topic.",
	}, []string{"topic"})

	consumerDLQ := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_dlq_total",
		Help: "Total number of messages moved to a dead-letter topic.",
	}, []string{"topic"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	registry.MustRegister(sagaStarted, transitions, compensations, dropped, reconcile,
		consumerRetries, consumerDLQ, httpRequests, httpLatency)

	return &Metrics{
		registry:        registry,
		sagaStarted:     sagaStarted,
		transitions:     transitions,
		compensations:   compensations,
		dropped:         dropped,
		reconcile:       reconcile,
		consumerRetries: consumerRetries,
		consumerDLQ:     consumerDLQ,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SagaStarted() {
	if m == nil {
		return
	}
	m.sagaStarted.Inc()
}

func (m *Metrics) SagaTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) CompensationPublished(command string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(command).Inc()
}

func (m *Metrics) EventDropped(event, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(event, reason).Inc()
}

func (m *Metrics) ReconcileAction(action string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(action).Inc()
}

// ConsumerRetry counts a failed handler attempt that will be retried.
func (m *Metrics) ConsumerRetry(topic string) {
	if m == nil {
		return
	}
	m.consumerRetries.WithLabelValues(topic).Inc()
}

// ConsumerDeadLetter counts a message parked on the dead-letter topic.
func (m *Metrics) ConsumerDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.consumerDLQ.WithLabelValues(topic).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}
