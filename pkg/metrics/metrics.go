package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the call service. All record
// methods are nil-safe so callers never need to guard against a
// metrics-less deployment.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call metrics
	callsStartedTotal  *prometheus.CounterVec
	callsAcceptedTotal *prometheus.CounterVec
	callsRejectedTotal *prometheus.CounterVec
	callsEndedTotal    *prometheus.CounterVec
	callsActive        prometheus.Gauge
	ringDuration       prometheus.Histogram
	joinFailuresTotal  prometheus.Counter

	// Subscription metrics
	subscriptionDropsTotal prometheus.Counter

	// Push notification metrics
	pushSentTotal   *prometheus.CounterVec
	pushFailedTotal *prometheus.CounterVec

	// WebSocket metrics
	websocketConnections prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total number of calls started, by kind (direct, group)",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsAcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_accepted_total",
				Help:        "Total number of accepted incoming calls",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_rejected_total",
				Help:        "Total number of rejected incoming calls, split by auto (DND) vs manual",
				ConstLabels: labels,
			},
			[]string{"auto"},
		),
		callsEndedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Total number of ended calls, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of call sessions currently owned by this instance",
				ConstLabels: labels,
			},
		),
		ringDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_ring_duration_seconds",
				Help:        "Time between call creation and accept/reject",
				ConstLabels: labels,
				Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
		),
		joinFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "media_join_failures_total",
				Help:        "Total number of failed media channel joins",
				ConstLabels: labels,
			},
		),

		subscriptionDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_subscription_drops_total",
				Help:        "Total number of signaling subscription disconnects",
				ConstLabels: labels,
			},
		),

		pushSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_sent_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),
		pushFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open call event WebSocket connections",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry for the metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// RecordCallStarted records a new outbound or group call
func (m *Metrics) RecordCallStarted(kind string) {
	if m == nil {
		return
	}
	m.callsStartedTotal.WithLabelValues(kind).Inc()
	m.callsActive.Inc()
}

// RecordCallAccepted records an accepted incoming call
func (m *Metrics) RecordCallAccepted(kind string) {
	if m == nil {
		return
	}
	m.callsAcceptedTotal.WithLabelValues(kind).Inc()
}

// RecordCallRejected records a rejected incoming call
func (m *Metrics) RecordCallRejected(auto bool) {
	if m == nil {
		return
	}
	m.callsRejectedTotal.WithLabelValues(strconv.FormatBool(auto)).Inc()
}

// RecordCallEnded records a call leaving the active set
func (m *Metrics) RecordCallEnded(kind string) {
	if m == nil {
		return
	}
	m.callsEndedTotal.WithLabelValues(kind).Inc()
	m.callsActive.Dec()
}

// RecordRingDuration records time from record creation to answer
func (m *Metrics) RecordRingDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ringDuration.Observe(d.Seconds())
}

// RecordJoinFailure records a failed media join
func (m *Metrics) RecordJoinFailure() {
	if m == nil {
		return
	}
	m.joinFailuresTotal.Inc()
}

// RecordSubscriptionDrop records a subscription disconnect
func (m *Metrics) RecordSubscriptionDrop() {
	if m == nil {
		return
	}
	m.subscriptionDropsTotal.Inc()
}

// RecordPushSent records a delivered push notification
func (m *Metrics) RecordPushSent(provider string) {
	if m == nil {
		return
	}
	m.pushSentTotal.WithLabelValues(provider).Inc()
}

// RecordPushFailed records a failed push notification
func (m *Metrics) RecordPushFailed(provider string) {
	if m == nil {
		return
	}
	m.pushFailedTotal.WithLabelValues(provider).Inc()
}

// IncrementWebSocketConnections increments the WS connection gauge
func (m *Metrics) IncrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the WS connection gauge
func (m *Metrics) DecrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.websocketConnections.Dec()
}
