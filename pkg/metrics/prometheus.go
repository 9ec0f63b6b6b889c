package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Presence Metrics
	onlineUsers   prometheus.Gauge
	presenceTotal *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Signaling Metrics
	signalsRelayedTotal *prometheus.CounterVec

	// Write-behind Metrics
	writeBehindDroppedTotal *prometheus.CounterVec
	writeBehindErrorsTotal  *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on a dedicated registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,

		// HTTP Request Metrics
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

		// Presence Metrics
		onlineUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "presence_online_users",
				Help:        "Number of users currently online",
				ConstLabels: labels,
			},
		),
		presenceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "presence_transitions_total",
				Help:        "Total number of presence transitions",
				ConstLabels: labels,
			},
			[]string{"transition"},
		),

		// WebSocket Metrics
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),

		// Call Metrics
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls by final outcome",
				ConstLabels: labels,
			},
			[]string{"type", "status"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of ringing or connected calls",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Connected call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"type"},
		),
		callsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of call attempts refused before ringing",
				ConstLabels: labels,
			},
			[]string{"type", "reason"},
		),

		// Signaling Metrics
		signalsRelayedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_relayed_total",
				Help:        "Total number of relayed signaling payloads",
				ConstLabels: labels,
			},
			[]string{"kind", "delivered"},
		),

		// Write-behind Metrics
		writeBehindDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "write_behind_dropped_total",
				Help:        "Jobs dropped because the write-behind queue was full",
				ConstLabels: labels,
			},
			[]string{"job"},
		),
		writeBehindErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "write_behind_errors_total",
				Help:        "Write-behind jobs that returned an error",
				ConstLabels: labels,
			},
			[]string{"job"},
		),

		// Push Notification Metrics
		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"type", "platform", "reason"},
		),
	}

	return m
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// Presence Metrics Methods

// SetOnlineUsers sets the number of online users
func (m *Metrics) SetOnlineUsers(count int) {
	m.onlineUsers.Set(float64(count))
}

// RecordPresenceTransition records online, offline or purged transitions
func (m *Metrics) RecordPresenceTransition(transition string) {
	m.presenceTotal.WithLabelValues(transition).Inc()
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(err string) {
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

// Call Metrics Methods

// RecordCall records a call that reached a final outcome
func (m *Metrics) RecordCall(callType, status string) {
	m.callsTotal.WithLabelValues(callType, status).Inc()
}

// SetActiveCalls sets the number of active calls
func (m *Metrics) SetActiveCalls(count int) {
	m.callsActive.Set(float64(count))
}

// RecordCallDuration records the duration of a call
func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallFailure records a refused call attempt
func (m *Metrics) RecordCallFailure(callType, reason string) {
	m.callsFailedTotal.WithLabelValues(callType, reason).Inc()
}

// Signaling Metrics Methods

// RecordSignalRelayed records a relayed payload and whether it reached its target
func (m *Metrics) RecordSignalRelayed(kind string, delivered bool) {
	m.signalsRelayedTotal.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

// Write-behind Metrics Methods

// RecordWriteBehindDropped records a job dropped on a full queue
func (m *Metrics) RecordWriteBehindDropped(job string) {
	m.writeBehindDroppedTotal.WithLabelValues(job).Inc()
}

// RecordWriteBehindError records a failed write-behind job
func (m *Metrics) RecordWriteBehindError(job string) {
	m.writeBehindErrorsTotal.WithLabelValues(job).Inc()
}

// Push Notification Metrics Methods

// RecordPushNotification records notifications delivered to count devices
func (m *Metrics) RecordPushNotification(notifType, platform string, count int) {
	m.pushNotificationsTotal.WithLabelValues(notifType, platform).Add(float64(count))
}

// RecordPushNotificationFailure records notifications that failed for count devices
func (m *Metrics) RecordPushNotificationFailure(notifType, platform, reason string, count int) {
	m.pushNotificationsFailed.WithLabelValues(notifType, platform, reason).Add(float64(count))
}
