package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// WebSocket session metrics
	wsConnectsTotal      *prometheus.CounterVec
	wsDisconnectsTotal   *prometheus.CounterVec
	wsReconnectsTotal    prometheus.Counter
	wsKeepalivesTotal    *prometheus.CounterVec
	wsDroppedFramesTotal *prometheus.CounterVec

	// Balance update metrics
	balanceNotificationsTotal *prometheus.CounterVec

	// Solana RPC metrics (seed balance fetch)
	rpcSeedFetchTotal    *prometheus.CounterVec
	rpcSeedFetchDuration prometheus.Histogram

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// WebSocket session metrics
		wsConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_connects_total",
				Help: "Total number of WebSocket connect attempts by outcome",
			},
			[]string{"status"},
		),
		wsDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_disconnects_total",
				Help: "Total number of unintentional WebSocket disconnects by cause",
			},
			[]string{"cause"},
		),
		wsReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ws_reconnect_attempts_total",
				Help: "Total number of reconnect attempts fired from the backoff timer",
			},
		),
		wsKeepalivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_keepalives_total",
				Help: "Total number of keepalive probes sent and acks discarded",
			},
			[]string{"status"},
		),
		wsDroppedFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_dropped_frames_total",
				Help: "Total number of inbound frames dropped by reason",
			},
			[]string{"reason"},
		),

		// Balance update metrics
		balanceNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_notifications_total",
				Help: "Total number of account-change notifications emitted as balance updates",
			},
			[]string{"address"},
		),

		// Solana RPC metrics
		rpcSeedFetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_seed_fetch_total",
				Help: "Total number of seed balance fetches by status",
			},
			[]string{"status"},
		),
		rpcSeedFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solana_seed_fetch_duration_seconds",
				Help:    "Duration of seed balance fetches in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		// HTTP metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		// NATS metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// WebSocket session metric helpers

// RecordConnect records the outcome of one connect attempt
// ("success", "dial_error", "subscribe_write_error", "subscribe_error").
func (m *Metrics) RecordConnect(status string) {
	m.wsConnectsTotal.WithLabelValues(status).Inc()
}

// RecordDisconnect records an unintentional disconnect.
func (m *Metrics) RecordDisconnect(cause string) {
	m.wsDisconnectsTotal.WithLabelValues(cause).Inc()
}

// RecordReconnectAttempt records a reconnect attempt firing.
func (m *Metrics) RecordReconnectAttempt() {
	m.wsReconnectsTotal.Inc()
}

// RecordKeepalive records a keepalive probe event ("sent" or "ack").
func (m *Metrics) RecordKeepalive(status string) {
	m.wsKeepalivesTotal.WithLabelValues(status).Inc()
}

// RecordDroppedMessage records an inbound frame dropped by reason
// ("malformed", "null_value").
func (m *Metrics) RecordDroppedMessage(reason string) {
	m.wsDroppedFramesTotal.WithLabelValues(reason).Inc()
}

// RecordNotification records a balance update emitted for an address.
func (m *Metrics) RecordNotification(address string) {
	m.balanceNotificationsTotal.WithLabelValues(address).Inc()
}

// Solana RPC metric helpers

// RecordSeedFetch records a seed balance fetch with duration.
func (m *Metrics) RecordSeedFetch(status string, duration float64) {
	m.rpcSeedFetchTotal.WithLabelValues(status).Inc()
	m.rpcSeedFetchDuration.Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
