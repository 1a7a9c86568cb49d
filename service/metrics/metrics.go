package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Store Metrics
	storeOperationsTotal    *prometheus.CounterVec
	storeOperationDuration  *prometheus.HistogramVec
	storeTransactions       prometheus.Gauge
	storeStatusTransactions *prometheus.GaugeVec

	// Cache Metrics
	cacheOperationDuration *prometheus.HistogramVec
	cacheOperationsTotal   *prometheus.CounterVec
	cachePayloadBytes      *prometheus.GaugeVec

	// Seed Metrics
	seedFetchesTotal  *prometheus.CounterVec
	seedFetchDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec
	wsActiveConnections  prometheus.Gauge

	// NATS Metrics
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
		// Store Metrics
		storeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_operations_total",
				Help: "Total number of transaction store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		storeOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_operation_duration_seconds",
				Help:    "Duration of transaction store operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		storeTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_transactions",
				Help: "Number of transactions currently held by the store",
			},
		),
		storeStatusTransactions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "store_status_transactions",
				Help: "Number of transactions currently held by the store per status",
			},
			[]string{"status"},
		),

		// Cache Metrics
		cacheOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Duration of persistent cache operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"backend", "operation"},
		),
		cacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_operations_total",
				Help: "Total number of persistent cache operations",
			},
			[]string{"backend", "operation", "status"},
		),
		cachePayloadBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_payload_bytes",
				Help: "Size of the last payload written to the persistent cache",
			},
			[]string{"backend"},
		),

		// Seed Metrics
		seedFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seed_fetches_total",
				Help: "Total number of seed source fetches",
			},
			[]string{"source", "status"},
		),
		seedFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seed_fetch_duration_seconds",
				Help:    "Duration of seed source fetches in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"source"},
		),

		// HTTP Metrics
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
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),
		wsActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ws_active_connections",
				Help: "Number of active websocket connections",
			},
		),

		// NATS Metrics
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

// Store metric helpers

// RecordStoreOperation records a store operation with duration.
func (m *Metrics) RecordStoreOperation(operation string, duration float64, err error) {
	if m == nil {
		return
	}
	m.storeOperationDuration.WithLabelValues(operation).Observe(duration)
	m.storeOperationsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// SetStoreSize records the current collection size and per-status counts.
func (m *Metrics) SetStoreSize(total int, byStatus map[string]int) {
	if m == nil {
		return
	}
	m.storeTransactions.Set(float64(total))
	for status, count := range byStatus {
		m.storeStatusTransactions.WithLabelValues(status).Set(float64(count))
	}
}

// Cache metric helpers

// RecordCacheOperation records a cache operation with duration.
// A miss is recorded with status "miss" rather than as an error.
func (m *Metrics) RecordCacheOperation(backend, operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.cacheOperationDuration.WithLabelValues(backend, operation).Observe(duration)
	m.cacheOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordCachePayload records the size of a payload written to the cache.
func (m *Metrics) RecordCachePayload(backend string, size int) {
	if m == nil {
		return
	}
	m.cachePayloadBytes.WithLabelValues(backend).Set(float64(size))
}

// Seed metric helpers

// RecordSeedFetch records a seed source fetch with duration.
func (m *Metrics) RecordSeedFetch(source string, duration float64, err error) {
	if m == nil {
		return
	}
	m.seedFetchDuration.WithLabelValues(source).Observe(duration)
	m.seedFetchesTotal.WithLabelValues(source, outcome(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// RecordWSConnectionChange records a change in websocket connection count.
func (m *Metrics) RecordWSConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.wsActiveConnections.Add(delta)
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

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
