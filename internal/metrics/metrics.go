package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// AI Provider Metrics
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_ai_requests_total",
			Help: "Total number of AI completion requests",
		},
		[]string{"feature", "status"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_ai_request_duration_seconds",
			Help:    "AI completion latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"feature"},
	)

	// Usage Metrics
	TokensRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_tokens_recorded_total",
			Help: "Total number of tokens committed against monthly quotas",
		},
		[]string{"feature"},
	)

	QuotaDenialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_quota_denials_total",
			Help: "Total number of requests refused because the monthly quota was exhausted",
		},
	)

	// Billing Metrics
	BillingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_billing_events_total",
			Help: "Total number of billing webhook events received",
		},
		[]string{"event_type", "status"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_database_connections_active",
			Help: "Number of active database connections",
		},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordAIRequest records an AI completion request
func RecordAIRequest(feature, status string, duration float64) {
	AIRequestsTotal.WithLabelValues(feature, status).Inc()
	AIRequestDuration.WithLabelValues(feature).Observe(duration)
}

// RecordTokensCommitted records tokens charged against a monthly quota
func RecordTokensCommitted(feature string, tokens int64) {
	TokensRecordedTotal.WithLabelValues(feature).Add(float64(tokens))
}

// RecordQuotaDenial records a request refused on quota grounds
func RecordQuotaDenial() {
	QuotaDenialsTotal.Inc()
}

// RecordBillingEvent records a billing webhook event
func RecordBillingEvent(eventType, status string) {
	BillingEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
