package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Webhook metrics
	WebhookEventsTotal        *prometheus.CounterVec
	WebhookProcessingDuration *prometheus.HistogramVec
	WebhookSignatureFailures  *prometheus.CounterVec
	WebhookDuplicatesTotal    *prometheus.CounterVec
	DedupFallbackTotal        *prometheus.CounterVec

	// Billing metrics
	UsageResetsTotal      *prometheus.CounterVec
	LedgerDuplicatesTotal *prometheus.CounterVec

	// ESP metrics
	ESPRequestsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered on reg.
// A nil reg registers on the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mailcraft"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook deliveries by provider, event kind and outcome",
			},
			[]string{"provider", "kind", "outcome"}, // outcome: applied, skipped, failed, duplicate, unsupported, rejected
		),
		WebhookProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "processing_duration_seconds",
				Help:      "Time from receipt to acknowledgement of a webhook",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		WebhookSignatureFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "signature_failures_total",
				Help:      "Deliveries rejected by signature verification",
			},
			[]string{"provider"},
		),
		WebhookDuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "duplicates_total",
				Help:      "Deliveries dropped by the dedup gate",
			},
			[]string{"provider"},
		),
		DedupFallbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "dedup_fallback_total",
				Help:      "Dedup decisions taken without the fast gate",
			},
			[]string{"reason"}, // reason: error, open
		),

		UsageResetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "usage_resets_total",
				Help:      "Monthly usage resets triggered by payments",
			},
			[]string{"provider"},
		),
		LedgerDuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "ledger_duplicates_total",
				Help:      "Payments already present in the ledger",
			},
			[]string{"provider"},
		),

		ESPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "esp",
				Name:      "requests_total",
				Help:      "Outbound ESP API calls",
			},
			[]string{"esp", "operation", "status"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebhook records one webhook delivery and how long it took.
func (m *Metrics) RecordWebhook(provider, kind, outcome string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	m.WebhookEventsTotal.WithLabelValues(provider, kind, outcome).Inc()
	m.WebhookProcessingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSignatureFailure records a delivery rejected by verification.
func (m *Metrics) RecordSignatureFailure(provider string) {
	m.WebhookSignatureFailures.WithLabelValues(provider).Inc()
}

// RecordDuplicate records a delivery dropped by the dedup gate.
func (m *Metrics) RecordDuplicate(provider string) {
	m.WebhookDuplicatesTotal.WithLabelValues(provider).Inc()
}

// RecordDedupFallback records a dedup decision taken by the durable gate alone.
func (m *Metrics) RecordDedupFallback(reason string) {
	m.DedupFallbackTotal.WithLabelValues(reason).Inc()
}

// RecordUsageReset records a usage reset.
func (m *Metrics) RecordUsageReset(provider string) {
	m.UsageResetsTotal.WithLabelValues(provider).Inc()
}

// RecordLedgerDuplicate records a payment that was already in the ledger.
func (m *Metrics) RecordLedgerDuplicate(provider string) {
	m.LedgerDuplicatesTotal.WithLabelValues(provider).Inc()
}

// RecordESPRequest records an outbound ESP call.
func (m *Metrics) RecordESPRequest(esp, operation string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ESPRequestsTotal.WithLabelValues(esp, operation, status).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
