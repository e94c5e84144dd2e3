// Package gwmetrics is the gateway's Prometheus surface: HTTP-level metrics
// for the reference adapter, plus the orchestrator/quota/health counters
// that make routing and failover behavior observable.
package gwmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/router"
)

// Collector owns every metric the gateway exports, namespaced "gateway".
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	orchestratorAttempts  *prometheus.CounterVec
	orchestratorExhausted *prometheus.CounterVec

	healthTransitions *prometheus.CounterVec
	quotaDenied       *prometheus.CounterVec
	breakerOpen       *prometheus.CounterVec

	logger *zap.Logger
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = "gateway"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{
		logger: logger.With(zap.String("component", "gwmetrics")),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total inbound HTTP requests by route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		orchestratorAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orchestrator_attempts_total",
				Help:      "Per-candidate attempts made by FallbackOrchestrator, labeled by outcome.",
			},
			[]string{"provider", "tier", "outcome"},
		),
		orchestratorExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orchestrator_exhausted_total",
				Help:      "Requests for which every tier was exhausted without success.",
			},
			[]string{"model"},
		),

		healthTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_transitions_total",
				Help:      "HealthStore state transitions by provider and error class.",
			},
			[]string{"provider", "error_class"},
		),
		quotaDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_reservations_denied_total",
				Help:      "QuotaTracker.Reserve calls that were denied.",
			},
			[]string{"provider"},
		),
		breakerOpen: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_open_total",
				Help:      "Circuit breaker trips to the open state, by provider.",
			},
			[]string{"provider"},
		),
	}
}

func (c *Collector) ObserveHTTPRequest(method, path, status string, seconds float64) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// ObserveAttempt implements gateway/orchestrator.Metrics.
func (c *Collector) ObserveAttempt(provider string, tier router.Tier, outcome string) {
	c.orchestratorAttempts.WithLabelValues(provider, tierLabel(tier), outcome).Inc()
}

// ObserveExhausted implements gateway/orchestrator.Metrics.
func (c *Collector) ObserveExhausted(model string) {
	c.orchestratorExhausted.WithLabelValues(model).Inc()
}

func (c *Collector) ObserveHealthTransition(provider, errorClass string) {
	c.healthTransitions.WithLabelValues(provider, errorClass).Inc()
}

func (c *Collector) ObserveQuotaDenied(provider string) {
	c.quotaDenied.WithLabelValues(provider).Inc()
}

func (c *Collector) ObserveBreakerOpen(provider string) {
	c.breakerOpen.WithLabelValues(provider).Inc()
}

func tierLabel(t router.Tier) string {
	switch t {
	case router.TierPreferred:
		return "preferred"
	case router.TierFree:
		return "free"
	case router.TierPaid:
		return "paid"
	case router.TierEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}
