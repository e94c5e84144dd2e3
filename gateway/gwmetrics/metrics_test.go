package gwmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/rudironsoni/inference-gateway/gateway/router"
)

func TestObserveAttempt_IncrementsByProviderTierOutcome(t *testing.T) {
	c := NewCollector("test_attempt", nil)
	c.ObserveAttempt("A", router.TierFree, "success")
	c.ObserveAttempt("A", router.TierFree, "success")
	c.ObserveAttempt("B", router.TierPaid, "failure")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.orchestratorAttempts.WithLabelValues("A", "free", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.orchestratorAttempts.WithLabelValues("B", "paid", "failure")))
}

func TestObserveExhausted_IncrementsByModel(t *testing.T) {
	c := NewCollector("test_exhausted", nil)
	c.ObserveExhausted("fast")
	c.ObserveExhausted("fast")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.orchestratorExhausted.WithLabelValues("fast")))
}

func TestObserveHealthTransition_IncrementsByProviderAndClass(t *testing.T) {
	c := NewCollector("test_health", nil)
	c.ObserveHealthTransition("A", "rate_limited")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.healthTransitions.WithLabelValues("A", "rate_limited")))
}

func TestObserveQuotaDenied_IncrementsByProvider(t *testing.T) {
	c := NewCollector("test_quota", nil)
	c.ObserveQuotaDenied("A")
	c.ObserveQuotaDenied("A")
	c.ObserveQuotaDenied("A")

	assert.Equal(t, float64(3), testutil.ToFloat64(c.quotaDenied.WithLabelValues("A")))
}

func TestObserveBreakerOpen_IncrementsByProvider(t *testing.T) {
	c := NewCollector("test_breaker", nil)
	c.ObserveBreakerOpen("A")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.breakerOpen.WithLabelValues("A")))
}

func TestTierLabel_CoversAllTiersAndUnknown(t *testing.T) {
	assert.Equal(t, "preferred", tierLabel(router.TierPreferred))
	assert.Equal(t, "free", tierLabel(router.TierFree))
	assert.Equal(t, "paid", tierLabel(router.TierPaid))
	assert.Equal(t, "emergency", tierLabel(router.TierEmergency))
	assert.Equal(t, "unknown", tierLabel(router.Tier(99)))
}

func TestObserveHTTPRequest_IncrementsCounterAndRecordsDuration(t *testing.T) {
	c := NewCollector("test_http", nil)
	c.ObserveHTTPRequest("POST", "/v1/chat/completions", "200", 0.05)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/chat/completions", "200")))
	hist := c.httpRequestDuration.WithLabelValues("POST", "/v1/chat/completions").(prometheus.Histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(hist))
}
