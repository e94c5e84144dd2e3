package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/circuitbreaker"
	"github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"github.com/rudironsoni/inference-gateway/gateway/providers/faketest"
	"github.com/rudironsoni/inference-gateway/gateway/quota"
	"github.com/rudironsoni/inference-gateway/gateway/resilience"
	"github.com/rudironsoni/inference-gateway/gateway/router"
)

// fixture builds a Catalog with providers A (free, rpm) and B (paid), an
// alias "fast" -> [A/m, B/m], fresh HealthStore/QuotaTracker, and a Router
// over them. Most scenario tests below share this configuration.
type fixture struct {
	catalog *catalog.Catalog
	health  health.Store
	quota   quota.Tracker
	drivers *driver.Registry
}

func newFixture(rpmA int) *fixture {
	providers := []*catalog.Provider{
		{ID: "A", Enabled: true, Free: true, RPMLimit: rpmA},
		{ID: "B", Enabled: true, Free: false},
	}
	models := []*catalog.CanonicalModel{
		{ID: "A/m", ProviderID: "A", Capabilities: catalog.Capabilities{Streaming: true}},
		{ID: "B/m", ProviderID: "B", Capabilities: catalog.Capabilities{Streaming: true}},
	}
	aliases := []*catalog.Alias{
		{Name: "fast", CanonicalModelOrder: []string{"A/m", "B/m"}},
	}
	hs := health.NewInProcessStore()
	return &fixture{
		catalog: catalog.New(providers, models, aliases),
		health:  hs,
		quota:   quota.NewInProcessTracker(hs),
		drivers: driver.NewRegistry(),
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	r := router.New(router.DefaultConfig(), f.catalog, f.health, f.quota)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), nil)
	pipeline := resilience.New(resilience.Config{CallTimeout: 2 * time.Second, StreamFirstByteTimeout: 2 * time.Second}, f.quota, f.health, breakers, nil)
	return New(r, f.drivers, pipeline, f.catalog, nil, nil)
}

func TestHappyPathFreeTierSuccess(t *testing.T) {
	f := newFixture(60)
	f.drivers.Register("A", faketest.New([]faketest.CallResult{
		{Response: &gwtypes.Response{Message: gwtypes.Message{Content: "hi"}}},
	}, nil))
	f.drivers.Register("B", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))

	orch := f.orchestrator()
	result, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
	require.NoError(t, err)

	assert.Equal(t, "A", result.Metadata.Provider)
	assert.Equal(t, "A/m", result.Metadata.CanonicalModel)
	assert.Equal(t, int(router.TierFree), result.Metadata.Tier)
	assert.Equal(t, 1, result.Metadata.Attempts)
}

func TestFreeTierRateLimitedPaidSucceeds(t *testing.T) {
	f := newFixture(60)
	f.drivers.Register("A", faketest.New([]faketest.CallResult{
		{Err: gwerrors.New(gwerrors.CodeRateLimited, "429").WithRetryAfter(30)},
	}, nil))
	f.drivers.Register("B", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))

	orch := f.orchestrator()
	now := time.Now()
	result, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
	require.NoError(t, err)

	assert.Equal(t, "B", result.Metadata.Provider)
	assert.Equal(t, int(router.TierPaid), result.Metadata.Tier)
	assert.Equal(t, 2, result.Metadata.Attempts)

	entry := f.health.Get("A")
	assert.Equal(t, health.StateUnhealthy, entry.State)
	assert.WithinDuration(t, now.Add(60*time.Second), entry.CooldownUntil, 2*time.Second)

	// a subsequent request within 60s skips A at Router time
	tiers, err := router.New(router.DefaultConfig(), f.catalog, f.health, f.quota).Candidates(context.Background(), &gwtypes.Request{ModelSelector: "fast"}, now)
	require.NoError(t, err)
	assert.Empty(t, tiers[router.TierFree])
}

func TestPreferredProviderHonored(t *testing.T) {
	f := newFixture(60)
	f.drivers.Register("A", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))
	f.drivers.Register("B", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))

	orch := f.orchestrator()
	result, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast", PreferredProvider: "B"})
	require.NoError(t, err)

	assert.Equal(t, "B", result.Metadata.Provider)
	assert.Equal(t, int(router.TierPreferred), result.Metadata.Tier)
	assert.Equal(t, 1, result.Metadata.Attempts)
}

func TestAllTiersExhausted(t *testing.T) {
	providers := []*catalog.Provider{{ID: "A", Enabled: true, Free: true}}
	models := []*catalog.CanonicalModel{{ID: "A/m", ProviderID: "A"}}
	aliases := []*catalog.Alias{{Name: "fast", CanonicalModelOrder: []string{"A/m"}}}
	hs := health.NewInProcessStore()
	f := &fixture{
		catalog: catalog.New(providers, models, aliases),
		health:  hs,
		quota:   quota.NewInProcessTracker(hs),
		drivers: driver.NewRegistry(),
	}
	serverErr := gwerrors.New(gwerrors.CodeServerError, "boom")
	f.drivers.Register("A", faketest.New([]faketest.CallResult{{Err: serverErr}, {Err: serverErr}}, nil))

	orch := f.orchestrator()
	_, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	for _, a := range exhausted.Attempts {
		assert.Equal(t, "A", a.Provider)
		assert.Equal(t, gwerrors.CodeServerError, a.ErrorClass)
	}

	entry := f.health.Get("A")
	assert.Equal(t, health.StateUnhealthy, entry.State)
}

// Boundary behavior: every provider disabled resolves to a candidate-free
// request, so Execute returns exhausted without ever reaching a driver.
func TestAllProvidersDisabledIsExhaustedWithoutAnyAttempt(t *testing.T) {
	providers := []*catalog.Provider{{ID: "A", Enabled: false, Free: true}}
	models := []*catalog.CanonicalModel{{ID: "A/m", ProviderID: "A"}}
	aliases := []*catalog.Alias{{Name: "fast", CanonicalModelOrder: []string{"A/m"}}}
	hs := health.NewInProcessStore()
	f := &fixture{
		catalog: catalog.New(providers, models, aliases),
		health:  hs,
		quota:   quota.NewInProcessTracker(hs),
		drivers: driver.NewRegistry(),
	}
	f.drivers.Register("A", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))

	orch := f.orchestrator()
	_, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, exhausted.Attempts)

	aDriver := mustFakeDriver(t, f, "A")
	assert.Equal(t, int64(0), aDriver.CallCount())
}

// Boundary behavior: a single provider whose every call is rate-limited
// exhausts after exactly the number of tier passes that reach it (free tier,
// then emergency — tier 4 ignores the cooldown tier 2/3 would now respect),
// and every attempt records rate_limited.
func TestSingleProviderAllCallsRateLimitedExhaustsWithUniformErrorClass(t *testing.T) {
	providers := []*catalog.Provider{{ID: "A", Enabled: true, Free: true}}
	models := []*catalog.CanonicalModel{{ID: "A/m", ProviderID: "A"}}
	aliases := []*catalog.Alias{{Name: "fast", CanonicalModelOrder: []string{"A/m"}}}
	hs := health.NewInProcessStore()
	f := &fixture{
		catalog: catalog.New(providers, models, aliases),
		health:  hs,
		quota:   quota.NewInProcessTracker(hs),
		drivers: driver.NewRegistry(),
	}
	rateLimited := gwerrors.New(gwerrors.CodeRateLimited, "429").WithRetryAfter(30)
	f.drivers.Register("A", faketest.New([]faketest.CallResult{{Err: rateLimited}, {Err: rateLimited}}, nil))

	orch := f.orchestrator()
	_, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.NotEmpty(t, exhausted.Attempts)
	for _, a := range exhausted.Attempts {
		assert.Equal(t, "A", a.Provider)
		assert.Equal(t, gwerrors.CodeRateLimited, a.ErrorClass)
	}
}

func TestStreamingMidStreamFailureNoFallback(t *testing.T) {
	f := newFixture(60)
	f.drivers.Register("A", faketest.New(nil, []faketest.StreamResult{
		{
			Chunks: []gwtypes.StreamChunk{
				{Delta: gwtypes.Message{Content: "a"}},
				{Delta: gwtypes.Message{Content: "b"}},
				{Delta: gwtypes.Message{Content: "c"}},
			},
			MidStreamErr: gwerrors.New(gwerrors.CodeServerError, "dropped").WithProvider("A"),
		},
	}))
	f.drivers.Register("B", faketest.New(nil, nil)) // must never be called

	orch := f.orchestrator()
	result, err := orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast", Stream: true})
	require.NoError(t, err)
	require.NotNil(t, result.Stream)

	var chunks []gwtypes.StreamChunk
	for c := range result.Stream {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 4)
	assert.Equal(t, "a", chunks[0].Delta.Content)
	assert.Equal(t, "b", chunks[1].Delta.Content)
	assert.Equal(t, "c", chunks[2].Delta.Content)
	require.Error(t, chunks[3].Err)

	bDriver := mustFakeDriver(t, f, "B")
	assert.Equal(t, int64(0), bDriver.CallCount())
	assert.Equal(t, int64(0), bDriver.StreamCount())

	assert.True(t, f.health.IsEligible("A", time.Now()))
}

func mustFakeDriver(t *testing.T, f *fixture, id string) *faketest.Driver {
	t.Helper()
	d, ok := f.drivers.For(id)
	require.True(t, ok)
	fd, ok := d.(*faketest.Driver)
	require.True(t, ok)
	return fd
}

func TestQuotaExhaustionAcrossConcurrentRequests(t *testing.T) {
	f := newFixture(2)
	aDriver := faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}, Delay: 20 * time.Millisecond}}, nil)
	f.drivers.Register("A", aDriver)
	f.drivers.Register("B", faketest.New([]faketest.CallResult{{Response: &gwtypes.Response{}}}, nil))

	orch := f.orchestrator()

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Execute(context.Background(), &gwtypes.Request{ModelSelector: "fast"})
		}(i)
	}
	wg.Wait()

	aCalls := int(aDriver.CallCount())
	assert.Equal(t, 2, aCalls)

	succeeded := 0
	for i := range results {
		if errs[i] == nil {
			succeeded++
		}
	}
	assert.Equal(t, 5, succeeded)
}
