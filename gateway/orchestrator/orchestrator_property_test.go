package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

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

// buildAllFailingOrchestrator wires freeCount free providers and paidCount
// paid providers, all of whose sole canonical model always fails with
// server_error, behind one alias every provider resolves to.
func buildAllFailingOrchestrator(freeCount, paidCount int) (*Orchestrator, *gwtypes.Request) {
	var providers []*catalog.Provider
	var models []*catalog.CanonicalModel
	var order []string
	drivers := driver.NewRegistry()
	serverErr := gwerrors.New(gwerrors.CodeServerError, "boom")

	for i := 0; i < freeCount; i++ {
		id := fmt.Sprintf("free-%d", i)
		providers = append(providers, &catalog.Provider{ID: id, Enabled: true, Free: true})
		models = append(models, &catalog.CanonicalModel{ID: id + "/m", ProviderID: id})
		order = append(order, id+"/m")
		drivers.Register(id, faketest.New([]faketest.CallResult{{Err: serverErr}}, nil))
	}
	for i := 0; i < paidCount; i++ {
		id := fmt.Sprintf("paid-%d", i)
		providers = append(providers, &catalog.Provider{ID: id, Enabled: true, Free: false})
		models = append(models, &catalog.CanonicalModel{ID: id + "/m", ProviderID: id})
		order = append(order, id+"/m")
		drivers.Register(id, faketest.New([]faketest.CallResult{{Err: serverErr}}, nil))
	}

	aliases := []*catalog.Alias{{Name: "all", CanonicalModelOrder: order}}
	cat := catalog.New(providers, models, aliases)
	hs := health.NewInProcessStore()
	qt := quota.NewInProcessTracker(hs)
	r := router.New(router.DefaultConfig(), cat, hs, qt)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), nil)
	pipeline := resilience.New(resilience.Config{}, qt, hs, breakers, nil)
	orch := New(r, drivers, pipeline, cat, nil, nil)

	return orch, &gwtypes.Request{ModelSelector: "all"}
}

func tierRank(t router.Tier) int { return int(t) }

func TestProperty_AttemptedTiersAreMonotonicallyNonDecreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("within one Execute call, AttemptRecord tiers never decrease", prop.ForAll(
		func(freeCount, paidCount int) bool {
			orch, req := buildAllFailingOrchestrator(freeCount, paidCount)
			_, err := orch.Execute(context.Background(), req)

			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) {
				return false
			}

			last := -1
			for _, a := range exhausted.Attempts {
				rank := tierRank(a.Tier)
				if rank < last {
					return false
				}
				last = rank
			}
			return true
		},
		gen.IntRange(1, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
