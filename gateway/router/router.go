// Package router turns a resolved model selector into the four fixed,
// strictly-ordered candidate tiers the FallbackOrchestrator walks:
// preferred, free, paid, emergency.
package router

import (
	"context"
	"sort"
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"github.com/rudironsoni/inference-gateway/gateway/quota"
)

// Tier identifies one of the four fixed priority bands.
type Tier int

const (
	TierPreferred Tier = 1
	TierFree      Tier = 2
	TierPaid      Tier = 3
	TierEmergency Tier = 4
)

// Candidate is a runtime-materialized (provider, model, score) tuple. Score
// is only meaningful for ordering within a tier, never across tiers.
type Candidate struct {
	ProviderID     string
	CanonicalModel *catalog.CanonicalModel
	Score          float64
}

// Config carries the router's configurable scoring weights. The default
// favors free, healthy, fast providers; weights are a deployment-tunable
// parameter, never hardcoded into the scoring function.
type Config struct {
	WeightCost        float64
	WeightLatency     float64
	WeightReliability float64
	// LatencyEstimates is an optional, operator-supplied p50 latency per
	// provider id used for scoring. Providers absent from the map score 0
	// latency contribution (treated as unknown-but-not-penalized).
	LatencyEstimates map[string]time.Duration
}

func DefaultConfig() Config {
	return Config{WeightCost: 0.4, WeightLatency: 0.3, WeightReliability: 0.3}
}

// Catalog is the subset of gateway/catalog.Catalog the router needs.
type Catalog interface {
	Resolve(selector string) ([]*catalog.CanonicalModel, error)
	Provider(id string) (*catalog.Provider, error)
}

// Router produces ordered, tiered candidate lists. Output is a pure
// function of (Catalog snapshot, HealthStore snapshot, QuotaTracker
// snapshot, request) at the instant it is called: the same inputs always
// produce the same tiering and ordering.
type Router struct {
	cfg       Config
	catalog   Catalog
	health    health.Store
	quota     quota.Tracker
}

func New(cfg Config, cat Catalog, healthStore health.Store, quotaTracker quota.Tracker) *Router {
	if cfg.WeightCost == 0 && cfg.WeightLatency == 0 && cfg.WeightReliability == 0 {
		cfg = DefaultConfig()
	}
	return &Router{cfg: cfg, catalog: cat, health: healthStore, quota: quotaTracker}
}

// Candidates resolves req's model selector and partitions the result into
// the four fixed tiers. Returned tiers may be empty; the orchestrator
// handles that by moving to the next tier.
func (r *Router) Candidates(ctx context.Context, req *gwtypes.Request, now time.Time) (map[Tier][]Candidate, error) {
	models, err := r.catalog.Resolve(req.ModelSelector)
	if err != nil {
		return nil, err
	}

	all := r.score(models, now)

	tiers := map[Tier][]Candidate{
		TierPreferred: nil,
		TierFree:      nil,
		TierPaid:      nil,
		TierEmergency: nil,
	}

	preferredSeen := map[string]bool{}
	for _, c := range all {
		if req.PreferredProvider != "" && c.ProviderID == req.PreferredProvider && r.eligible(c.ProviderID, now) {
			tiers[TierPreferred] = append(tiers[TierPreferred], c)
			preferredSeen[c.ProviderID+"/"+c.CanonicalModel.ID] = true
		}
	}

	for _, c := range all {
		key := c.ProviderID + "/" + c.CanonicalModel.ID
		if preferredSeen[key] {
			continue
		}
		if !r.eligible(c.ProviderID, now) {
			continue
		}
		p, err := r.catalog.Provider(c.ProviderID)
		if err != nil {
			continue
		}
		if p.Free {
			tiers[TierFree] = append(tiers[TierFree], c)
		} else {
			tiers[TierPaid] = append(tiers[TierPaid], c)
		}
	}

	// Tier 4 ignores health and quota eligibility entirely: it is the
	// last-resort sweep across every candidate the selector resolved to.
	tiers[TierEmergency] = append(tiers[TierEmergency], all...)

	for tier, list := range tiers {
		sortCandidates(list)
		tiers[tier] = list
	}
	return tiers, nil
}

// eligible applies both the authoritative HealthStore cooldown and a
// best-effort, non-authoritative quota pre-filter. A provider the quota
// snapshot shows as already saturated is skipped here purely to avoid a
// doomed call; Reserve inside ResiliencePipeline remains the actual gate.
func (r *Router) eligible(providerID string, now time.Time) bool {
	if !r.health.IsEligible(providerID, now) {
		return false
	}
	p, err := r.catalog.Provider(providerID)
	if err != nil {
		return false
	}
	if p.RPMLimit > 0 && r.quota != nil {
		snap := r.quota.Snapshot(providerID)
		if snap.RequestsInWindow >= p.RPMLimit {
			return false
		}
	}
	return true
}

// score materializes a Candidate per CanonicalModel with a weighted-sum of
// cost, latency, and reliability. Cost is normalized against the highest
// combined price among the resolved candidates so an all-free or
// all-identically-priced set never divides by zero.
func (r *Router) score(models []*catalog.CanonicalModel, now time.Time) []Candidate {
	maxCost := 0.0
	for _, m := range models {
		c := m.PriceInputUSD + m.PriceOutputUSD
		if c > maxCost {
			maxCost = c
		}
	}

	out := make([]Candidate, 0, len(models))
	for _, m := range models {
		normalizedCost := 0.0
		if maxCost > 0 {
			normalizedCost = (m.PriceInputUSD + m.PriceOutputUSD) / maxCost
		}

		latency := 0.0
		if d, ok := r.cfg.LatencyEstimates[m.ProviderID]; ok {
			latency = d.Seconds()
		}

		entry := r.health.Get(m.ProviderID)
		failureRate := recentFailureRate(entry)

		score := r.cfg.WeightCost*normalizedCost +
			r.cfg.WeightLatency*latency +
			r.cfg.WeightReliability*failureRate

		out = append(out, Candidate{ProviderID: m.ProviderID, CanonicalModel: m, Score: score})
	}
	return out
}

// recentFailureRate approximates a recent-failure rate from the
// HealthStore's consecutive-failure counter, saturating at 1.0 after 10
// consecutive failures. A provider with no recorded history scores 0 (no
// evidence of unreliability), per HealthStore's fail-open default.
func recentFailureRate(e health.Entry) float64 {
	if e.ConsecutiveFailures <= 0 {
		return 0
	}
	rate := float64(e.ConsecutiveFailures) / 10.0
	if rate > 1 {
		rate = 1
	}
	return rate
}

// sortCandidates orders ascending by score, breaking ties lexicographically
// by canonical model id so that two equally-scored candidates always land
// in the same order regardless of map iteration, satisfying the
// determinism requirement.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score < cs[j].Score
		}
		return cs[i].CanonicalModel.ID < cs[j].CanonicalModel.ID
	})
}
