// Package catalog holds the immutable provider/model/alias registry derived
// from configuration. A Catalog performs pure, lock-free lookups; readers
// never observe a torn configuration generation, even while a reload is in
// flight.
package catalog

import (
	"sort"
	"sync/atomic"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"golang.org/x/sync/singleflight"
)

// ProviderKind is a closed set of upstream transports the core understands.
type ProviderKind string

const (
	KindOpenAICompatible ProviderKind = "openai-compatible"
	KindCohere           ProviderKind = "cohere"
	KindCloudflare       ProviderKind = "cloudflare"
	KindPollinations     ProviderKind = "pollinations"
	KindAIHorde          ProviderKind = "aihorde"
	KindCustomAuth       ProviderKind = "custom-auth"
)

// Provider is immutable for the lifetime of a configuration generation.
type Provider struct {
	ID             string
	DisplayName    string
	Kind           ProviderKind
	Enabled        bool
	Endpoint       string
	CredentialRef  string
	Tier           int
	Free           bool
	RPMLimit       int // 0 = unlimited
	TPMLimit       int // 0 = unlimited
	NativeModelIDs map[string]struct{}
	// DriverConfig carries provider-specific quirks (account id, project id,
	// custom headers, OAuth token store refs) opaque to the core. Only
	// RPM/TPM/endpoint/credential/free-tier are first-class; everything else
	// lives here for concrete drivers to interpret.
	DriverConfig map[string]string
}

// CanonicalModel pins a (provider, model-path, capabilities) triple.
type CanonicalModel struct {
	ID             string // e.g. "groq/llama-3.3-70b"
	ProviderID     string
	ModelPath      string // provider-native model id
	Capabilities   Capabilities
	ContextWindow  int // 0 = unknown/unbounded
	PriceInputUSD  float64 // per 1K input tokens, 0 if free/unknown
	PriceOutputUSD float64
}

type Capabilities struct {
	Streaming        bool
	Tools            bool
	Vision           bool
	StructuredOutput bool
	LogProbs         bool
}

// Alias maps a user-facing name to an ordered candidate template.
type Alias struct {
	Name                string
	CanonicalModelOrder []string
}

// snapshot is the immutable value swapped atomically on reload.
type snapshot struct {
	providers map[string]*Provider
	models    map[string]*CanonicalModel
	aliases   map[string]*Alias
}

// Catalog performs synchronous lookups over the current configuration
// generation. Construct with New; reconfiguration calls Swap, which
// in-flight callers never observe mid-flight because they hold a reference
// to the snapshot they loaded, not the Catalog itself.
type Catalog struct {
	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// New builds a Catalog from the given providers/models/aliases. Disabled
// providers are retained (so Provider(id) still resolves) but filtered out
// of Resolve's expansion.
func New(providers []*Provider, models []*CanonicalModel, aliases []*Alias) *Catalog {
	c := &Catalog{}
	c.current.Store(buildSnapshot(providers, models, aliases))
	return c
}

func buildSnapshot(providers []*Provider, models []*CanonicalModel, aliases []*Alias) *snapshot {
	s := &snapshot{
		providers: make(map[string]*Provider, len(providers)),
		models:    make(map[string]*CanonicalModel, len(models)),
		aliases:   make(map[string]*Alias, len(aliases)),
	}
	for _, p := range providers {
		s.providers[p.ID] = p
	}
	for _, m := range models {
		s.models[m.ID] = m
	}
	for _, a := range aliases {
		s.aliases[a.Name] = a
	}
	return s
}

// Swap installs a new configuration generation. In-flight requests that
// already loaded the prior snapshot (via Resolve/Provider/Supports) keep
// operating against it; only new calls observe the swap.
func (c *Catalog) Swap(providers []*Provider, models []*CanonicalModel, aliases []*Alias) {
	// Collapse bursts of concurrent reload triggers (e.g. a flurry of
	// fsnotify events on the same file) into a single snapshot build.
	c.group.Do("reload", func() (any, error) {
		c.current.Store(buildSnapshot(providers, models, aliases))
		return nil, nil
	})
}

// Resolve expands a model selector (alias or canonical model id) into an
// ordered list of CanonicalModels, dropping models whose owning provider is
// disabled. An alias with an empty candidate template fails with
// unknown_model, since there was never anything to route to; an alias whose
// candidates exist but are all currently disabled instead returns an empty,
// error-free list, so the caller proceeds to a legitimate zero-candidate
// exhausted outcome rather than a routing error. A selector that matches
// neither an alias nor a canonical model fails with unknown_model.
func (c *Catalog) Resolve(selector string) ([]*CanonicalModel, error) {
	s := c.current.Load()

	if alias, ok := s.aliases[selector]; ok {
		if len(alias.CanonicalModelOrder) == 0 {
			return nil, gwerrors.New(gwerrors.CodeUnknownModel, "alias "+selector+" expands to no candidates")
		}
		out := make([]*CanonicalModel, 0, len(alias.CanonicalModelOrder))
		for _, id := range alias.CanonicalModelOrder {
			m, ok := s.models[id]
			if !ok {
				continue
			}
			p, ok := s.providers[m.ProviderID]
			if !ok || !p.Enabled {
				continue
			}
			out = append(out, m)
		}
		return out, nil
	}

	if m, ok := s.models[selector]; ok {
		if p, ok := s.providers[m.ProviderID]; ok && p.Enabled {
			return []*CanonicalModel{m}, nil
		}
		return nil, gwerrors.New(gwerrors.CodeUnknownModel, "model "+selector+" has no enabled provider")
	}

	return nil, gwerrors.New(gwerrors.CodeUnknownModel, "unknown model selector: "+selector)
}

// Provider returns the Provider for id, or fails with unknown_provider.
func (c *Catalog) Provider(id string) (*Provider, error) {
	s := c.current.Load()
	p, ok := s.providers[id]
	if !ok {
		return nil, gwerrors.New(gwerrors.CodeUnknownProvider, "unknown provider: "+id)
	}
	return p, nil
}

// Supports reports whether provider supports the named capability.
func (c *Catalog) Supports(providerID string, capability func(Capabilities) bool) bool {
	s := c.current.Load()
	for _, m := range s.models {
		if m.ProviderID != providerID {
			continue
		}
		if capability(m.Capabilities) {
			return true
		}
	}
	return false
}

// Models returns all canonical model ids and alias names, sorted together,
// for the reference HTTP adapter's GET /v1/models.
func (c *Catalog) Models() []string {
	s := c.current.Load()
	out := make([]string, 0, len(s.models)+len(s.aliases))
	for id := range s.models {
		out = append(out, id)
	}
	for name := range s.aliases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
