package gwconfig

import (
	"github.com/rudironsoni/inference-gateway/gateway/catalog"
)

// BuildCatalog translates the configuration tree's providers/models/aliases
// section into the immutable types gateway/catalog.New expects.
func BuildCatalog(cfg *Config) *catalog.Catalog {
	providers, models, aliases := buildEntities(cfg)
	return catalog.New(providers, models, aliases)
}

// ReloadCatalog is the hot-reload counterpart of BuildCatalog: given the
// latest Config, it rebuilds the entity lists and swaps them into an
// already-constructed Catalog.
func ReloadCatalog(cat *catalog.Catalog, cfg *Config) {
	providers, models, aliases := buildEntities(cfg)
	cat.Swap(providers, models, aliases)
}

func buildEntities(cfg *Config) ([]*catalog.Provider, []*catalog.CanonicalModel, []*catalog.Alias) {
	providers := make([]*catalog.Provider, 0, len(cfg.Providers))
	for id, p := range cfg.Providers {
		native := make(map[string]struct{}, len(p.Models))
		for _, m := range p.Models {
			native[m] = struct{}{}
		}
		providers = append(providers, &catalog.Provider{
			ID:             id,
			DisplayName:    p.DisplayName,
			Kind:           catalog.ProviderKind(p.Kind),
			Enabled:        p.Enabled,
			Endpoint:       p.Endpoint,
			CredentialRef:  p.CredentialRef,
			Tier:           p.Tier,
			Free:           p.Free,
			RPMLimit:       p.RPMLimit,
			TPMLimit:       p.TPMLimit,
			NativeModelIDs: native,
			DriverConfig:   p.DriverConfig,
		})
	}

	models := make([]*catalog.CanonicalModel, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, &catalog.CanonicalModel{
			ID:         m.ID,
			ProviderID: m.ProviderID,
			ModelPath:  m.ModelPath,
			Capabilities: catalog.Capabilities{
				Streaming:        m.Capabilities.Streaming,
				Tools:            m.Capabilities.Tools,
				Vision:           m.Capabilities.Vision,
				StructuredOutput: m.Capabilities.StructuredOutput,
				LogProbs:         m.Capabilities.LogProbs,
			},
			ContextWindow:  m.ContextWindow,
			PriceInputUSD:  m.PriceInputUSD,
			PriceOutputUSD: m.PriceOutputUSD,
		})
	}

	aliases := make([]*catalog.Alias, 0, len(cfg.Aliases))
	for name, order := range cfg.Aliases {
		aliases = append(aliases, &catalog.Alias{Name: name, CanonicalModelOrder: order})
	}

	return providers, models, aliases
}
