// Package driver defines the uniform ProviderDriver interface. Concrete
// drivers (gateway/providers/*) live outside the core; this package holds
// only the contract and the HTTP error-classification helpers shared by
// whichever driver talks raw HTTP.
package driver

import (
	"context"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
)

// Driver is the uniform surface over one upstream provider. Both methods
// may fail with a *gwerrors.Error; any error returned without that
// classification is treated by callers as server_error.
type Driver interface {
	// Call performs a non-streaming request.
	Call(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (*gwtypes.Response, error)
	// Stream performs a streaming request. The returned channel is finite,
	// closed by the driver, and not restartable. Cancelling ctx must stop
	// the upstream call and close the channel.
	Stream(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (<-chan gwtypes.StreamChunk, error)
}

// Registry looks up the Driver registered for a provider id, so the
// orchestrator and ResiliencePipeline don't need to know about concrete
// driver types.
type Registry struct {
	byProviderID map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{byProviderID: make(map[string]Driver)}
}

func (r *Registry) Register(providerID string, d Driver) {
	r.byProviderID[providerID] = d
}

func (r *Registry) For(providerID string) (Driver, bool) {
	d, ok := r.byProviderID[providerID]
	return d, ok
}
