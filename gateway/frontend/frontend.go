// Package frontend implements ExecutionFrontend, the single entry point the
// HTTP adapter calls: validate the request, resolve streaming capability,
// delegate to the orchestrator, and attach routing metadata to the result.
package frontend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/orchestrator"
	"github.com/rudironsoni/inference-gateway/gateway/tokenest"
)

// Catalog is the subset of gateway/catalog.Catalog the frontend needs to
// decide whether a request's streaming flag survives model-capability
// resolution.
type Catalog interface {
	Resolve(selector string) ([]*catalog.CanonicalModel, error)
}

// Orchestrator is the subset of gateway/orchestrator.Orchestrator the
// frontend drives.
type Orchestrator interface {
	Execute(ctx context.Context, req *gwtypes.Request) (*orchestrator.Result, error)
}

type Frontend struct {
	catalog      Catalog
	orchestrator Orchestrator
	estimator    *tokenest.Estimator
	logger       *zap.Logger
}

func New(cat Catalog, orch Orchestrator, estimator *tokenest.Estimator, logger *zap.Logger) *Frontend {
	if estimator == nil {
		estimator = tokenest.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontend{catalog: cat, orchestrator: orch, estimator: estimator, logger: logger.With(zap.String("component", "frontend"))}
}

// Run validates req, resolves the streaming/non-streaming decision, and
// delegates to FallbackOrchestrator. Exactly one of the Result's
// Response/Stream fields is set on success.
func (f *Frontend) Run(ctx context.Context, req *gwtypes.Request) (*orchestrator.Result, error) {
	if err := f.validate(req); err != nil {
		return nil, err
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.TokenEstimate == 0 {
		req.TokenEstimate = f.estimator.EstimatePrompt(req.Messages)
	}

	downgraded := f.resolveStreaming(req)

	result, err := f.orchestrator.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Metadata.Downgraded = downgraded
	return result, nil
}

func (f *Frontend) validate(req *gwtypes.Request) error {
	if req.ModelSelector == "" {
		return gwerrors.New(gwerrors.CodeClientError, "model is required")
	}
	if len(req.Messages) == 0 {
		return gwerrors.New(gwerrors.CodeClientError, "messages must be non-empty")
	}
	for i, m := range req.Messages {
		if m.Content == "" && m.Role != gwtypes.RoleTool {
			return gwerrors.New(gwerrors.CodeClientError, fmt.Sprintf("message %d has empty content", i))
		}
	}
	return nil
}

// resolveStreaming downgrades req.Stream to false if every candidate the
// selector could resolve to lacks streaming support, reporting whether a
// downgrade occurred. An unresolvable selector is left alone; the
// orchestrator's own Router.Candidates call, which resolves through
// Catalog.Resolve, will surface unknown_model.
func (f *Frontend) resolveStreaming(req *gwtypes.Request) bool {
	if !req.Stream {
		return false
	}
	models, err := f.catalog.Resolve(req.ModelSelector)
	if err != nil || len(models) == 0 {
		return false
	}
	for _, m := range models {
		if m.Capabilities.Streaming {
			return false
		}
	}
	req.Stream = false
	return true
}
