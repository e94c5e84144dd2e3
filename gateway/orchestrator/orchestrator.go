// Package orchestrator walks the Router's tiered candidate lists, running
// each through the ResiliencePipeline, and returns the first success or an
// aggregated exhausted error.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/resilience"
	"github.com/rudironsoni/inference-gateway/gateway/router"
)

// AttemptRecord is one tried-and-failed candidate, carried on ExhaustedError
// so the HTTP adapter can report what was actually attempted.
type AttemptRecord struct {
	Provider   string
	Tier       router.Tier
	ErrorClass gwerrors.Code
}

// ExhaustedError is returned when every tier yields no success.
type ExhaustedError struct {
	Model    string
	Attempts []AttemptRecord
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "exhausted all candidates for %s: ", e.Model)
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "{provider:%s error:%s}", a.Provider, a.ErrorClass)
	}
	return b.String()
}

// Metrics is the narrow Prometheus surface the orchestrator drives;
// gateway/gwmetrics implements it.
type Metrics interface {
	ObserveAttempt(provider string, tier router.Tier, outcome string)
	ObserveExhausted(model string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(string, router.Tier, string) {}
func (noopMetrics) ObserveExhausted(string)                    {}

// routerIface is the subset of gateway/router.Router the orchestrator needs.
type routerIface interface {
	Candidates(ctx context.Context, req *gwtypes.Request, now time.Time) (map[router.Tier][]router.Candidate, error)
}

// Orchestrator wires Router + ResiliencePipeline + ProviderDriver registry
// into the tier-walk algorithm.
type Orchestrator struct {
	router   routerIface
	drivers  *driver.Registry
	pipeline *resilience.Pipeline
	catalog  *catalog.Catalog
	metrics  Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

func New(r routerIface, drivers *driver.Registry, pipeline *resilience.Pipeline, cat *catalog.Catalog, metrics Metrics, logger *zap.Logger) *Orchestrator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		router:   r,
		drivers:  drivers,
		pipeline: pipeline,
		catalog:  cat,
		metrics:  metrics,
		tracer:   otel.Tracer("gateway/orchestrator"),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Result is what Execute returns on success: exactly one of Response or
// Stream is set. Stream is set when req.Stream is true and the chosen
// model supports streaming; otherwise Response is set.
type Result struct {
	Response *gwtypes.Response
	Stream   <-chan gwtypes.StreamChunk
	Metadata gwtypes.RoutingMetadata
}

var tierOrder = []router.Tier{router.TierPreferred, router.TierFree, router.TierPaid, router.TierEmergency}

// Execute walks tiers 1..4 in order, trying candidates within a tier
// sequentially, and returns the first success. Every attempt's
// health/breaker bookkeeping happens inside ResiliencePipeline; Execute
// only decides whether to fall through.
func (o *Orchestrator) Execute(ctx context.Context, req *gwtypes.Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(attribute.String("model_selector", req.ModelSelector)))
	defer span.End()

	var attempts []AttemptRecord

	for _, tier := range tierOrder {
		tiers, err := o.router.Candidates(ctx, req, time.Now())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		for _, candidate := range tiers[tier] {
			result, outcome, ok := o.attempt(ctx, tier, candidate, req)
			if outcome.Cancelled {
				return nil, outcome.Err
			}
			if ok {
				o.metrics.ObserveAttempt(candidate.ProviderID, tier, "success")
				result.Metadata.Attempts = len(attempts) + 1
				return result, nil
			}

			class := gwerrors.CodeServerError
			if outcome.Err != nil {
				class = outcome.Err.Code
			}
			o.metrics.ObserveAttempt(candidate.ProviderID, tier, string(class))
			attempts = append(attempts, AttemptRecord{Provider: candidate.ProviderID, Tier: tier, ErrorClass: class})
		}
	}

	o.metrics.ObserveExhausted(req.ModelSelector)
	span.SetStatus(codes.Error, "exhausted")
	return nil, &ExhaustedError{Model: req.ModelSelector, Attempts: attempts}
}

// attempt runs one candidate through the resilience pipeline, returning a
// populated Result and ok=true on success.
func (o *Orchestrator) attempt(ctx context.Context, tier router.Tier, candidate router.Candidate, req *gwtypes.Request) (*Result, resilience.Outcome, bool) {
	attemptCtx, span := o.tracer.Start(ctx, "orchestrator.attempt",
		trace.WithAttributes(
			attribute.String("provider", candidate.ProviderID),
			attribute.Int("tier", int(tier)),
			attribute.String("model", candidate.CanonicalModel.ID),
		))
	defer span.End()

	d, ok := o.drivers.For(candidate.ProviderID)
	if !ok {
		err := gwerrors.New(gwerrors.CodeUnknownProvider, "no driver registered for "+candidate.ProviderID)
		span.RecordError(err)
		return nil, resilience.Outcome{Err: err}, false
	}
	prov, err := o.catalog.Provider(candidate.ProviderID)
	if err != nil {
		span.RecordError(err)
		return nil, resilience.Outcome{Err: err.(*gwerrors.Error)}, false
	}

	if req.Stream && candidate.CanonicalModel.Capabilities.Streaming {
		stream, outcome := o.pipeline.RunStream(attemptCtx, d, candidate.ProviderID, prov, candidate.CanonicalModel, req)
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			return nil, outcome, false
		}
		return &Result{
			Stream: stream,
			Metadata: gwtypes.RoutingMetadata{
				Provider:       candidate.ProviderID,
				CanonicalModel: candidate.CanonicalModel.ID,
				Tier:           int(tier),
			},
		}, outcome, true
	}

	outcome := o.pipeline.Run(attemptCtx, d, candidate.ProviderID, prov, candidate.CanonicalModel, req)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		return nil, outcome, false
	}
	return &Result{
		Response: outcome.Response,
		Metadata: gwtypes.RoutingMetadata{
			Provider:       candidate.ProviderID,
			CanonicalModel: candidate.CanonicalModel.ID,
			Tier:           int(tier),
		},
	}, outcome, true
}
