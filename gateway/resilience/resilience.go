// Package resilience implements the per-attempt state machine
// FallbackOrchestrator composes one candidate call around: quota
// reservation, a circuit-breaker check, a bounded timeout, one fixed-delay
// retry on transient failures, and token accounting on success.
package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/circuitbreaker"
	"github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"github.com/rudironsoni/inference-gateway/gateway/quota"
	"github.com/rudironsoni/inference-gateway/gateway/retry"
)

// Config tunes per-attempt timeouts: a bound for a full non-streaming
// call, and a shorter bound for receiving the first streamed chunk.
type Config struct {
	CallTimeout           time.Duration
	StreamFirstByteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{CallTimeout: 30 * time.Second, StreamFirstByteTimeout: 10 * time.Second}
}

// Outcome is the result of one candidate attempt, consumed by
// FallbackOrchestrator to decide whether to stop or fall through.
type Outcome struct {
	Response  *gwtypes.Response
	Err       *gwerrors.Error
	Cancelled bool // ctx was cancelled; never counts as a provider failure
}

// Pipeline runs one candidate attempt.
type Pipeline struct {
	cfg        Config
	quota      quota.Tracker
	health     health.Store
	breakers   *circuitbreaker.Registry
	logger     *zap.Logger
}

func New(cfg Config, quotaTracker quota.Tracker, healthStore health.Store, breakers *circuitbreaker.Registry, logger *zap.Logger) *Pipeline {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.StreamFirstByteTimeout <= 0 {
		cfg.StreamFirstByteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, quota: quotaTracker, health: healthStore, breakers: breakers, logger: logger.With(zap.String("component", "resilience"))}
}

// isRetryable is the only class of failure the one allowed retry applies
// to: a transient server_error (including network errors, which classify
// the same way once they escape the driver unclassified).
func isRetryable(err error) bool {
	return gwerrors.ClassOf(err) == gwerrors.CodeServerError
}

// reserveAndGuard runs the pre-call gates shared by Run and RunStream:
// quota reservation then the circuit breaker. A circuit-breaker trip is
// reported as a server_error skip without touching HealthStore — the
// breaker is a separate, faster guard layered in front of it.
func (p *Pipeline) reserveAndGuard(providerID string, prov *catalog.Provider, now time.Time) *gwerrors.Error {
	if p.quota != nil && !p.quota.Reserve(providerID, prov.RPMLimit, now) {
		return gwerrors.New(gwerrors.CodeRateLimited, "quota window exhausted").WithProvider(providerID)
	}
	if p.breakers != nil {
		if err := p.breakers.Allow(providerID); err != nil {
			return gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(providerID)
		}
	}
	return nil
}

// Run performs one non-streaming attempt against candidate's provider.
func (p *Pipeline) Run(ctx context.Context, d driver.Driver, providerID string, prov *catalog.Provider, model *catalog.CanonicalModel, req *gwtypes.Request) Outcome {
	now := time.Now()
	if guardErr := p.reserveAndGuard(providerID, prov, now); guardErr != nil {
		return Outcome{Err: guardErr}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	policy := retry.NewPolicy(isRetryable, p.logger)

	var resp *gwtypes.Response
	callErr := policy.Do(attemptCtx, func() error {
		r, err := d.Call(attemptCtx, req, model)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	if callErr != nil {
		return p.recordFailure(ctx, providerID, callErr)
	}

	p.recordSuccess(providerID, prov, resp.Usage.Total(), now)
	return Outcome{Response: resp}
}

// RunStream performs one streaming attempt. The returned channel is nil
// only if the pre-call gates rejected the attempt or the upstream call
// failed before the first byte; once the channel is non-nil, any failure
// surfaces in-band as a StreamChunk.Err and must not trigger a further
// fallback, so RunStream does not retry the Stream() call past its first
// successful establishment.
func (p *Pipeline) RunStream(ctx context.Context, d driver.Driver, providerID string, prov *catalog.Provider, model *catalog.CanonicalModel, req *gwtypes.Request) (<-chan gwtypes.StreamChunk, Outcome) {
	now := time.Now()
	if guardErr := p.reserveAndGuard(providerID, prov, now); guardErr != nil {
		return nil, Outcome{Err: guardErr}
	}

	policy := retry.NewPolicy(isRetryable, p.logger)

	var raw <-chan gwtypes.StreamChunk
	dialErr := policy.Do(ctx, func() error {
		ch, err := p.dialStream(ctx, d, req, model)
		if err != nil {
			return err
		}
		raw = ch
		return nil
	})

	if dialErr != nil {
		return nil, p.recordFailure(ctx, providerID, dialErr)
	}

	out := make(chan gwtypes.StreamChunk)
	go p.pumpStream(ctx, providerID, prov, now, raw, out)
	return out, Outcome{}
}

// dialStream bounds only the wait for d.Stream to establish the channel by
// StreamFirstByteTimeout. It passes the long-lived ctx into d.Stream, not a
// short-lived derivative, because the driver captures that same context for
// the channel's entire producer lifetime (see gateway/driver.Driver's
// contract). Cancelling a dial-only context after the dial succeeds would
// otherwise race every subsequent chunk send against an already-Done ctx.
func (p *Pipeline) dialStream(ctx context.Context, d driver.Driver, req *gwtypes.Request, model *catalog.CanonicalModel) (<-chan gwtypes.StreamChunk, error) {
	type dialResult struct {
		ch  <-chan gwtypes.StreamChunk
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		ch, err := d.Stream(ctx, req, model)
		resultCh <- dialResult{ch: ch, err: err}
	}()

	timer := time.NewTimer(p.cfg.StreamFirstByteTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.ch, res.err
	case <-timer.C:
		return nil, gwerrors.New(gwerrors.CodeServerError, "timed out waiting for stream to start")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pumpStream relays chunks from the driver, committing token usage on a
// successful Done. A mid-stream error is delivered in-band and is terminal,
// but it is never treated as the provider's fault once the first byte has
// already reached the caller: HealthStore and the breaker are left
// untouched, unlike a pre-first-byte dial failure.
func (p *Pipeline) pumpStream(ctx context.Context, providerID string, prov *catalog.Provider, reservedAt time.Time, raw <-chan gwtypes.StreamChunk, out chan<- gwtypes.StreamChunk) {
	defer close(out)
	for chunk := range raw {
		select {
		case <-ctx.Done():
			return
		case out <- chunk:
		}
		if chunk.Err != nil {
			return
		}
		if chunk.Done {
			tokens := 0
			if chunk.Usage != nil {
				tokens = chunk.Usage.Total()
			}
			p.recordSuccess(providerID, prov, tokens, reservedAt)
			return
		}
	}
}

func (p *Pipeline) recordSuccess(providerID string, prov *catalog.Provider, tokens int, now time.Time) {
	if p.health != nil {
		p.health.RecordSuccess(providerID)
	}
	if p.breakers != nil {
		p.breakers.RecordSuccess(providerID)
	}
	if p.quota != nil && tokens > 0 {
		p.quota.CommitTokens(providerID, tokens, prov.TPMLimit, now, func() {
			if p.health != nil {
				p.health.RecordFailure(providerID, gwerrors.CodeRateLimited, 60*time.Second)
			}
		})
	}
}

// recordFailure classifies err and updates HealthStore/breaker state,
// except when ctx was cancelled — cancellation is never the provider's
// fault and must not record a failure.
func (p *Pipeline) recordFailure(ctx context.Context, providerID string, err error) Outcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Outcome{Cancelled: true, Err: gwerrors.New(gwerrors.CodeCancelled, "request cancelled").WithProvider(providerID)}
	}

	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.New(gwerrors.CodeServerError, err.Error()).WithProvider(providerID)
	}

	hint := time.Duration(gwErr.RetryAfter) * time.Second
	if p.health != nil {
		p.health.RecordFailure(providerID, gwErr.Code, hint)
	}
	if p.breakers != nil {
		p.breakers.RecordFailure(providerID)
	}
	return Outcome{Err: gwErr}
}
