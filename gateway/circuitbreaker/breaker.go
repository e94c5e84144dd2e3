// Package circuitbreaker provides a per-provider circuit breaker layered
// in front of HealthStore eligibility as a second, faster-tripping guard.
// The HealthStore cooldown table is authoritative for provider eligibility;
// this breaker trips sooner, on consecutive pipeline failures regardless of
// error class, and recovers through the usual half-open probe.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker open")
	ErrHalfOpenAtLimit = errors.New("circuit breaker half-open probe limit reached")
)

// Config tunes a single provider's breaker.
type Config struct {
	Threshold        int           // consecutive failures before tripping open
	ResetTimeout     time.Duration // Open -> HalfOpen wait
	HalfOpenMaxCalls int           // probes allowed while half-open
}

func DefaultConfig() Config {
	return Config{Threshold: 5, ResetTimeout: 60 * time.Second, HalfOpenMaxCalls: 1}
}

type breaker struct {
	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// Registry owns one breaker per provider id, so a trip on one provider
// never blocks calls to another.
type Registry struct {
	cfg     Config
	logger  *zap.Logger
	breaker sync.Map // providerID -> *breaker
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{cfg: cfg, logger: logger.With(zap.String("component", "circuitbreaker"))}
}

func (r *Registry) breakerFor(providerID string) *breaker {
	v, _ := r.breaker.LoadOrStore(providerID, &breaker{state: StateClosed})
	return v.(*breaker)
}

// Allow reports whether an attempt to providerID may proceed, transitioning
// Open -> HalfOpen when ResetTimeout has elapsed.
func (r *Registry) Allow(providerID string) error {
	b := r.breakerFor(providerID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) > r.cfg.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenCallCount = 1
			r.logger.Info("breaker half-open", zap.String("provider", providerID))
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCallCount >= r.cfg.HalfOpenMaxCalls {
			return ErrHalfOpenAtLimit
		}
		b.halfOpenCallCount++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker, resetting its failure streak.
func (r *Registry) RecordSuccess(providerID string) {
	b := r.breakerFor(providerID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		r.logger.Info("breaker closed", zap.String("provider", providerID), zap.String("from", b.state.String()))
	}
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
}

// RecordFailure advances the failure streak, tripping the breaker open once
// it reaches Threshold, or immediately re-opening a half-open probe.
func (r *Registry) RecordFailure(providerID string) {
	b := r.breakerFor(providerID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= r.cfg.Threshold {
			r.logger.Warn("breaker open", zap.String("provider", providerID), zap.Int("failures", b.failureCount))
			b.state = StateOpen
		}
	case StateHalfOpen:
		r.logger.Warn("breaker re-open after half-open failure", zap.String("provider", providerID))
		b.state = StateOpen
		b.halfOpenCallCount = 0
	}
}

// State returns the current state, for diagnostics/tests.
func (r *Registry) State(providerID string) State {
	b := r.breakerFor(providerID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
