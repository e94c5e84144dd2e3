// Package health tracks per-provider health across concurrent requests,
// optionally shared across replicas via a remote key-value store.
package health

import (
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
)

// State is the coarse health classification of a provider.
type State string

const (
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// Entry is the health record kept per provider id.
type Entry struct {
	ProviderID          string
	State               State
	LastErrorClass      gwerrors.Code // "" means none
	CooldownUntil       time.Time
	ConsecutiveFailures int
	UpdatedAt           time.Time
}

// defaultEntry is what Get returns for a provider with no recorded history:
// healthy, no cooldown (fail-open / unknown-is-healthy).
func defaultEntry(providerID string, now time.Time) Entry {
	return Entry{ProviderID: providerID, State: StateHealthy, UpdatedAt: now}
}

// cooldown maps an error class to its table-mandated cooldown duration and
// whether it flips the provider to unhealthy. client_error (and the zero
// value "none") change nothing — it is never the provider's fault.
func cooldown(class gwerrors.Code) (d time.Duration, unhealthy bool) {
	switch class {
	case gwerrors.CodeRateLimited:
		return 60 * time.Second, true
	case gwerrors.CodeAuthError:
		return time.Hour, true
	case gwerrors.CodeServerError:
		return 30 * time.Second, true
	default: // client_error, "" (none)
		return 0, false
	}
}

// Store is the HealthStore interface. All operations are idempotent from
// the caller's view and MUST be serializable per provider id; two different
// providers must be updatable in parallel, so implementations must not hold
// a single global lock across the whole store.
type Store interface {
	Get(providerID string) Entry
	RecordSuccess(providerID string)
	// RecordFailure maps errorClass to a cooldown per the table above. If
	// retryAfterHint is supplied, the larger of (hint, table value) wins.
	RecordFailure(providerID string, errorClass gwerrors.Code, retryAfterHint time.Duration)
	IsEligible(providerID string, now time.Time) bool
}

// applyFailure computes the next Entry for a RecordFailure call, given the
// previous entry, shared by every Store implementation so the cooldown
// table and the hint-vs-table-max rule live in exactly one place.
func applyFailure(prev Entry, providerID string, errorClass gwerrors.Code, retryAfterHint time.Duration, now time.Time) Entry {
	tableCooldown, unhealthy := cooldown(errorClass)
	d := tableCooldown
	if retryAfterHint > d {
		d = retryAfterHint
	}

	next := Entry{
		ProviderID:          providerID,
		LastErrorClass:      errorClass,
		ConsecutiveFailures: prev.ConsecutiveFailures + 1,
		UpdatedAt:           now,
	}
	if unhealthy {
		next.State = StateUnhealthy
		next.CooldownUntil = now.Add(d)
	} else {
		// client_error / none: no state change, but preserve whatever the
		// entry already was (a client_error must never heal OR re-arm a
		// cooldown that a prior real failure set).
		next.State = prev.State
		next.CooldownUntil = prev.CooldownUntil
	}
	return next
}

func eligible(e Entry, now time.Time) bool {
	return e.State == StateHealthy || !e.CooldownUntil.After(now)
}
