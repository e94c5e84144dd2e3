package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(Config{Threshold: 3, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)
}

func TestRegistry_ClosedAllowsUntilThreshold(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Allow("p1"))
		r.RecordFailure("p1")
	}
	assert.Equal(t, StateClosed, r.State("p1"))

	require.NoError(t, r.Allow("p1"))
	r.RecordFailure("p1")
	assert.Equal(t, StateOpen, r.State("p1"))
}

func TestRegistry_OpenDeniesUntilResetTimeout(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure("p1")
	}
	require.Equal(t, StateOpen, r.State("p1"))
	assert.ErrorIs(t, r.Allow("p1"), ErrOpen)

	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, r.Allow("p1"))
	assert.Equal(t, StateHalfOpen, r.State("p1"))
}

func TestRegistry_HalfOpenAllowsOnlyConfiguredProbes(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure("p1")
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, r.Allow("p1")) // consumes the single half-open slot
	assert.ErrorIs(t, r.Allow("p1"), ErrHalfOpenAtLimit)
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure("p1")
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, r.Allow("p1"))

	r.RecordFailure("p1")
	assert.Equal(t, StateOpen, r.State("p1"))
}

func TestRegistry_SuccessClosesAndResetsFailureStreak(t *testing.T) {
	r := newTestRegistry()
	r.RecordFailure("p1")
	r.RecordFailure("p1")
	r.RecordSuccess("p1")
	assert.Equal(t, StateClosed, r.State("p1"))

	// failure streak reset: two more failures alone shouldn't trip it
	r.RecordFailure("p1")
	r.RecordFailure("p1")
	assert.Equal(t, StateClosed, r.State("p1"))
}

func TestRegistry_IndependentProviders(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.RecordFailure("p1")
	}
	assert.Equal(t, StateOpen, r.State("p1"))
	assert.Equal(t, StateClosed, r.State("p2"))
}
