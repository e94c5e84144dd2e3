package quota

import (
	"sync"
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"golang.org/x/time/rate"
)

// providerWindow guards one provider's window state with its own mutex, so
// two different providers reserve in parallel.
type providerWindow struct {
	mu               sync.Mutex
	requestsInWindow int
	tokensInWindow   int
	windowStart      time.Time
	limiter          *rate.Limiter // burst-smoothing backstop, sized from rpmLimit
	limiterForRPM    int           // rpmLimit the limiter was sized for
}

// InProcessTracker is the in-memory QuotaTracker. Reserve rotates the
// window and checks-and-increments inside one critical section, with no
// store-wide lock — different providers never contend on the same mutex.
type InProcessTracker struct {
	windows sync.Map // providerID -> *providerWindow
	health  health.Store
}

// NewInProcessTracker wires a health.Store so CommitTokens can report a TPM
// overflow as a rate_limited failure.
func NewInProcessTracker(healthStore health.Store) *InProcessTracker {
	return &InProcessTracker{health: healthStore}
}

func (t *InProcessTracker) windowFor(providerID string) *providerWindow {
	v, _ := t.windows.LoadOrStore(providerID, &providerWindow{})
	return v.(*providerWindow)
}

func (t *InProcessTracker) Reserve(providerID string, rpmLimit int, now time.Time) bool {
	w := t.windowFor(providerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if start, rotated := rotate(w.windowStart, now); rotated {
		w.windowStart = start
		w.requestsInWindow = 0
		w.tokensInWindow = 0
	}

	// Burst-smoothing gate: a token bucket refilling at rpm/60 per second
	// with a burst of rpm, consulted before the window check. A full bucket
	// still admits a whole minute's budget at once; after such a burst, the
	// next window's requests are admitted only as fast as the bucket
	// refills. A denial here is a real denial, not just refill bookkeeping;
	// the window check below still applies on top of it as the minute-level
	// ceiling.
	if rpmLimit > 0 {
		if w.limiter == nil || w.limiterForRPM != rpmLimit {
			w.limiter = rate.NewLimiter(rate.Limit(float64(rpmLimit)/60.0), rpmLimit)
			w.limiterForRPM = rpmLimit
		}
		if !w.limiter.AllowN(now, 1) {
			return false
		}
	}

	if rpmLimit > 0 && w.requestsInWindow+1 > rpmLimit {
		return false
	}
	w.requestsInWindow++
	return true
}

func (t *InProcessTracker) CommitTokens(providerID string, tokenCount int, tpmLimit int, now time.Time, onOverflow func()) {
	w := t.windowFor(providerID)
	w.mu.Lock()
	if start, rotated := rotate(w.windowStart, now); rotated {
		w.windowStart = start
		w.requestsInWindow = 0
		w.tokensInWindow = 0
	}
	w.tokensInWindow += tokenCount
	overflow := tpmLimit > 0 && w.tokensInWindow > tpmLimit
	w.mu.Unlock()

	if overflow {
		if t.health != nil {
			t.health.RecordFailure(providerID, gwerrors.CodeRateLimited, 60*time.Second)
		}
		if onOverflow != nil {
			onOverflow()
		}
	}
}

func (t *InProcessTracker) Snapshot(providerID string) Entry {
	w := t.windowFor(providerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return Entry{
		ProviderID:       providerID,
		RequestsInWindow: w.requestsInWindow,
		TokensInWindow:   w.tokensInWindow,
		WindowStart:      w.windowStart,
	}
}
