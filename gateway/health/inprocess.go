package health

import (
	"sync"
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
)

// entryGuard pairs one provider's Entry with its own mutex, so updates to
// provider A never block updates to provider B.
type entryGuard struct {
	mu    sync.Mutex
	entry Entry
	set   bool
}

// InProcessStore is the in-memory HealthStore, suitable for a single
// gateway instance with no shared replica state. Each provider id gets its
// own lock; there is no store-wide mutex.
type InProcessStore struct {
	guards sync.Map // providerID -> *entryGuard
}

func NewInProcessStore() *InProcessStore {
	return &InProcessStore{}
}

func (s *InProcessStore) guardFor(providerID string) *entryGuard {
	v, _ := s.guards.LoadOrStore(providerID, &entryGuard{})
	return v.(*entryGuard)
}

func (s *InProcessStore) Get(providerID string) Entry {
	g := s.guardFor(providerID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return defaultEntry(providerID, time.Now())
	}
	return g.entry
}

func (s *InProcessStore) RecordSuccess(providerID string) {
	g := s.guardFor(providerID)
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = Entry{ProviderID: providerID, State: StateHealthy, UpdatedAt: now}
	g.set = true
}

func (s *InProcessStore) RecordFailure(providerID string, errorClass gwerrors.Code, retryAfterHint time.Duration) {
	g := s.guardFor(providerID)
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.entry
	if !g.set {
		prev = defaultEntry(providerID, now)
	}
	g.entry = applyFailure(prev, providerID, errorClass, retryAfterHint, now)
	g.set = true
}

func (s *InProcessStore) IsEligible(providerID string, now time.Time) bool {
	return eligible(s.Get(providerID), now)
}
