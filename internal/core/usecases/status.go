package usecases

import (
	"sync"
	"time"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// StatusTracker records per-entity acceptance, rejection and sync outcomes,
// so a stalled path can be explained instead of looking like absent signal.
type StatusTracker struct {
	mu       sync.RWMutex
	statuses map[string]*domain.TrackingStatus
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: make(map[string]*domain.TrackingStatus)}
}

func (t *StatusTracker) entry(entityID string) *domain.TrackingStatus {
	st, ok := t.statuses[entityID]
	if !ok {
		st = &domain.TrackingStatus{EntityID: entityID}
		t.statuses[entityID] = st
	}
	return st
}

func (t *StatusTracker) RecordAccepted(entityID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(entityID)
	st.AcceptedCount++
	st.LastAcceptedAt = &at
}

func (t *StatusTracker) RecordRejected(entityID string, at time.Time, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(entityID)
	st.RejectedCount++
	st.LastRejectedAt = &at
	st.LastRejection = reason
}

func (t *StatusTracker) RecordSync(entityID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(entityID)
	if err != nil {
		st.LastSyncError = err.Error()
	} else {
		st.LastSyncError = ""
	}
}

func (t *StatusTracker) RecordFutureFixes(entityID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(entityID).FutureFixCount += n
}

func (t *StatusTracker) SetObserving(entityID string, observing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(entityID).Observing = observing
}

// Status returns a copy of the entity's status.
func (t *StatusTracker) Status(entityID string) domain.TrackingStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.statuses[entityID]; ok {
		return *st
	}
	return domain.TrackingStatus{EntityID: entityID}
}
