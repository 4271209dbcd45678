package worker

import (
	"context"
	"sync"
)

// Tracker maps running job ids to the cancel func of their loop.
type Tracker struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{cancels: make(map[string]context.CancelFunc)}
}

// Track registers cancel for jobID, replacing any previous registration.
func (t *Tracker) Track(jobID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[jobID] = cancel
}

// Untrack forgets jobID without canceling it.
func (t *Tracker) Untrack(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, jobID)
}

// Cancel stops the loop running jobID. It reports whether a loop was running.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[jobID]
	delete(t.cancels, jobID)
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns how many loops are registered.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}
