// Package tracker implements the execution tracker (C5): the in-memory
// execution_id -> PendingExecution table with timeout-indexed sweeping
// (spec §4.5).
package tracker

import (
	"sync"
	"time"

	"github.com/modulehub/orchestrator/internal/domain"
)

// Tracker holds no persistence: across a restart, all pending records are
// dropped (spec §4.5 accepted limitation).
type Tracker struct {
	mu      sync.Mutex
	pending map[string]domain.PendingExecution
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{pending: make(map[string]domain.PendingExecution)}
}

// Record inserts a pending execution.
func (t *Tracker) Record(p domain.PendingExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[p.ExecutionID] = p
}

// Clear idempotently removes a pending execution, returning whether one was
// present.
func (t *Tracker) Clear(executionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[executionID]
	delete(t.pending, executionID)
	return ok
}

// Sweep removes and returns every entry whose sent_time is before
// now-timeout.
func (t *Tracker) Sweep(now time.Time, timeout time.Duration) []domain.PendingExecution {
	cutoff := now.Add(-timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []domain.PendingExecution
	for id, p := range t.pending {
		if p.SentTime.Before(cutoff) {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	return expired
}

// Len reports the number of pending executions, mainly for tests and status
// reporting.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
