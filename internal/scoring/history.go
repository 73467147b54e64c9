package scoring

import (
	"context"
	"sync"
	"time"

	"constitutional-gov/pkg/types"
)

// WindowHistory tracks conflict occurrences over a rolling time window
// and reports a recurrence rate per conflict type. The processor feeds
// it after every batch; the scorer reads it on the next run.
type WindowHistory struct {
	mu      sync.Mutex
	window  time.Duration
	maxRate int
	events  map[types.ConflictType][]time.Time
	clock   func() time.Time
}

// NewWindowHistory creates a history over the given window. maxRate is
// the occurrence count that maps to a recurrence rate of 1.0.
func NewWindowHistory(window time.Duration, maxRate int) *WindowHistory {
	if maxRate < 1 {
		maxRate = 10
	}
	return &WindowHistory{
		window:  window,
		maxRate: maxRate,
		events:  make(map[types.ConflictType][]time.Time),
		clock:   time.Now,
	}
}

// Record registers one occurrence of the conflict type.
func (h *WindowHistory) Record(conflictType types.ConflictType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[conflictType] = append(h.prune(conflictType), h.clock())
}

// RecurrenceRate returns occurrences-in-window / maxRate, capped at 1.
func (h *WindowHistory) RecurrenceRate(_ context.Context, conflictType types.ConflictType) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pruned := h.prune(conflictType)
	h.events[conflictType] = pruned

	rate := float64(len(pruned)) / float64(h.maxRate)
	if rate > 1 {
		rate = 1
	}
	return rate, nil
}

// CountSince returns how many occurrences of the type fall inside the
// window. The escalation rule engine uses this for the repeat trigger.
func (h *WindowHistory) CountSince(conflictType types.ConflictType) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	pruned := h.prune(conflictType)
	h.events[conflictType] = pruned
	return len(pruned)
}

// prune drops events older than the window. Caller holds the lock.
func (h *WindowHistory) prune(conflictType types.ConflictType) []time.Time {
	cutoff := h.clock().Add(-h.window)
	events := h.events[conflictType]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
