package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constitutional-gov/internal/cache"
	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/internal/resolution"
	"constitutional-gov/internal/scoring"
	"constitutional-gov/pkg/types"
)

func newTestProcessor(t *testing.T, cfg *config.Config, gen oracle.Generator) *Processor {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	store := config.NewStore(cfg, "", logging.NewNoop())
	scorer := scoring.NewScorer(store, nil, logging.NewNoop())
	workflow := resolution.NewWorkflow(store, gen, logging.NewNoop())
	return New(store, scorer, workflow, cache.NewMemoryCache(), nil, logging.NewNoop())
}

func simpleConflicts(n int) []types.Conflict {
	conflicts := make([]types.Conflict, n)
	for i := range conflicts {
		conflicts[i] = types.Conflict{
			ID:         "cf_" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Type:       types.ConflictTypePolicyInconsistency,
			Severity:   types.SeverityLow,
			Confidence: 0.6,
			PolicyIDs:  []string{"pol1", "pol2"},
		}
	}
	return conflicts
}

func TestProcessBatchPreservesInputOrder(t *testing.T) {
	gen := &oracle.MockGenerator{Response: "merged", ResponseDelay: 5 * time.Millisecond}
	p := newTestProcessor(t, nil, gen)

	conflicts := simpleConflicts(12)
	results := p.ProcessBatch(context.Background(), conflicts, nil, nil, nil)

	require.Len(t, results, len(conflicts))
	for i := range conflicts {
		assert.Equal(t, conflicts[i].ID, results[i].ConflictID,
			"result %d should correspond to input conflict %d", i, i)
		assert.True(t, results[i].Status.Terminal(),
			"every conflict must end in a terminal status")
	}
}

func TestProcessBatchUsesCache(t *testing.T) {
	gen := &oracle.MockGenerator{Response: "merged"}
	p := newTestProcessor(t, nil, gen)

	// All ten conflicts share a signature: same type, same entity
	// counts, same severity.
	conflicts := simpleConflicts(10)

	first := p.ProcessBatch(context.Background(), conflicts, nil, nil, nil)
	for _, r := range first {
		require.Equal(t, types.StatusResolvedAutomatically, r.Status)
	}

	callsAfterFirst := gen.Calls()
	second := p.ProcessBatch(context.Background(), conflicts, nil, nil, nil)

	fromCache := 0
	for _, r := range second {
		require.Equal(t, types.StatusResolvedAutomatically, r.Status)
		if r.FromCache {
			fromCache++
		}
	}
	assert.GreaterOrEqual(t, fromCache, 9, "repeat batch should be served almost entirely from cache")
	assert.Equal(t, callsAfterFirst, gen.Calls(), "cache hits must not touch the oracle")
}

func TestProcessBatchComplexConflictEscalatesWithoutOracle(t *testing.T) {
	gen := oracle.NewMockGenerator()
	p := newTestProcessor(t, nil, gen)

	conflicts := []types.Conflict{{
		ID:           "cf_complex",
		Type:         types.ConflictTypePrincipleContradiction,
		Severity:     types.SeverityCritical,
		Confidence:   0.95,
		PrincipleIDs: []string{"p1", "p2", "p3"},
		PolicyIDs:    []string{"pol1", "pol2", "pol3"},
	}}
	dctx := &types.DetectionContext{InvolvedEntities: []string{"a", "b", "c", "d", "e", "f"}}

	results := p.ProcessBatch(context.Background(), conflicts, nil, nil, dctx)

	require.Len(t, results, 1)
	assert.Equal(t, types.StatusEscalatedToHuman, results[0].Status)
	assert.True(t, results[0].EscalationRequired)
	assert.Equal(t, 0, gen.Calls())
}

func TestProcessBatchDeadlineTimesOut(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.Workers = 1
	cfg.Processor.BatchDeadline = 50 * time.Millisecond
	cfg.Resolution.OracleTimeout = 40 * time.Millisecond
	cfg.Resolution.MaxRetries = 0

	gen := &oracle.MockGenerator{Response: "merged", ResponseDelay: 30 * time.Millisecond}
	p := newTestProcessor(t, cfg, gen)

	conflicts := simpleConflicts(6)
	// Distinct severities defeat the pattern cache so every conflict
	// needs its own oracle call.
	severities := []types.Severity{
		types.SeverityLow, types.SeverityMedium, types.SeverityHigh,
		types.SeverityLow, types.SeverityMedium, types.SeverityHigh,
	}
	for i := range conflicts {
		conflicts[i].Severity = severities[i]
		conflicts[i].PolicyIDs = conflicts[i].PolicyIDs[:1+i%2]
	}

	results := p.ProcessBatch(context.Background(), conflicts, nil, nil, nil)

	timedOut := 0
	for _, r := range results {
		require.True(t, r.Status.Terminal())
		if r.Status == types.StatusTimeout {
			timedOut++
			assert.True(t, r.EscalationRequired, "timed-out conflicts must escalate")
		}
	}
	assert.Greater(t, timedOut, 0, "a 50ms deadline cannot fit six 30ms sequential resolutions")
}

func TestProcessBatchEmptyInput(t *testing.T) {
	p := newTestProcessor(t, nil, oracle.NewMockGenerator())
	results := p.ProcessBatch(context.Background(), nil, nil, nil, nil)
	assert.Empty(t, results)
}

func TestMetricsAccumulate(t *testing.T) {
	gen := &oracle.MockGenerator{Response: "merged"}
	p := newTestProcessor(t, nil, gen)

	p.ProcessBatch(context.Background(), simpleConflicts(4), nil, nil, nil)
	p.ProcessBatch(context.Background(), simpleConflicts(4), nil, nil, nil)

	m := p.Metrics()
	assert.Equal(t, int64(2), m.BatchesProcessed)
	assert.Equal(t, int64(8), m.ConflictsProcessed)
	assert.GreaterOrEqual(t, m.CacheHitRate, 0.0)
	assert.LessOrEqual(t, m.ParallelEfficiency, 1.0)
}

func TestProcessBatchFeedsHistoryWithFailedOutcomes(t *testing.T) {
	newProcessor := func(gen oracle.Generator, history *scoring.WindowHistory) *Processor {
		store := config.NewStore(config.Default(), "", logging.NewNoop())
		scorer := scoring.NewScorer(store, history, logging.NewNoop())
		workflow := resolution.NewWorkflow(store, gen, logging.NewNoop())
		return New(store, scorer, workflow, cache.NewMemoryCache(), history, logging.NewNoop())
	}

	// Healthy oracle: everything resolves, nothing enters the window.
	history := scoring.NewWindowHistory(time.Hour, 10)
	p := newProcessor(&oracle.MockGenerator{Response: "merged"}, history)
	p.ProcessBatch(context.Background(), simpleConflicts(5), nil, nil, nil)
	if got := history.CountSince(types.ConflictTypePolicyInconsistency); got != 0 {
		t.Errorf("resolved conflicts must not count as failures, got %d", got)
	}

	// Failing oracle: every failed outcome is recorded.
	history = scoring.NewWindowHistory(time.Hour, 10)
	p = newProcessor(&oracle.MockGenerator{FailAlways: true}, history)
	p.ProcessBatch(context.Background(), simpleConflicts(5), nil, nil, nil)
	if got := history.CountSince(types.ConflictTypePolicyInconsistency); got != 5 {
		t.Errorf("history should record 5 failed outcomes, got %d", got)
	}
}

func TestProcessBatchCancelledOracleCallsAreTimeouts(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.Workers = 1
	cfg.Processor.BatchDeadline = 30 * time.Millisecond
	// The oracle timeout outlasts the batch deadline so the batch
	// context is what cuts the in-flight call short.
	cfg.Resolution.OracleTimeout = 5 * time.Second
	cfg.Resolution.MaxRetries = 0

	gen := &oracle.MockGenerator{Response: "merged", ResponseDelay: 200 * time.Millisecond}
	p := newTestProcessor(t, cfg, gen)

	results := p.ProcessBatch(context.Background(), simpleConflicts(1), nil, nil, nil)

	require.Len(t, results, 1)
	assert.Equal(t, types.StatusTimeout, results[0].Status,
		"an in-flight oracle call cancelled by the batch deadline is a timeout, not a failure")
	assert.True(t, results[0].EscalationRequired)

	m := p.Metrics()
	assert.Equal(t, int64(1), m.TimeoutCount)
}
