// Package processor runs conflict resolution in parallel with bounded
// concurrency. Results come back in input order regardless of worker
// completion order, and every batch is bounded by a wall-clock
// deadline.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"constitutional-gov/internal/cache"
	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/resolution"
	"constitutional-gov/internal/scoring"
	"constitutional-gov/pkg/types"
)

// Metrics accumulates batch-level performance counters.
type Metrics struct {
	BatchesProcessed   int64         `json:"batches_processed"`
	ConflictsProcessed int64         `json:"conflicts_processed"`
	AvgBatchLatency    time.Duration `json:"avg_batch_latency"`
	CacheHitRate       float64       `json:"cache_hit_rate"`
	ParallelEfficiency float64       `json:"parallel_efficiency"`
	TimeoutCount       int64         `json:"timeout_count"`
}

// Processor fans a conflict batch out over a worker pool. The pattern
// cache short-circuits conflicts whose signature has been resolved
// recently.
type Processor struct {
	cfg      *config.Store
	scorer   *scoring.Scorer
	workflow *resolution.Workflow
	patterns cache.PatternCache
	history  *scoring.WindowHistory
	logger   logging.Logger

	mu           sync.Mutex
	batches      int64
	conflicts    int64
	totalLatency time.Duration
	totalWork    time.Duration
	timeouts     int64
}

// New creates a processor. history may be nil when recurrence feedback
// is not wanted.
func New(cfg *config.Store, scorer *scoring.Scorer, workflow *resolution.Workflow, patterns cache.PatternCache, history *scoring.WindowHistory, logger logging.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		scorer:   scorer,
		workflow: workflow,
		patterns: patterns,
		history:  history,
		logger:   logger.WithComponent("processor"),
	}
}

// ProcessBatch resolves every conflict in the batch and returns one
// terminal CorrectionResult per conflict, in input order. Conflicts
// still running when the batch deadline expires are marked timed out
// and flagged for escalation.
func (p *Processor) ProcessBatch(ctx context.Context, conflicts []types.Conflict, principles []types.Principle, policies []types.Policy, dctx *types.DetectionContext) []types.CorrectionResult {
	cfg := p.cfg.Current()
	start := time.Now()

	results := make([]types.CorrectionResult, len(conflicts))
	if len(conflicts) == 0 {
		return results
	}

	batchCtx, cancel := context.WithTimeout(ctx, cfg.Processor.BatchDeadline)
	defer cancel()

	// Cache pass first: hits never consume a worker slot.
	var pending []int
	for i := range conflicts {
		if cached, ok := p.patterns.Get(batchCtx, &conflicts[i]); ok {
			cached.ID = uuid.New().String()
			cached.ConflictID = conflicts[i].ID
			cached.FromCache = true
			cached.ResponseTimeMs = 0
			results[i] = *cached
			continue
		}
		pending = append(pending, i)
	}

	workDuration := p.runWorkers(batchCtx, pending, conflicts, principles, policies, dctx, results)

	// Anything a worker never finished is a timeout, which always
	// demands human attention. Workers whose oracle call was cut off
	// by the batch deadline already stamped their result timed out.
	timedOut := 0
	for _, i := range pending {
		if results[i].Status == types.StatusTimeout {
			timedOut++
			continue
		}
		if results[i].Status != "" {
			continue
		}
		timedOut++
		results[i] = types.CorrectionResult{
			ID:                 uuid.New().String(),
			ConflictID:         conflicts[i].ID,
			Status:             types.StatusTimeout,
			EscalationRequired: true,
			EscalationReason:   "batch deadline exceeded before resolution",
			ResponseTimeMs:     time.Since(start).Milliseconds(),
		}
	}

	// Failed and escalated outcomes feed the recurrence window that
	// backs the historical-failure factor and the repeat rule.
	if p.history != nil {
		for i := range results {
			switch results[i].Status {
			case types.StatusFailed, types.StatusTimeout,
				types.StatusEscalatedToHuman, types.StatusEscalatedToCouncil:
				p.history.Record(conflicts[i].Type)
			}
		}
	}

	elapsed := time.Since(start)
	p.record(len(conflicts), elapsed, workDuration, timedOut)

	p.logger.InfoContext(ctx, "batch processed",
		"conflicts", len(conflicts),
		"cache_hits", len(conflicts)-len(pending),
		"timed_out", timedOut,
		"elapsed_ms", elapsed.Milliseconds())

	return results
}

// runWorkers drains the pending indexes through a semaphore-bounded
// pool and returns the summed per-conflict work time.
func (p *Processor) runWorkers(ctx context.Context, pending []int, conflicts []types.Conflict, principles []types.Principle, policies []types.Policy, dctx *types.DetectionContext, results []types.CorrectionResult) time.Duration {
	cfg := p.cfg.Current()

	semaphore := make(chan struct{}, cfg.Processor.Workers)
	var wg sync.WaitGroup
	var workMu sync.Mutex
	var workTotal time.Duration

	for _, i := range pending {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return workTotal
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			workStart := time.Now()
			results[i] = p.processOne(ctx, &conflicts[i], principles, policies, dctx)

			workMu.Lock()
			workTotal += time.Since(workStart)
			workMu.Unlock()
		}(i)
	}

	wg.Wait()
	return workTotal
}

// processOne scores one conflict, then either escalates on complexity
// or runs the resolution workflow. Automatic resolutions feed the
// pattern cache.
func (p *Processor) processOne(ctx context.Context, conflict *types.Conflict, principles []types.Principle, policies []types.Policy, dctx *types.DetectionContext) types.CorrectionResult {
	start := time.Now()

	score := p.scorer.Score(ctx, conflict, dctx)
	if score.RequiresEscalation {
		return types.CorrectionResult{
			ID:                 uuid.New().String(),
			ConflictID:         conflict.ID,
			Status:             types.StatusEscalatedToHuman,
			EscalationRequired: true,
			EscalationReason:   "complexity score exceeds automatic handling threshold",
			ResponseTimeMs:     time.Since(start).Milliseconds(),
		}
	}

	result := p.workflow.Resolve(ctx, conflict, principles, policies)

	// A failure caused by the batch deadline cutting the oracle call
	// short is a timeout, not an oracle outage.
	if result.Status == types.StatusFailed && ctx.Err() != nil {
		return types.CorrectionResult{
			ID:                 uuid.New().String(),
			ConflictID:         conflict.ID,
			Status:             types.StatusTimeout,
			EscalationRequired: true,
			EscalationReason:   "batch deadline exceeded during resolution",
			ResponseTimeMs:     time.Since(start).Milliseconds(),
		}
	}

	if result.Status == types.StatusResolvedAutomatically {
		p.patterns.Put(ctx, conflict, result, p.cfg.Current().Cache.TTL)
	}
	return *result
}

func (p *Processor) record(conflicts int, elapsed, work time.Duration, timeouts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	p.conflicts += int64(conflicts)
	p.totalLatency += elapsed
	p.totalWork += work
	p.timeouts += int64(timeouts)
}

// Metrics returns aggregate counters across all processed batches.
// ParallelEfficiency is summed work time over wall time, normalized by
// worker count and capped at 1.
func (p *Processor) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		BatchesProcessed:   p.batches,
		ConflictsProcessed: p.conflicts,
		TimeoutCount:       p.timeouts,
		CacheHitRate:       p.patterns.Stats().HitRate,
	}
	if p.batches > 0 {
		m.AvgBatchLatency = p.totalLatency / time.Duration(p.batches)
	}
	workers := p.cfg.Current().Processor.Workers
	if p.totalLatency > 0 && workers > 0 {
		eff := float64(p.totalWork) / (float64(p.totalLatency) * float64(workers))
		if eff > 1 {
			eff = 1
		}
		m.ParallelEfficiency = eff
	}
	return m
}
