package resolution

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"constitutional-gov/internal/circuitbreaker"
	"constitutional-gov/internal/config"
	"constitutional-gov/internal/errors"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/internal/retry"
	"constitutional-gov/pkg/types"
)

// Stats tracks the running automatic resolution rate against the
// configured target.
type Stats struct {
	Attempted   int64   `json:"attempted"`
	Resolved    int64   `json:"resolved"`
	Escalated   int64   `json:"escalated"`
	Failed      int64   `json:"failed"`
	Rate        float64 `json:"rate"`
	TargetRate  float64 `json:"target_rate"`
	BelowTarget bool    `json:"below_target"`
}

// Workflow resolves conflicts automatically where the selected
// strategy permits, and marks the rest for escalation.
type Workflow struct {
	cfg       *config.Store
	generator oracle.Generator
	breaker   *circuitbreaker.CircuitBreaker
	logger    logging.Logger

	attempted atomic.Int64
	resolved  atomic.Int64
	escalated atomic.Int64
	failed    atomic.Int64
}

// NewWorkflow creates a resolution workflow around the generator.
func NewWorkflow(cfg *config.Store, generator oracle.Generator, logger logging.Logger) *Workflow {
	return &Workflow{
		cfg:       cfg,
		generator: generator,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:    logger.WithComponent("resolution"),
	}
}

// Resolve produces exactly one terminal CorrectionResult for the
// conflict. Oracle-backed strategies mark the result failed with
// escalation required when the oracle errors after retries or times
// out; they never fail silently.
func (w *Workflow) Resolve(ctx context.Context, conflict *types.Conflict, principles []types.Principle, policies []types.Policy) *types.CorrectionResult {
	cfg := w.cfg.Current().Resolution
	start := time.Now()
	w.attempted.Add(1)

	strategy := SelectStrategy(conflict, cfg.ConfidenceOverride)

	result := &types.CorrectionResult{
		ID:         uuid.New().String(),
		ConflictID: conflict.ID,
		Strategy:   strategy,
	}

	switch strategy {
	case types.StrategyAutomaticMerge:
		w.generateInto(ctx, result, conflict, mergePrompt(conflict, policies), cfg)
	case types.StrategySemanticClarification:
		w.generateInto(ctx, result, conflict, clarificationPrompt(conflict, principles), cfg)
	case types.StrategyPrinciplePriority:
		w.resolveByPriority(result, conflict, principles, policies)
	case types.StrategyStakeholderConsensus:
		result.Status = types.StatusEscalatedToHuman
		result.EscalationRequired = true
		result.EscalationReason = "stakeholder consensus requires human facilitation"
		result.RecommendedActions = []string{
			"convene the affected stakeholder groups",
			"document each group's position on the conflict",
		}
	case types.StrategyCouncilEscalation:
		result.Status = types.StatusEscalatedToCouncil
		result.EscalationRequired = true
		result.EscalationReason = "principle-level contradiction requires council review"
		result.RecommendedActions = []string{
			"schedule constitutional council review",
			"prepare a briefing on both principles' intent",
		}
	default:
		result.Status = types.StatusEscalatedToCouncil
		result.EscalationRequired = true
		result.EscalationReason = fmt.Sprintf("no automatic handling for strategy %s", strategy)
	}

	result.ResponseTimeMs = time.Since(start).Milliseconds()

	switch result.Status {
	case types.StatusResolvedAutomatically:
		w.resolved.Add(1)
	case types.StatusFailed:
		w.failed.Add(1)
	default:
		w.escalated.Add(1)
	}

	w.logResolutionRate(ctx, cfg.TargetRate)
	return result
}

// generateInto runs the oracle behind the circuit breaker, the per-call
// timeout, and bounded retries, writing the outcome into result.
func (w *Workflow) generateInto(ctx context.Context, result *types.CorrectionResult, conflict *types.Conflict, prompt string, cfg config.ResolutionConfig) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retrier := retry.New(retryCfg)

	var text string
	outcome := retrier.Do(ctx, func(ctx context.Context) error {
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
			defer cancel()

			generated, err := w.generator.Generate(callCtx, prompt, cfg.Temperature)
			if err != nil {
				if callCtx.Err() == context.DeadlineExceeded {
					return errors.OracleTimeout(err, conflict.ID)
				}
				return errors.OracleFailure(err, conflict.ID)
			}
			text = generated
			return nil
		})
	})

	if outcome.Err != nil {
		w.logger.WarnContext(ctx, "oracle resolution failed, marking for human review",
			"conflict_id", conflict.ID,
			"attempts", outcome.Attempts,
			"error", outcome.Err.Error())
		result.Status = types.StatusFailed
		result.EscalationRequired = true
		result.EscalationReason = fmt.Sprintf("oracle unavailable after %d attempts: %v", outcome.Attempts, outcome.Err)
		return
	}

	improvement := fidelityEstimate(conflict)
	result.Status = types.StatusResolvedAutomatically
	result.Applied = true
	result.Resolution = text
	result.FidelityImprovement = &improvement
}

// resolveByPriority is fully deterministic: the highest-priority
// principle takes precedence and the conflicting policy is subordinated
// to it. Ties break on principle ID for stable output. It succeeds
// whenever both an implicated principle and policy are on record, and
// fails otherwise.
func (w *Workflow) resolveByPriority(result *types.CorrectionResult, conflict *types.Conflict, principles []types.Principle, policies []types.Policy) {
	involved := principlesByID(principles, conflict.PrincipleIDs)
	subordinate := policiesByID(policies, conflict.PolicyIDs)
	if len(involved) == 0 || len(subordinate) == 0 {
		result.Status = types.StatusFailed
		result.EscalationRequired = true
		result.EscalationReason = "priority resolution needs both an implicated principle and policy on record"
		return
	}

	sort.SliceStable(involved, func(i, j int) bool {
		if involved[i].Priority != involved[j].Priority {
			return involved[i].Priority > involved[j].Priority
		}
		return involved[i].ID < involved[j].ID
	})
	winner := involved[0]

	improvement := fidelityEstimate(conflict)
	result.Status = types.StatusResolvedAutomatically
	result.Applied = true
	result.Resolution = fmt.Sprintf(
		"principle %q (priority %.2f) takes precedence; conflicting policies must be brought into compliance with it",
		winner.Title, winner.Priority)
	result.RecommendedActions = []string{
		fmt.Sprintf("amend policies %v to comply with principle %s", conflict.PolicyIDs, winner.ID),
	}
	result.FidelityImprovement = &improvement
}

// fidelityEstimate approximates how much an applied resolution improves
// constitutional fidelity, scaled by detection confidence.
func fidelityEstimate(conflict *types.Conflict) float64 {
	return 0.05 + 0.15*conflict.Confidence
}

// Stats returns the running resolution counters.
func (w *Workflow) Stats() Stats {
	cfg := w.cfg.Current().Resolution

	attempted := w.attempted.Load()
	resolved := w.resolved.Load()
	st := Stats{
		Attempted:  attempted,
		Resolved:   resolved,
		Escalated:  w.escalated.Load(),
		Failed:     w.failed.Load(),
		TargetRate: cfg.TargetRate,
	}
	if attempted > 0 {
		st.Rate = float64(resolved) / float64(attempted)
		st.BelowTarget = st.Rate < cfg.TargetRate
	}
	return st
}

// logResolutionRate warns when the running rate drops below target.
// Rates over small samples are noise, so the check starts at 20
// attempts.
func (w *Workflow) logResolutionRate(ctx context.Context, target float64) {
	attempted := w.attempted.Load()
	if attempted < 20 {
		return
	}
	rate := float64(w.resolved.Load()) / float64(attempted)
	if rate < target {
		w.logger.WarnContext(ctx, "automatic resolution rate below target",
			"rate", rate, "target", target, "attempted", attempted)
	}
}
