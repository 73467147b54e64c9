// Package scoring computes conflict complexity scores. The score
// decides whether a conflict enters the automatic resolution workflow
// or escalates straight to human review.
package scoring

import (
	"context"
	"strings"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/errors"
	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

// HistoryProvider reports how frequently a conflict type has recurred
// recently, normalized to [0,1]. Implementations may consult a rolling
// window of recent pipeline runs or return a static prior.
type HistoryProvider interface {
	RecurrenceRate(ctx context.Context, conflictType types.ConflictType) (float64, error)
}

// StaticHistory returns a fixed recurrence rate for every conflict
// type. Used before enough run history has accumulated.
type StaticHistory struct {
	Rate float64
}

func (s StaticHistory) RecurrenceRate(context.Context, types.ConflictType) (float64, error) {
	return s.Rate, nil
}

// Scorer computes weighted complexity scores for conflicts.
type Scorer struct {
	cfg     *config.Store
	history HistoryProvider
	logger  logging.Logger
}

// NewScorer creates a scorer. A nil history falls back to the default
// static prior.
func NewScorer(cfg *config.Store, history HistoryProvider, logger logging.Logger) *Scorer {
	if history == nil {
		history = StaticHistory{Rate: 0.3}
	}
	return &Scorer{
		cfg:     cfg,
		history: history,
		logger:  logger.WithComponent("scoring"),
	}
}

// Score computes the complexity of a conflict from six weighted
// factors. Scoring errors fail toward escalation: a conflict whose
// complexity cannot be assessed must not be resolved automatically.
func (s *Scorer) Score(ctx context.Context, conflict *types.Conflict, dctx *types.DetectionContext) types.ComplexityScore {
	cfg := s.cfg.Current().Scoring

	historical, err := s.history.RecurrenceRate(ctx, conflict.Type)
	if err != nil {
		s.logger.WarnContext(ctx, "history lookup failed, failing toward escalation",
			"conflict_id", conflict.ID,
			"error", errors.Scoring(err, conflict.ID).Error())
		return types.ComplexityScore{
			Value:              1.0,
			RequiresEscalation: true,
		}
	}

	factors := types.ComplexityFactors{
		Stakeholder:       clamp01(float64(s.involvedEntities(conflict, dctx)) / 5.0),
		PrincipleCount:    clamp01(float64(len(conflict.PrincipleIDs)) / 3.0),
		PolicyCount:       clamp01(float64(len(conflict.PolicyIDs)) / 3.0),
		SemanticAmbiguity: semanticUncertainty(conflict),
		HistoricalFailure: clamp01(historical),
		Urgency:           urgency(conflict.Severity),
	}

	value := factors.Stakeholder*cfg.WeightStakeholder +
		factors.PrincipleCount*cfg.WeightPrinciple +
		factors.PolicyCount*cfg.WeightPolicy +
		factors.SemanticAmbiguity*cfg.WeightSemantic +
		factors.HistoricalFailure*cfg.WeightHistorical +
		factors.Urgency*cfg.WeightUrgency

	return types.ComplexityScore{
		Value:              value,
		Factors:            factors,
		RequiresEscalation: value > cfg.EscalationThreshold,
	}
}

// involvedEntities prefers the detection context's stakeholder count
// when present, falling back to the entities on the conflict itself.
func (s *Scorer) involvedEntities(conflict *types.Conflict, dctx *types.DetectionContext) int {
	if dctx != nil && len(dctx.InvolvedEntities) > 0 {
		return len(dctx.InvolvedEntities)
	}
	return conflict.EntityCount()
}

// semanticUncertainty maps the conflict to how linguistically
// uncertain its resolution is. Ambiguity conflicts score highest;
// other conflicts whose descriptions flag ambiguity score in between.
func semanticUncertainty(conflict *types.Conflict) float64 {
	if conflict.Type == types.ConflictTypeSemanticAmbiguity {
		return 0.8
	}
	if strings.Contains(strings.ToLower(conflict.Description), "ambiguous") {
		return 0.6
	}
	return 0.2
}

// urgency maps severity to a normalized urgency factor.
func urgency(severity types.Severity) float64 {
	switch severity {
	case types.SeverityCritical:
		return 1.0
	case types.SeverityHigh:
		return 0.8
	case types.SeverityMedium:
		return 0.5
	default:
		return 0.2
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
