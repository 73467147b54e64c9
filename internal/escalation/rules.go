package escalation

import (
	"time"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/scoring"
	"constitutional-gov/pkg/types"
)

// Decision is the outcome of rule evaluation for one conflict.
type Decision struct {
	Level   types.EscalationLevel
	Trigger types.EscalationTrigger
	Reason  string
}

// promotionOrder gives the next level a timed-out record is promoted
// to. Stakeholder review is a manual-only entry point that feeds the
// council; automatic promotion never lands on it. Emergency response
// is terminal.
var promotionOrder = map[types.EscalationLevel]types.EscalationLevel{
	types.LevelTechnicalReview:       types.LevelPolicyManager,
	types.LevelPolicyManager:         types.LevelConstitutionalCouncil,
	types.LevelStakeholderReview:     types.LevelConstitutionalCouncil,
	types.LevelConstitutionalCouncil: types.LevelEmergencyResponse,
}

// NextLevel returns the promotion target for a level, or false when
// the level is terminal.
func NextLevel(level types.EscalationLevel) (types.EscalationLevel, bool) {
	next, ok := promotionOrder[level]
	return next, ok
}

// Evaluate applies the escalation rules to a conflict that requires
// human attention. When several rules match, the one targeting the
// highest level wins. It returns nil when no rule applies.
func Evaluate(conflict *types.Conflict, dctx *types.DetectionContext, history *scoring.WindowHistory, cfg config.EscalationConfig, now time.Time) *Decision {
	var best *Decision

	consider := func(d Decision) {
		if best == nil || d.Level.Rank() > best.Level.Rank() {
			best = &d
		}
	}

	switch conflict.Severity {
	case types.SeverityCritical:
		consider(Decision{
			Level:   types.LevelEmergencyResponse,
			Trigger: types.TriggerCriticalSeverity,
			Reason:  "critical severity conflict",
		})
	case types.SeverityHigh:
		consider(Decision{
			Level:   types.LevelConstitutionalCouncil,
			Trigger: types.TriggerHighSeverity,
			Reason:  "high severity conflict",
		})
	}

	if history != nil && history.CountSince(conflict.Type) >= cfg.RepeatThreshold {
		consider(Decision{
			Level:   types.LevelPolicyManager,
			Trigger: types.TriggerRepeatedViolation,
			Reason:  "conflict type recurring above threshold",
		})
	}

	if dctx != nil && !dctx.FirstDetectedAt.IsZero() && now.Sub(dctx.FirstDetectedAt) > cfg.UnresolvedAfter {
		consider(Decision{
			Level:   types.LevelTechnicalReview,
			Trigger: types.TriggerUnresolvedDuration,
			Reason:  "conflict unresolved past the duration threshold",
		})
	}

	return best
}
