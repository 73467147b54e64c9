// Package resolution implements strategy selection and the automatic
// resolution workflow. Strategies that need generated text go through
// the oracle behind a timeout, retry, and circuit breaker stack; the
// rest resolve deterministically or escalate immediately.
package resolution

import (
	"constitutional-gov/pkg/types"
)

// strategyByType is the default mapping applied when the detector did
// not recommend a strategy with enough confidence.
var strategyByType = map[types.ConflictType]types.ResolutionStrategy{
	types.ConflictTypePrincipleContradiction:  types.StrategyCouncilEscalation,
	types.ConflictTypePolicyInconsistency:     types.StrategyAutomaticMerge,
	types.ConflictTypeEnforcementConflict:     types.StrategyPrinciplePriority,
	types.ConflictTypeStakeholderDisagreement: types.StrategyStakeholderConsensus,
	types.ConflictTypeSemanticAmbiguity:       types.StrategySemanticClarification,
	types.ConflictTypeImplementationMismatch:  types.StrategyAutomaticMerge,
}

// SelectStrategy picks the resolution strategy for a conflict. The
// detector's recommendation wins when its confidence clears the
// override threshold; otherwise the conflict type decides.
func SelectStrategy(conflict *types.Conflict, confidenceOverride float64) types.ResolutionStrategy {
	if conflict.RecommendedStrategy.Valid() && conflict.Confidence > confidenceOverride {
		return conflict.RecommendedStrategy
	}
	if s, ok := strategyByType[conflict.Type]; ok {
		return s
	}
	return types.StrategyCouncilEscalation
}
