// Package detection implements the conflict detection engine. Four
// independent passes (principle contradiction, policy inconsistency,
// enforcement risk, semantic ambiguity) run over the active principles
// and policies; their results are unioned. Detection is deterministic
// for identical inputs so downstream caching stays valid.
package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/errors"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/pkg/types"
)

// opposingVerbs lists lexically opposite action verbs checked in the
// policy inconsistency pass.
var opposingVerbs = [][2]string{
	{"allow", "deny"},
	{"grant", "revoke"},
	{"permit", "prohibit"},
	{"require", "forbid"},
	{"enable", "disable"},
	{"include", "exclude"},
	{"accept", "reject"},
}

// hedgingWords mark ambiguous principle language in the semantic pass.
var hedgingWords = []string{
	"may", "might", "could", "possibly", "unclear",
	"ambiguous", "sometimes", "generally", "typically",
}

// Result contains the output of a detection run.
type Result struct {
	Conflicts     []types.Conflict         `json:"conflicts"`
	TotalPairs    int                      `json:"total_pairs"`
	SkippedPairs  int                      `json:"skipped_pairs"`
	PassDurations map[string]time.Duration `json:"pass_durations"`
}

// Engine finds conflicts among principles and policies.
type Engine struct {
	cfg      *config.Store
	distance oracle.DistanceFunc
	risk     oracle.RiskPredictor
	logger   logging.Logger
}

// NewEngine creates a detection engine with the given collaborators.
func NewEngine(cfg *config.Store, distance oracle.DistanceFunc, risk oracle.RiskPredictor, logger logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		distance: distance,
		risk:     risk,
		logger:   logger.WithComponent("detection"),
	}
}

// Detect runs all four passes and unions their results. A failed
// distance or risk call skips that pair and logs it; detection
// degrades gracefully rather than failing closed.
func (e *Engine) Detect(ctx context.Context, principles []types.Principle, policies []types.Policy, dctx *types.DetectionContext) (*Result, error) {
	cfg := e.cfg.Current().Detection

	result := &Result{
		Conflicts:     []types.Conflict{},
		PassDurations: make(map[string]time.Duration, 4),
	}

	passes := []struct {
		name string
		run  func(context.Context, []types.Principle, []types.Policy, config.DetectionConfig, *Result) []types.Conflict
	}{
		{"principle_contradiction", e.detectPrincipleContradictions},
		{"policy_inconsistency", e.detectPolicyInconsistencies},
		{"enforcement_conflict", e.detectEnforcementConflicts},
		{"semantic_ambiguity", e.detectSemanticAmbiguities},
	}

	for _, pass := range passes {
		start := time.Now()
		conflicts := pass.run(ctx, principles, policies, cfg, result)
		result.PassDurations[pass.name] = time.Since(start)
		result.Conflicts = append(result.Conflicts, conflicts...)
	}

	// Stable ordering: severity first, then ID. Keeps repeated runs
	// bytewise identical for the same inputs.
	sort.SliceStable(result.Conflicts, func(i, j int) bool {
		a, b := &result.Conflicts[i], &result.Conflicts[j]
		if a.Severity != b.Severity {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		return a.ID < b.ID
	})

	e.logger.InfoContext(ctx, "detection complete",
		"principles", len(principles),
		"policies", len(policies),
		"conflicts", len(result.Conflicts),
		"skipped_pairs", result.SkippedPairs)

	return result, nil
}

// detectPrincipleContradictions compares every unordered principle
// pair through the constitutional distance function.
func (e *Engine) detectPrincipleContradictions(ctx context.Context, principles []types.Principle, _ []types.Policy, cfg config.DetectionConfig, result *Result) []types.Conflict {
	var conflicts []types.Conflict

	for i := range principles {
		for j := i + 1; j < len(principles); j++ {
			result.TotalPairs++
			a, b := &principles[i], &principles[j]

			dist, err := e.distance.Distance(ctx, a, b)
			if err != nil {
				result.SkippedPairs++
				pairID := a.ID + "/" + b.ID
				e.logger.WarnContext(ctx, "distance call failed, skipping pair",
					"pair", pairID, "error", errors.Detection(err, "principle_pass", pairID).Error())
				continue
			}

			if dist > cfg.ContradictionThreshold {
				conflicts = append(conflicts, types.Conflict{
					ID:           conflictID(types.ConflictTypePrincipleContradiction, a.ID, b.ID),
					Type:         types.ConflictTypePrincipleContradiction,
					Severity:     types.SeverityHigh,
					Confidence:   dist,
					PrincipleIDs: []string{a.ID, b.ID},
					Description: fmt.Sprintf("principles %q and %q contradict (distance %.2f)",
						a.Title, b.Title, dist),
					RecommendedStrategy: types.StrategyCouncilEscalation,
					DetectedAt:          time.Now().UTC(),
				})
			}
		}
	}

	return conflicts
}

// detectPolicyInconsistencies flags policy pairs whose descriptions
// contain lexically opposite action verbs.
func (e *Engine) detectPolicyInconsistencies(_ context.Context, _ []types.Principle, policies []types.Policy, _ config.DetectionConfig, result *Result) []types.Conflict {
	var conflicts []types.Conflict

	for i := range policies {
		for j := i + 1; j < len(policies); j++ {
			result.TotalPairs++
			a, b := &policies[i], &policies[j]

			verb, ok := opposingActionVerbs(a.Description, b.Description)
			if !ok {
				continue
			}

			conflicts = append(conflicts, types.Conflict{
				ID:         conflictID(types.ConflictTypePolicyInconsistency, a.ID, b.ID),
				Type:       types.ConflictTypePolicyInconsistency,
				Severity:   types.SeverityMedium,
				Confidence: 0.75,
				PolicyIDs:  []string{a.ID, b.ID},
				Description: fmt.Sprintf("policies %q and %q take opposing actions (%s vs %s)",
					a.Name, b.Name, verb[0], verb[1]),
				RecommendedStrategy: types.StrategyAutomaticMerge,
				DetectedAt:          time.Now().UTC(),
			})
		}
	}

	return conflicts
}

// detectEnforcementConflicts asks the risk oracle whether a policy is
// likely to violate a principle.
func (e *Engine) detectEnforcementConflicts(ctx context.Context, principles []types.Principle, policies []types.Policy, cfg config.DetectionConfig, result *Result) []types.Conflict {
	var conflicts []types.Conflict

	for i := range principles {
		for j := range policies {
			result.TotalPairs++
			principle, policy := &principles[i], &policies[j]

			likelihood, err := e.risk.PredictViolationLikelihood(ctx, principle, policy)
			if err != nil {
				result.SkippedPairs++
				pairID := principle.ID + "/" + policy.ID
				e.logger.WarnContext(ctx, "risk prediction failed, skipping pair",
					"pair", pairID, "error", errors.Detection(err, "enforcement_pass", pairID).Error())
				continue
			}

			if likelihood > cfg.EnforcementThreshold {
				conflicts = append(conflicts, types.Conflict{
					ID:           conflictID(types.ConflictTypeEnforcementConflict, principle.ID, policy.ID),
					Type:         types.ConflictTypeEnforcementConflict,
					Severity:     types.SeverityHigh,
					Confidence:   likelihood,
					PrincipleIDs: []string{principle.ID},
					PolicyIDs:    []string{policy.ID},
					Description: fmt.Sprintf("policy %q likely violates principle %q (likelihood %.2f)",
						policy.Name, principle.Title, likelihood),
					RecommendedStrategy: types.StrategyPrinciplePriority,
					DetectedAt:          time.Now().UTC(),
				})
			}
		}
	}

	return conflicts
}

// detectSemanticAmbiguities flags principles whose descriptions hedge.
func (e *Engine) detectSemanticAmbiguities(_ context.Context, principles []types.Principle, _ []types.Policy, _ config.DetectionConfig, _ *Result) []types.Conflict {
	var conflicts []types.Conflict

	for i := range principles {
		p := &principles[i]
		word, ok := containsHedging(p.Description)
		if !ok {
			continue
		}

		conflicts = append(conflicts, types.Conflict{
			ID:           conflictID(types.ConflictTypeSemanticAmbiguity, p.ID),
			Type:         types.ConflictTypeSemanticAmbiguity,
			Severity:     types.SeverityMedium,
			Confidence:   0.7,
			PrincipleIDs: []string{p.ID},
			Description: fmt.Sprintf("principle %q uses hedging language (%q)",
				p.Title, word),
			RecommendedStrategy: types.StrategySemanticClarification,
			DetectedAt:          time.Now().UTC(),
		})
	}

	return conflicts
}

// opposingActionVerbs reports the first opposing verb pair split
// across the two descriptions.
func opposingActionVerbs(descA, descB string) ([2]string, bool) {
	a := strings.ToLower(descA)
	b := strings.ToLower(descB)
	for _, pair := range opposingVerbs {
		if containsWord(a, pair[0]) && containsWord(b, pair[1]) {
			return pair, true
		}
		if containsWord(a, pair[1]) && containsWord(b, pair[0]) {
			return [2]string{pair[1], pair[0]}, true
		}
	}
	return [2]string{}, false
}

// containsHedging returns the first hedging word found as a whole word.
func containsHedging(desc string) (string, bool) {
	lower := strings.ToLower(desc)
	for _, w := range hedgingWords {
		if containsWord(lower, w) {
			return w, true
		}
	}
	return "", false
}

// containsWord checks for a whole-word match so that "may" does not
// match "maybe" or "dismay".
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// conflictID derives a stable identifier from the conflict type and
// the implicated entity IDs. Identical inputs always produce the same
// conflict set.
func conflictID(ct types.ConflictType, entityIDs ...string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(ct))
	for _, id := range entityIDs {
		_, _ = h.WriteString("|")
		_, _ = h.WriteString(id)
	}
	return fmt.Sprintf("cf_%016x", h.Sum64())
}
