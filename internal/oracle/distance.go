package oracle

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"constitutional-gov/pkg/types"
)

// contradictionPairs lists opposing intent markers. A pair of
// principles whose descriptions sit on opposite sides of a pair is
// pushed toward distance 1.
var contradictionPairs = [][2]string{
	{"protect", "share"},
	{"restrict", "unrestricted"},
	{"private", "public"},
	{"must", "must not"},
	{"require", "forbid"},
	{"always", "never"},
	{"allow", "deny"},
	{"maximize", "minimize"},
}

// LexicalDistance is the default in-process DistanceFunc. It combines
// token-set overlap with contradiction marker detection: high topical
// overlap plus opposing markers reads as contradictory intent.
type LexicalDistance struct {
	folder cases.Caser
}

// NewLexicalDistance creates the default distance function.
func NewLexicalDistance() *LexicalDistance {
	return &LexicalDistance{folder: cases.Fold()}
}

// Distance implements DistanceFunc. It never errors; the error return
// exists for remote implementations of the interface.
func (l *LexicalDistance) Distance(_ context.Context, a, b *types.Principle) (float64, error) {
	textA := l.folder.String(a.Title + " " + a.Description)
	textB := l.folder.String(b.Title + " " + b.Description)

	overlap := tokenOverlap(textA, textB)

	opposed := false
	for _, pair := range contradictionPairs {
		if strings.Contains(textA, pair[0]) && strings.Contains(textB, pair[1]) {
			opposed = true
			break
		}
		if strings.Contains(textA, pair[1]) && strings.Contains(textB, pair[0]) {
			opposed = true
			break
		}
	}

	if opposed {
		// Opposing markers on the same topic: the more the principles
		// talk about the same thing, the sharper the contradiction.
		return 0.7 + 0.3*overlap, nil
	}

	// No opposition found: distance shrinks with topical overlap.
	return 0.5 * (1 - overlap), nil
}

// tokenOverlap computes Jaccard similarity over whitespace tokens.
func tokenOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}

	intersection := 0
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		if !setB[w] {
			setB[w] = true
			if setA[w] {
				intersection++
			}
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// HeuristicRisk is the default in-process RiskPredictor. It scores a
// policy against a principle from the policy's declared conflict
// indicators, its quality score, and the principle's priority.
type HeuristicRisk struct {
	folder cases.Caser
}

// NewHeuristicRisk creates the default risk predictor.
func NewHeuristicRisk() *HeuristicRisk {
	return &HeuristicRisk{folder: cases.Fold()}
}

// PredictViolationLikelihood implements RiskPredictor.
func (h *HeuristicRisk) PredictViolationLikelihood(_ context.Context, principle *types.Principle, policy *types.Policy) (float64, error) {
	principleText := h.folder.String(principle.Title + " " + principle.Description)

	risk := 0.0

	// Declared indicators that mention the principle topic carry the
	// strongest signal.
	for _, indicator := range policy.ConflictIndicators {
		ind := h.folder.String(indicator)
		if strings.Contains(principleText, ind) || strings.Contains(h.folder.String(policy.Description), ind) {
			risk += 0.4
		} else {
			risk += 0.15
		}
	}

	// Low-quality policies violate more often.
	risk += (1 - policy.QualityScore) * 0.3

	// High-priority principles have a wider violation surface.
	risk += principle.Priority * 0.1

	if risk > 1 {
		risk = 1
	}
	return risk, nil
}
