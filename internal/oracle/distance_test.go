package oracle

import (
	"context"
	"testing"

	"constitutional-gov/pkg/types"
)

func TestLexicalDistanceOpposedPrinciples(t *testing.T) {
	d := NewLexicalDistance()

	a := &types.Principle{ID: "p1", Title: "Privacy", Description: "protect all user data from disclosure"}
	b := &types.Principle{ID: "p2", Title: "Openness", Description: "share all user data with the public"}

	dist, err := d.Distance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if dist <= 0.7 {
		t.Errorf("opposed verbs should push distance above 0.7, got %f", dist)
	}
}

func TestLexicalDistanceSimilarPrinciples(t *testing.T) {
	d := NewLexicalDistance()

	a := &types.Principle{ID: "p1", Title: "Audit", Description: "record administrative actions in the audit log"}
	b := &types.Principle{ID: "p2", Title: "Audit scope", Description: "record administrative actions and configuration changes"}

	dist, err := d.Distance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if dist >= 0.5 {
		t.Errorf("overlapping unopposed principles should score below 0.5, got %f", dist)
	}
}

func TestLexicalDistanceIsSymmetric(t *testing.T) {
	d := NewLexicalDistance()

	a := &types.Principle{ID: "p1", Description: "must retain records"}
	b := &types.Principle{ID: "p2", Description: "must not retain records"}

	ab, err := d.Distance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	ba, err := d.Distance(context.Background(), b, a)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if ab != ba {
		t.Errorf("distance must be symmetric: %f vs %f", ab, ba)
	}
}

func TestHeuristicRisk(t *testing.T) {
	h := NewHeuristicRisk()

	principle := &types.Principle{ID: "p1", Title: "Privacy", Description: "protect user data", Priority: 0.9}

	tests := []struct {
		name   string
		policy types.Policy
		above  float64
		below  float64
	}{
		{
			name: "flagged low-quality policy scores high",
			policy: types.Policy{
				ID: "pol1", Name: "Telemetry", Description: "collect everything",
				QualityScore:       0.2,
				ConflictIndicators: []string{"data collection", "third parties"},
			},
			above: 0.7,
			below: 1.01,
		},
		{
			name: "clean high-quality policy scores low",
			policy: types.Policy{
				ID: "pol2", Name: "Backups", Description: "encrypted nightly backups",
				QualityScore: 0.95,
			},
			above: -0.01,
			below: 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, err := h.PredictViolationLikelihood(context.Background(), principle, &tt.policy)
			if err != nil {
				t.Fatalf("PredictViolationLikelihood: %v", err)
			}
			if risk <= tt.above || risk >= tt.below {
				t.Errorf("risk %f outside expected range (%f, %f)", risk, tt.above, tt.below)
			}
		})
	}
}
