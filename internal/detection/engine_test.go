package detection

import (
	"context"
	"testing"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/pkg/types"
)

func newTestEngine(t *testing.T, distance oracle.DistanceFunc, risk oracle.RiskPredictor) *Engine {
	t.Helper()
	store := config.NewStore(config.Default(), "", logging.NewNoop())
	return NewEngine(store, distance, risk, logging.NewNoop())
}

func TestDetectPrincipleContradictions(t *testing.T) {
	principles := []types.Principle{
		{ID: "p1", Title: "Data Privacy", Description: "Protect all user data", Priority: 0.9},
		{ID: "p2", Title: "Open Access", Description: "Share all data openly", Priority: 0.5},
		{ID: "p3", Title: "Transparency", Description: "Publish decision records", Priority: 0.6},
	}

	distance := &oracle.StaticDistance{
		Pairs:   map[string]float64{"p1|p2": 0.9},
		Default: 0.2,
	}
	engine := newTestEngine(t, distance, &oracle.StaticRisk{Default: 0.1})

	result, err := engine.Detect(context.Background(), principles, nil, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	c := result.Conflicts[0]
	if c.Type != types.ConflictTypePrincipleContradiction {
		t.Errorf("expected principle_contradiction, got %s", c.Type)
	}
	if c.Severity != types.SeverityHigh {
		t.Errorf("expected high severity, got %s", c.Severity)
	}
	if c.RecommendedStrategy != types.StrategyCouncilEscalation {
		t.Errorf("expected council_escalation, got %s", c.RecommendedStrategy)
	}
	if len(c.PrincipleIDs) != 2 {
		t.Errorf("expected both principle IDs recorded, got %v", c.PrincipleIDs)
	}
}

func TestDetectPolicyInconsistencies(t *testing.T) {
	tests := []struct {
		name     string
		policies []types.Policy
		want     int
	}{
		{
			name: "opposing verbs",
			policies: []types.Policy{
				{ID: "pol1", Name: "External Sharing", Description: "Allow external data transfers"},
				{ID: "pol2", Name: "Data Lockdown", Description: "Deny external data transfers"},
			},
			want: 1,
		},
		{
			name: "no opposition",
			policies: []types.Policy{
				{ID: "pol1", Name: "Audit", Description: "Record all admin actions"},
				{ID: "pol2", Name: "Retention", Description: "Keep records for one year"},
			},
			want: 0,
		},
		{
			name: "substring does not match",
			policies: []types.Policy{
				{ID: "pol1", Name: "Allowance", Description: "Disallowed budgets are reviewed"},
				{ID: "pol2", Name: "Denial", Description: "Undeniable claims pass through"},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, &oracle.StaticDistance{}, &oracle.StaticRisk{})
			result, err := engine.Detect(context.Background(), nil, tt.policies, nil)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(result.Conflicts) != tt.want {
				t.Fatalf("expected %d conflicts, got %d", tt.want, len(result.Conflicts))
			}
			if tt.want == 1 {
				c := result.Conflicts[0]
				if c.Type != types.ConflictTypePolicyInconsistency {
					t.Errorf("expected policy_inconsistency, got %s", c.Type)
				}
				if c.RecommendedStrategy != types.StrategyAutomaticMerge {
					t.Errorf("expected automatic_merge, got %s", c.RecommendedStrategy)
				}
			}
		})
	}
}

func TestDetectEnforcementConflicts(t *testing.T) {
	principles := []types.Principle{
		{ID: "p1", Title: "Data Privacy", Description: "Protect user data", Priority: 0.9},
	}
	policies := []types.Policy{
		{ID: "pol1", Name: "Telemetry", Description: "Collect usage data"},
		{ID: "pol2", Name: "Backups", Description: "Nightly encrypted backups"},
	}

	risk := &oracle.StaticRisk{
		Pairs:   map[string]float64{"p1|pol1": 0.85},
		Default: 0.1,
	}
	engine := newTestEngine(t, &oracle.StaticDistance{}, risk)

	result, err := engine.Detect(context.Background(), principles, policies, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	c := result.Conflicts[0]
	if c.Type != types.ConflictTypeEnforcementConflict {
		t.Errorf("expected enforcement_conflict, got %s", c.Type)
	}
	if c.PrincipleIDs[0] != "p1" || c.PolicyIDs[0] != "pol1" {
		t.Errorf("unexpected entity IDs: %v %v", c.PrincipleIDs, c.PolicyIDs)
	}
}

func TestDetectSemanticAmbiguities(t *testing.T) {
	principles := []types.Principle{
		{ID: "p1", Title: "Vague", Description: "Data may be retained when appropriate", Priority: 0.5},
		{ID: "p2", Title: "Clear", Description: "Data is deleted after 30 days", Priority: 0.5},
		{ID: "p3", Title: "Compound", Description: "Maybe-flags are stored verbatim", Priority: 0.5},
	}

	engine := newTestEngine(t, &oracle.StaticDistance{}, &oracle.StaticRisk{})
	result, err := engine.Detect(context.Background(), principles, nil, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	c := result.Conflicts[0]
	if c.Type != types.ConflictTypeSemanticAmbiguity {
		t.Errorf("expected semantic_ambiguity, got %s", c.Type)
	}
	if c.PrincipleIDs[0] != "p1" {
		t.Errorf("expected p1 flagged, got %v", c.PrincipleIDs)
	}
}

func TestDetectSkipsFailedPairs(t *testing.T) {
	principles := []types.Principle{
		{ID: "p1", Title: "A", Description: "Protect assets", Priority: 0.5},
		{ID: "p2", Title: "B", Description: "Share assets", Priority: 0.5},
	}

	distance := &oracle.StaticDistance{Err: context.DeadlineExceeded}
	engine := newTestEngine(t, distance, &oracle.StaticRisk{})

	result, err := engine.Detect(context.Background(), principles, nil, nil)
	if err != nil {
		t.Fatalf("Detect should not fail on skipped pairs: %v", err)
	}
	if result.SkippedPairs != 1 {
		t.Errorf("expected 1 skipped pair, got %d", result.SkippedPairs)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("expected no conflicts from failed pairs, got %d", len(result.Conflicts))
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	principles := []types.Principle{
		{ID: "p1", Title: "Privacy", Description: "Protect user data", Priority: 0.9},
		{ID: "p2", Title: "Openness", Description: "Share user data", Priority: 0.4},
		{ID: "p3", Title: "Hedged", Description: "Access might be granted", Priority: 0.3},
	}
	policies := []types.Policy{
		{ID: "pol1", Name: "Allow", Description: "Allow exports"},
		{ID: "pol2", Name: "Deny", Description: "Deny exports"},
	}

	distance := &oracle.StaticDistance{Pairs: map[string]float64{"p1|p2": 0.95}, Default: 0.1}
	risk := &oracle.StaticRisk{Default: 0.2}

	var firstIDs []string
	for run := 0; run < 3; run++ {
		engine := newTestEngine(t, distance, risk)
		result, err := engine.Detect(context.Background(), principles, policies, nil)
		if err != nil {
			t.Fatalf("Detect run %d: %v", run, err)
		}
		ids := make([]string, len(result.Conflicts))
		for i, c := range result.Conflicts {
			ids[i] = c.ID
		}
		if run == 0 {
			firstIDs = ids
			continue
		}
		if len(ids) != len(firstIDs) {
			t.Fatalf("run %d produced %d conflicts, first run produced %d", run, len(ids), len(firstIDs))
		}
		for i := range ids {
			if ids[i] != firstIDs[i] {
				t.Errorf("run %d conflict %d ID %s differs from first run %s", run, i, ids[i], firstIDs[i])
			}
		}
	}
}

func TestPassDurationsRecorded(t *testing.T) {
	engine := newTestEngine(t, &oracle.StaticDistance{}, &oracle.StaticRisk{})
	result, err := engine.Detect(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, pass := range []string{"principle_contradiction", "policy_inconsistency", "enforcement_conflict", "semantic_ambiguity"} {
		if _, ok := result.PassDurations[pass]; !ok {
			t.Errorf("missing pass duration for %s", pass)
		}
	}
}
