package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/oracle"
	"constitutional-gov/pkg/types"
)

func newTestWorkflow(generator oracle.Generator) *Workflow {
	store := config.NewStore(config.Default(), "", logging.NewNoop())
	return NewWorkflow(store, generator, logging.NewNoop())
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name     string
		conflict types.Conflict
		want     types.ResolutionStrategy
	}{
		{
			name: "type mapping for policy inconsistency",
			conflict: types.Conflict{
				Type:       types.ConflictTypePolicyInconsistency,
				Confidence: 0.5,
			},
			want: types.StrategyAutomaticMerge,
		},
		{
			name: "type mapping for enforcement conflict",
			conflict: types.Conflict{
				Type:       types.ConflictTypeEnforcementConflict,
				Confidence: 0.5,
			},
			want: types.StrategyPrinciplePriority,
		},
		{
			name: "type mapping for stakeholder disagreement",
			conflict: types.Conflict{
				Type:       types.ConflictTypeStakeholderDisagreement,
				Confidence: 0.5,
			},
			want: types.StrategyStakeholderConsensus,
		},
		{
			name: "type mapping for implementation mismatch",
			conflict: types.Conflict{
				Type:       types.ConflictTypeImplementationMismatch,
				Confidence: 0.5,
			},
			want: types.StrategyAutomaticMerge,
		},
		{
			name: "high-confidence recommendation overrides type mapping",
			conflict: types.Conflict{
				Type:                types.ConflictTypePolicyInconsistency,
				Confidence:          0.95,
				RecommendedStrategy: types.StrategySemanticClarification,
			},
			want: types.StrategySemanticClarification,
		},
		{
			name: "low-confidence recommendation is ignored",
			conflict: types.Conflict{
				Type:                types.ConflictTypePolicyInconsistency,
				Confidence:          0.6,
				RecommendedStrategy: types.StrategySemanticClarification,
			},
			want: types.StrategyAutomaticMerge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectStrategy(&tt.conflict, 0.8)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAutomaticMerge(t *testing.T) {
	gen := &oracle.MockGenerator{Response: "merged policy text"}
	wf := newTestWorkflow(gen)

	conflict := &types.Conflict{
		ID:         "cf_1",
		Type:       types.ConflictTypePolicyInconsistency,
		Severity:   types.SeverityMedium,
		Confidence: 0.75,
		PolicyIDs:  []string{"pol1", "pol2"},
	}
	policies := []types.Policy{
		{ID: "pol1", Name: "A", Description: "Allow exports"},
		{ID: "pol2", Name: "B", Description: "Deny exports"},
	}

	result := wf.Resolve(context.Background(), conflict, nil, policies)

	assert.Equal(t, types.StatusResolvedAutomatically, result.Status)
	assert.Equal(t, types.StrategyAutomaticMerge, result.Strategy)
	assert.True(t, result.Applied)
	assert.Equal(t, "merged policy text", result.Resolution)
	require.NotNil(t, result.FidelityImprovement)
	assert.Greater(t, *result.FidelityImprovement, 0.0)
	assert.False(t, result.EscalationRequired)
	assert.True(t, result.Status.Terminal())
}

func TestResolveOracleFailureMarksFailed(t *testing.T) {
	gen := &oracle.MockGenerator{FailAlways: true}
	wf := newTestWorkflow(gen)

	conflict := &types.Conflict{
		ID:         "cf_2",
		Type:       types.ConflictTypePolicyInconsistency,
		Severity:   types.SeverityMedium,
		Confidence: 0.75,
	}

	result := wf.Resolve(context.Background(), conflict, nil, nil)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.True(t, result.EscalationRequired)
	assert.NotEmpty(t, result.EscalationReason)
	// Initial attempt plus the configured retries.
	assert.Equal(t, 3, gen.Calls())
}

func TestResolveOracleRecoversWithinRetries(t *testing.T) {
	gen := &oracle.MockGenerator{FailNext: 2, Response: "clarified text"}
	wf := newTestWorkflow(gen)

	conflict := &types.Conflict{
		ID:           "cf_3",
		Type:         types.ConflictTypeSemanticAmbiguity,
		Severity:     types.SeverityMedium,
		Confidence:   0.7,
		PrincipleIDs: []string{"p1"},
	}
	principles := []types.Principle{
		{ID: "p1", Title: "Hedged", Description: "Data may be retained"},
	}

	result := wf.Resolve(context.Background(), conflict, principles, nil)

	assert.Equal(t, types.StatusResolvedAutomatically, result.Status)
	assert.Equal(t, types.StrategySemanticClarification, result.Strategy)
	assert.Equal(t, "clarified text", result.Resolution)
	assert.Equal(t, 3, gen.Calls())
}

func TestResolveOracleTimeoutMarksFailed(t *testing.T) {
	gen := &oracle.MockGenerator{ResponseDelay: 100 * time.Millisecond}
	store := config.NewStore(config.Default(), "", logging.NewNoop())
	cfg := config.Default()
	cfg.Resolution.OracleTimeout = 10 * time.Millisecond
	cfg.Resolution.MaxRetries = 0
	require.NoError(t, store.Apply(cfg))
	wf := NewWorkflow(store, gen, logging.NewNoop())

	conflict := &types.Conflict{
		ID:         "cf_4",
		Type:       types.ConflictTypePolicyInconsistency,
		Severity:   types.SeverityMedium,
		Confidence: 0.7,
	}

	result := wf.Resolve(context.Background(), conflict, nil, nil)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.True(t, result.EscalationRequired)
}

func TestResolvePrinciplePriorityIsDeterministic(t *testing.T) {
	wf := newTestWorkflow(oracle.NewMockGenerator())

	conflict := &types.Conflict{
		ID:           "cf_5",
		Type:         types.ConflictTypeEnforcementConflict,
		Severity:     types.SeverityHigh,
		Confidence:   0.75,
		PrincipleIDs: []string{"p1", "p2"},
		PolicyIDs:    []string{"pol1"},
	}
	principles := []types.Principle{
		{ID: "p1", Title: "Privacy", Description: "Protect data", Priority: 0.9},
		{ID: "p2", Title: "Access", Description: "Open data", Priority: 0.4},
	}
	policies := []types.Policy{
		{ID: "pol1", Name: "Retention", Description: "Retain all data"},
	}

	first := wf.Resolve(context.Background(), conflict, principles, policies)
	second := wf.Resolve(context.Background(), conflict, principles, policies)

	assert.Equal(t, types.StatusResolvedAutomatically, first.Status)
	assert.Contains(t, first.Resolution, "Privacy")
	assert.Equal(t, first.Resolution, second.Resolution)
}

func TestResolvePrinciplePriorityNeedsBothSides(t *testing.T) {
	wf := newTestWorkflow(oracle.NewMockGenerator())

	conflict := &types.Conflict{
		ID:           "cf_5b",
		Type:         types.ConflictTypeEnforcementConflict,
		Severity:     types.SeverityHigh,
		Confidence:   0.75,
		PrincipleIDs: []string{"p1"},
		PolicyIDs:    []string{"pol1"},
	}
	principles := []types.Principle{
		{ID: "p1", Title: "Privacy", Description: "Protect data", Priority: 0.9},
	}
	policies := []types.Policy{
		{ID: "pol1", Name: "Retention", Description: "Retain all data"},
	}

	// Missing policy side.
	result := wf.Resolve(context.Background(), conflict, principles, nil)
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.True(t, result.EscalationRequired)

	// Missing principle side.
	result = wf.Resolve(context.Background(), conflict, nil, policies)
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.True(t, result.EscalationRequired)
}

func TestResolveConsensusAndCouncilEscalateImmediately(t *testing.T) {
	gen := oracle.NewMockGenerator()
	wf := newTestWorkflow(gen)

	consensus := wf.Resolve(context.Background(), &types.Conflict{
		ID:         "cf_6",
		Type:       types.ConflictTypeStakeholderDisagreement,
		Severity:   types.SeverityMedium,
		Confidence: 0.7,
	}, nil, nil)
	assert.Equal(t, types.StatusEscalatedToHuman, consensus.Status)
	assert.True(t, consensus.EscalationRequired)
	assert.NotEmpty(t, consensus.RecommendedActions)

	council := wf.Resolve(context.Background(), &types.Conflict{
		ID:         "cf_7",
		Type:       types.ConflictTypePrincipleContradiction,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
	}, nil, nil)
	assert.Equal(t, types.StatusEscalatedToCouncil, council.Status)
	assert.True(t, council.EscalationRequired)

	// Neither strategy touches the oracle.
	assert.Equal(t, 0, gen.Calls())
}

func TestWorkflowStats(t *testing.T) {
	wf := newTestWorkflow(&oracle.MockGenerator{Response: "ok"})

	for i := 0; i < 4; i++ {
		wf.Resolve(context.Background(), &types.Conflict{
			ID:         "cf_ok",
			Type:       types.ConflictTypePolicyInconsistency,
			Severity:   types.SeverityLow,
			Confidence: 0.7,
		}, nil, []types.Policy{})
	}
	wf.Resolve(context.Background(), &types.Conflict{
		ID:         "cf_esc",
		Type:       types.ConflictTypePrincipleContradiction,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
	}, nil, nil)

	st := wf.Stats()
	assert.Equal(t, int64(5), st.Attempted)
	assert.Equal(t, int64(4), st.Resolved)
	assert.Equal(t, int64(1), st.Escalated)
	assert.InDelta(t, 0.8, st.Rate, 1e-9)
	assert.False(t, st.BelowTarget)
}
