package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StorageConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	s, err := Open(context.Background(), cfg, logging.NewNoop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestPrincipleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := types.Principle{ID: "p1", Title: "Privacy", Description: "Protect user data", Priority: 0.9}
	require.NoError(t, s.UpsertPrinciple(ctx, &p))

	got, err := s.ListPrinciples(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])

	// Upsert replaces.
	p.Priority = 0.5
	require.NoError(t, s.UpsertPrinciple(ctx, &p))
	got, err = s.ListPrinciples(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Priority)
}

func TestPrincipleValidationRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertPrinciple(context.Background(), &types.Principle{Title: "no id"})
	assert.Error(t, err)
}

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := types.Policy{
		ID:                 "pol1",
		Name:               "Retention",
		Description:        "Keep records one year",
		QualityScore:       0.8,
		ConflictIndicators: []string{"retention", "deletion"},
	}
	require.NoError(t, s.UpsertPolicy(ctx, &p))

	got, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])
}

func TestEscalationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := types.EscalationRecord{
		ID:               "esc1",
		ViolationID:      "v1",
		Level:            types.LevelTechnicalReview,
		TriggerType:      types.TriggerUnresolvedDuration,
		AssignedRole:     "technical_reviewer",
		AssignedEntity:   "alice",
		Reason:           "stuck",
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
		ResponseDeadline: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		Status:           types.EscalationPending,
	}
	require.NoError(t, s.SaveEscalation(ctx, &record))

	// Status updates land on the same row.
	record.Status = types.EscalationResolved
	record.Notified = true
	require.NoError(t, s.SaveEscalation(ctx, &record))

	got, err := s.ListEscalations(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.EscalationResolved, got[0].Status)
	assert.True(t, got[0].Notified)
	assert.Equal(t, types.LevelTechnicalReview, got[0].Level)

	other, err := s.ListEscalations(ctx, "v2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
