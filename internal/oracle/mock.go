package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"constitutional-gov/pkg/types"
)

// MockGenerator implements Generator for tests and offline runs. Its
// failure behavior and latency are configurable.
type MockGenerator struct {
	mu            sync.Mutex
	ResponseDelay time.Duration
	FailAlways    bool
	FailNext      int // fail this many calls, then succeed
	Response      string
	calls         int
}

// NewMockGenerator creates a mock that always succeeds immediately.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, _ float64) (string, error) {
	if m.ResponseDelay > 0 {
		select {
		case <-time.After(m.ResponseDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls++
	failNow := m.FailAlways
	if !failNow && m.FailNext > 0 {
		m.FailNext--
		failNow = true
	}
	m.mu.Unlock()

	if failNow {
		return "", errors.New("mock oracle: simulated failure")
	}

	if m.Response != "" {
		return m.Response, nil
	}
	if len(prompt) > 60 {
		prompt = prompt[:60]
	}
	return fmt.Sprintf("Proposed resolution for: %s...", prompt), nil
}

// Calls returns the number of Generate invocations.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// StaticDistance implements DistanceFunc with a fixed pairwise table,
// falling back to a default. Tests use it to script detection inputs.
type StaticDistance struct {
	Pairs   map[string]float64 // key: "idA|idB" in sorted order
	Default float64
	Err     error
}

// Distance implements DistanceFunc.
func (s *StaticDistance) Distance(_ context.Context, a, b *types.Principle) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	k1, k2 := a.ID+"|"+b.ID, b.ID+"|"+a.ID
	if d, ok := s.Pairs[k1]; ok {
		return d, nil
	}
	if d, ok := s.Pairs[k2]; ok {
		return d, nil
	}
	return s.Default, nil
}

// StaticRisk implements RiskPredictor with a fixed table keyed by
// "principleID|policyID".
type StaticRisk struct {
	Pairs   map[string]float64
	Default float64
	Err     error
}

// PredictViolationLikelihood implements RiskPredictor.
func (s *StaticRisk) PredictViolationLikelihood(_ context.Context, principle *types.Principle, policy *types.Policy) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	if r, ok := s.Pairs[principle.ID+"|"+policy.ID]; ok {
		return r, nil
	}
	return s.Default, nil
}
