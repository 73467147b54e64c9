// Package oracle defines the external collaborator interfaces the
// pipeline depends on: the generative resolution oracle, the
// constitutional distance function, and the risk prediction oracle.
// Implementations ship for Anthropic, OpenAI, and in-process defaults;
// all are mockable for tests.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"constitutional-gov/internal/config"
	"constitutional-gov/pkg/types"
)

// Generator produces resolution text from a strategy-specific prompt.
// Calls are bounded by the context deadline; retry policy lives with
// the caller, not the implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// DistanceFunc computes constitutional distance between two principles:
// 0 means identical intent, 1 fully contradictory.
type DistanceFunc interface {
	Distance(ctx context.Context, a, b *types.Principle) (float64, error)
}

// RiskPredictor estimates the likelihood in [0,1] that a policy
// violates a principle.
type RiskPredictor interface {
	PredictViolationLikelihood(ctx context.Context, principle *types.Principle, policy *types.Policy) (float64, error)
}

// NewGenerator builds the configured generator provider.
func NewGenerator(cfg config.OracleConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicGenerator(cfg.Model, cfg.MaxTokens)
	case "openai":
		return NewOpenAIGenerator(cfg.Model, cfg.MaxTokens)
	case "mock", "":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
