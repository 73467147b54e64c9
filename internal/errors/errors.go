// Package errors provides the pipeline error taxonomy. Every failure
// inside the conflict pipeline is classified so callers can decide
// between skip-and-log, retry, and escalate handling.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind identifies a class of pipeline failure
type Kind string

const (
	// KindDetection: a single pair failed during detection; skip and log.
	KindDetection Kind = "detection"
	// KindScoring: the scorer failed; fail toward human oversight.
	KindScoring Kind = "scoring"
	// KindOracleTimeout: the generative oracle exceeded its deadline.
	KindOracleTimeout Kind = "oracle_timeout"
	// KindOracleFailure: the generative oracle returned an error.
	KindOracleFailure Kind = "oracle_failure"
	// KindCacheCorruption: a cache entry could not be decoded; treat as miss.
	KindCacheCorruption Kind = "cache_corruption"
	// KindEscalationAssignment: no assignee available; record stays unassigned.
	KindEscalationAssignment Kind = "escalation_assignment"
	// KindValidation: malformed input rejected before processing.
	KindValidation Kind = "validation"
)

// Category classifies errors for handling strategies
type Category string

const (
	CategoryRetryable Category = "retryable"
	CategoryPermanent Category = "permanent"
	CategoryTimeout   Category = "timeout"
	CategorySkippable Category = "skippable"
)

// PipelineError wraps an error with component and handling context.
type PipelineError struct {
	Err       error     `json:"-"`
	Kind      Kind      `json:"kind"`
	Category  Category  `json:"category"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	EntityID  string    `json:"entity_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may be attempted again.
func (e *PipelineError) Retryable() bool {
	return e.Category == CategoryRetryable || e.Category == CategoryTimeout
}

// New creates a PipelineError of the given kind.
func New(err error, kind Kind, component, operation string) *PipelineError {
	return &PipelineError{
		Err:       err,
		Kind:      kind,
		Category:  defaultCategory(kind),
		Component: component,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}

// WithEntity attaches the implicated entity (conflict, violation, pair) ID.
func (e *PipelineError) WithEntity(id string) *PipelineError {
	e.EntityID = id
	return e
}

func defaultCategory(kind Kind) Category {
	switch kind {
	case KindOracleTimeout:
		return CategoryTimeout
	case KindOracleFailure:
		return CategoryRetryable
	case KindDetection, KindCacheCorruption, KindEscalationAssignment:
		return CategorySkippable
	default:
		return CategoryPermanent
	}
}

// Detection wraps a detection pass failure for a specific pair.
func Detection(err error, operation, pairID string) *PipelineError {
	return New(err, KindDetection, "detection", operation).WithEntity(pairID)
}

// Scoring wraps a scorer failure.
func Scoring(err error, conflictID string) *PipelineError {
	return New(err, KindScoring, "scoring", "score").WithEntity(conflictID)
}

// OracleTimeout wraps a generative oracle deadline failure.
func OracleTimeout(err error, conflictID string) *PipelineError {
	return New(err, KindOracleTimeout, "oracle", "generate").WithEntity(conflictID)
}

// OracleFailure wraps a generative oracle error response.
func OracleFailure(err error, conflictID string) *PipelineError {
	return New(err, KindOracleFailure, "oracle", "generate").WithEntity(conflictID)
}

// CacheCorruption wraps an undecodable cache entry.
func CacheCorruption(err error, key string) *PipelineError {
	return New(err, KindCacheCorruption, "cache", "get").WithEntity(key)
}

// EscalationAssignment wraps a failed assignee lookup.
func EscalationAssignment(err error, violationID string) *PipelineError {
	return New(err, KindEscalationAssignment, "escalation", "assign").WithEntity(violationID)
}

// IsKind reports whether any error in the chain is a PipelineError of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error chain permits a retry.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
