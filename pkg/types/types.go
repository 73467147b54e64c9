// Package types provides core data structures and type definitions
// for the constitutional governance engine, including principles,
// policies, conflicts, corrections, and escalation records.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Principle represents a constitutional principle. Principles are
// immutable within a pipeline run and are read from an external store.
type Principle struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"` // 0-1 weight
}

// Validate checks principle fields for structural validity.
func (p *Principle) Validate() error {
	if p.ID == "" {
		return errors.New("principle ID cannot be empty")
	}
	if p.Priority < 0 || p.Priority > 1 {
		return fmt.Errorf("principle %s: priority %f out of range [0,1]", p.ID, p.Priority)
	}
	return nil
}

// Policy represents an operational policy derived from principles.
// Policies are immutable within a pipeline run.
type Policy struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	QualityScore       float64  `json:"quality_score"`
	ConflictIndicators []string `json:"conflict_indicators,omitempty"`
}

// Validate checks policy fields for structural validity.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return errors.New("policy ID cannot be empty")
	}
	if p.QualityScore < 0 || p.QualityScore > 1 {
		return fmt.Errorf("policy %s: quality score %f out of range [0,1]", p.ID, p.QualityScore)
	}
	return nil
}

// ConflictType represents different types of conflicts that can be detected
type ConflictType string

const (
	ConflictTypePrincipleContradiction  ConflictType = "principle_contradiction"
	ConflictTypePolicyInconsistency     ConflictType = "policy_inconsistency"
	ConflictTypeEnforcementConflict     ConflictType = "enforcement_conflict"
	ConflictTypeStakeholderDisagreement ConflictType = "stakeholder_disagreement"
	ConflictTypeSemanticAmbiguity       ConflictType = "semantic_ambiguity"
	ConflictTypeImplementationMismatch  ConflictType = "implementation_mismatch"
)

// Valid returns true if the conflict type is valid
func (ct ConflictType) Valid() bool {
	switch ct {
	case ConflictTypePrincipleContradiction, ConflictTypePolicyInconsistency,
		ConflictTypeEnforcementConflict, ConflictTypeStakeholderDisagreement,
		ConflictTypeSemanticAmbiguity, ConflictTypeImplementationMismatch:
		return true
	}
	return false
}

// Severity represents the severity level of a conflict
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is valid
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns a numeric ordering weight for sorting by severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ResolutionStrategy is one of a fixed set of approaches applied to
// resolve a conflict.
type ResolutionStrategy string

const (
	StrategyAutomaticMerge        ResolutionStrategy = "automatic_merge"
	StrategyPrinciplePriority     ResolutionStrategy = "principle_priority"
	StrategySemanticClarification ResolutionStrategy = "semantic_clarification"
	StrategyStakeholderConsensus  ResolutionStrategy = "stakeholder_consensus"
	StrategyCouncilEscalation     ResolutionStrategy = "council_escalation"
)

// Valid returns true if the strategy is valid
func (rs ResolutionStrategy) Valid() bool {
	switch rs {
	case StrategyAutomaticMerge, StrategyPrinciplePriority, StrategySemanticClarification,
		StrategyStakeholderConsensus, StrategyCouncilEscalation:
		return true
	}
	return false
}

// Conflict represents a detected tension between principles and/or
// policies. Conflicts are never mutated after creation; resolution
// produces a separate CorrectionResult.
type Conflict struct {
	ID                  string             `json:"id"`
	Type                ConflictType       `json:"type"`
	Severity            Severity           `json:"severity"`
	Confidence          float64            `json:"confidence"`
	PrincipleIDs        []string           `json:"principle_ids,omitempty"`
	PolicyIDs           []string           `json:"policy_ids,omitempty"`
	Description         string             `json:"description"`
	RecommendedStrategy ResolutionStrategy `json:"recommended_strategy,omitempty"`
	DetectedAt          time.Time          `json:"detected_at"`
}

// Validate checks conflict fields for structural validity.
func (c *Conflict) Validate() error {
	if c.ID == "" {
		return errors.New("conflict ID cannot be empty")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("conflict %s: invalid type %q", c.ID, c.Type)
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("conflict %s: invalid severity %q", c.ID, c.Severity)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("conflict %s: confidence %f out of range [0,1]", c.ID, c.Confidence)
	}
	return nil
}

// EntityCount returns the number of distinct principles and policies
// implicated in the conflict.
func (c *Conflict) EntityCount() int {
	return len(c.PrincipleIDs) + len(c.PolicyIDs)
}

// ComplexityFactors holds the six normalized scoring factors.
type ComplexityFactors struct {
	Stakeholder       float64 `json:"stakeholder"`
	PrincipleCount    float64 `json:"principle_count"`
	PolicyCount       float64 `json:"policy_count"`
	SemanticAmbiguity float64 `json:"semantic_ambiguity"`
	HistoricalFailure float64 `json:"historical_failure"`
	Urgency           float64 `json:"urgency"`
}

// ComplexityScore is the weighted assessment that gates automatic
// versus human handling of a conflict.
type ComplexityScore struct {
	Value              float64           `json:"value"`
	Factors            ComplexityFactors `json:"factors"`
	RequiresEscalation bool              `json:"requires_escalation"`
}

// CorrectionStatus represents the lifecycle status of a correction
type CorrectionStatus string

const (
	StatusPending               CorrectionStatus = "pending"
	StatusInProgress            CorrectionStatus = "in_progress"
	StatusResolvedAutomatically CorrectionStatus = "resolved_automatically"
	StatusEscalatedToHuman      CorrectionStatus = "escalated_to_human"
	StatusEscalatedToCouncil    CorrectionStatus = "escalated_to_council"
	StatusFailed                CorrectionStatus = "failed"
	StatusTimeout               CorrectionStatus = "timeout"
)

// Valid returns true if the correction status is valid
func (cs CorrectionStatus) Valid() bool {
	switch cs {
	case StatusPending, StatusInProgress, StatusResolvedAutomatically,
		StatusEscalatedToHuman, StatusEscalatedToCouncil, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Terminal returns true once the status has left the pending states.
func (cs CorrectionStatus) Terminal() bool {
	switch cs {
	case StatusPending, StatusInProgress:
		return false
	}
	return true
}

// CorrectionResult is produced exactly once per conflict per pipeline
// run; it is terminal once status leaves {pending, in_progress}.
type CorrectionResult struct {
	ID                  string             `json:"id"`
	ConflictID          string             `json:"conflict_id"`
	Status              CorrectionStatus   `json:"status"`
	Strategy            ResolutionStrategy `json:"strategy"`
	Applied             bool               `json:"applied"`
	FidelityImprovement *float64           `json:"fidelity_improvement,omitempty"`
	ResponseTimeMs      int64              `json:"response_time_ms"`
	RecommendedActions  []string           `json:"recommended_actions,omitempty"`
	EscalationRequired  bool               `json:"escalation_required"`
	EscalationReason    string             `json:"escalation_reason,omitempty"`
	Resolution          string             `json:"resolution,omitempty"`
	FromCache           bool               `json:"from_cache,omitempty"`
}

// EscalationLevel represents a level in the escalation hierarchy
type EscalationLevel string

const (
	LevelTechnicalReview       EscalationLevel = "technical_review"
	LevelPolicyManager         EscalationLevel = "policy_manager"
	LevelStakeholderReview     EscalationLevel = "stakeholder_review"
	LevelConstitutionalCouncil EscalationLevel = "constitutional_council"
	LevelEmergencyResponse     EscalationLevel = "emergency_response"
)

// Valid returns true if the escalation level is valid
func (el EscalationLevel) Valid() bool {
	switch el {
	case LevelTechnicalReview, LevelPolicyManager, LevelStakeholderReview,
		LevelConstitutionalCouncil, LevelEmergencyResponse:
		return true
	}
	return false
}

// Rank returns the position of the level in the promotion order.
// Higher rank means closer to emergency response.
func (el EscalationLevel) Rank() int {
	switch el {
	case LevelTechnicalReview:
		return 1
	case LevelPolicyManager:
		return 2
	case LevelStakeholderReview:
		return 3
	case LevelConstitutionalCouncil:
		return 4
	case LevelEmergencyResponse:
		return 5
	default:
		return 0
	}
}

// EscalationTrigger identifies what caused an escalation record
type EscalationTrigger string

const (
	TriggerCriticalSeverity   EscalationTrigger = "critical_severity"
	TriggerHighSeverity       EscalationTrigger = "high_severity"
	TriggerRepeatedViolation  EscalationTrigger = "repeated_violation"
	TriggerUnresolvedDuration EscalationTrigger = "unresolved_duration"
	TriggerTimeout            EscalationTrigger = "timeout_promotion"
	TriggerManual             EscalationTrigger = "manual"
	TriggerComplexity         EscalationTrigger = "complexity_threshold"
)

// EscalationStatus represents the state of an escalation record
type EscalationStatus string

const (
	EscalationPending      EscalationStatus = "pending"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationTimedOut     EscalationStatus = "timed_out"
	EscalationResolved     EscalationStatus = "resolved"
	EscalationCancelled    EscalationStatus = "cancelled"
)

// Active reports whether the record still occupies its (violation, level)
// slot. Timed out, resolved, and cancelled records are terminal.
func (es EscalationStatus) Active() bool {
	switch es {
	case EscalationPending, EscalationAcknowledged:
		return true
	}
	return false
}

// EscalationRecord tracks one violation at one hierarchy level. At
// most one active record exists per (violation, level) pair.
type EscalationRecord struct {
	ID               string            `json:"id"`
	ViolationID      string            `json:"violation_id"`
	Level            EscalationLevel   `json:"level"`
	TriggerType      EscalationTrigger `json:"trigger_type"`
	AssignedRole     string            `json:"assigned_role,omitempty"`
	AssignedEntity   string            `json:"assigned_entity,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Notified         bool              `json:"notified"`
	CreatedAt        time.Time         `json:"created_at"`
	ResponseDeadline time.Time         `json:"response_deadline"`
	Status           EscalationStatus  `json:"status"`
}

// DetectionContext carries run-scoped inputs used by detection and
// scoring: involved entities, urgency hints, and free-form metadata.
type DetectionContext struct {
	RunID            string         `json:"run_id,omitempty"`
	InvolvedEntities []string       `json:"involved_entities,omitempty"`
	ViolationCount   int            `json:"violation_count,omitempty"`
	FirstDetectedAt  time.Time      `json:"first_detected_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
