// Package pipeline orchestrates a full governance run: detection,
// complexity scoring, parallel resolution, and escalation of whatever
// could not be handled automatically.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"constitutional-gov/internal/audit"
	"constitutional-gov/internal/cache"
	"constitutional-gov/internal/detection"
	"constitutional-gov/internal/escalation"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/processor"
	"constitutional-gov/internal/resolution"
	"constitutional-gov/pkg/types"
)

// Report statuses.
const (
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
)

// Metrics aggregates the run's performance numbers.
type Metrics struct {
	DetectionDurations map[string]time.Duration `json:"detection_durations"`
	Processor          processor.Metrics        `json:"processor"`
	Resolution         resolution.Stats         `json:"resolution"`
	Cache              cache.Stats              `json:"cache"`
	TotalDuration      time.Duration            `json:"total_duration"`
}

// Report is the outcome of one pipeline run. Every detected conflict
// appears with exactly one terminal correction.
type Report struct {
	RunID                 string                   `json:"run_id"`
	Status                string                   `json:"status"`
	Conflicts             []types.Conflict         `json:"conflicts"`
	Corrections           []types.CorrectionResult `json:"corrections"`
	Escalations           []types.EscalationRecord `json:"escalations"`
	RefinementSuggestions []string                 `json:"refinement_suggestions,omitempty"`
	Metrics               Metrics                  `json:"metrics"`
	Errors                []string                 `json:"errors,omitempty"`
	StartedAt             time.Time                `json:"started_at"`
	FinishedAt            time.Time                `json:"finished_at"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	engine     *detection.Engine
	proc       *processor.Processor
	workflow   *resolution.Workflow
	escalation *escalation.Service
	patterns   cache.PatternCache
	auditor    audit.Sink
	logger     logging.Logger
}

// New creates an orchestrator over already-constructed stages. auditor
// may be nil.
func New(engine *detection.Engine, proc *processor.Processor, workflow *resolution.Workflow, esc *escalation.Service, patterns cache.PatternCache, auditor audit.Sink, logger logging.Logger) *Orchestrator {
	if auditor == nil {
		auditor = audit.NopSink{}
	}
	return &Orchestrator{
		engine:     engine,
		proc:       proc,
		workflow:   workflow,
		escalation: esc,
		patterns:   patterns,
		auditor:    auditor,
		logger:     logger.WithComponent("pipeline"),
	}
}

// Run executes the full pipeline. Invalid principles and policies are
// rejected up front and reported as errors; the run continues with the
// valid remainder. A partial failure never aborts the run: it surfaces
// in Errors and flips the status to completed_with_errors.
func (o *Orchestrator) Run(ctx context.Context, principles []types.Principle, policies []types.Policy, dctx *types.DetectionContext) (*Report, error) {
	start := time.Now()

	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: start.UTC(),
	}
	if dctx == nil {
		dctx = &types.DetectionContext{}
	}
	if dctx.RunID == "" {
		dctx.RunID = report.RunID
	}
	ctx = logging.WithTraceID(ctx, report.RunID)

	validPrinciples := make([]types.Principle, 0, len(principles))
	for i := range principles {
		if err := principles[i].Validate(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("rejected principle: %v", err))
			continue
		}
		validPrinciples = append(validPrinciples, principles[i])
	}
	validPolicies := make([]types.Policy, 0, len(policies))
	for i := range policies {
		if err := policies[i].Validate(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("rejected policy: %v", err))
			continue
		}
		validPolicies = append(validPolicies, policies[i])
	}

	detected, err := o.engine.Detect(ctx, validPrinciples, validPolicies, dctx)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	report.Conflicts = detected.Conflicts
	if detected.SkippedPairs > 0 {
		report.Errors = append(report.Errors,
			fmt.Sprintf("detection skipped %d of %d pairs", detected.SkippedPairs, detected.TotalPairs))
	}

	report.Corrections = o.proc.ProcessBatch(ctx, detected.Conflicts, validPrinciples, validPolicies, dctx)

	conflictByID := make(map[string]*types.Conflict, len(detected.Conflicts))
	for i := range detected.Conflicts {
		conflictByID[detected.Conflicts[i].ID] = &detected.Conflicts[i]
	}

	for i := range report.Corrections {
		correction := &report.Corrections[i]

		if !correction.Status.Terminal() {
			report.Errors = append(report.Errors,
				fmt.Sprintf("conflict %s left in non-terminal status %s", correction.ConflictID, correction.Status))
		}
		if correction.Status == types.StatusFailed {
			report.Errors = append(report.Errors,
				fmt.Sprintf("conflict %s failed: %s", correction.ConflictID, correction.EscalationReason))
		}
		report.RefinementSuggestions = append(report.RefinementSuggestions, correction.RecommendedActions...)

		conflict, ok := conflictByID[correction.ConflictID]
		if !ok {
			continue
		}
		// Severity and recurrence rules apply even to conflicts the
		// workflow resolved: a critical conflict still reaches
		// emergency response.
		record, err := o.escalation.EvaluateConflict(ctx, conflict, correction, dctx)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("escalation for conflict %s failed: %v", conflict.ID, err))
			continue
		}
		if record != nil {
			report.Escalations = append(report.Escalations, *record)
			o.auditor.Record(audit.Event{
				Action:   "escalation_created",
				RunID:    report.RunID,
				EntityID: record.ViolationID,
				Detail: map[string]any{
					"level":   string(record.Level),
					"trigger": string(record.TriggerType),
				},
			})
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Metrics = Metrics{
		DetectionDurations: detected.PassDurations,
		Processor:          o.proc.Metrics(),
		Resolution:         o.workflow.Stats(),
		Cache:              o.patterns.Stats(),
		TotalDuration:      time.Since(start),
	}

	report.Status = StatusCompleted
	if len(report.Errors) > 0 {
		report.Status = StatusCompletedWithErrors
	}

	o.auditor.Record(audit.Event{
		Action: "pipeline_run",
		RunID:  report.RunID,
		Detail: map[string]any{
			"status":      report.Status,
			"conflicts":   len(report.Conflicts),
			"escalations": len(report.Escalations),
			"errors":      len(report.Errors),
		},
	})

	o.logger.InfoContext(ctx, "pipeline run finished",
		"run_id", report.RunID,
		"status", report.Status,
		"conflicts", len(report.Conflicts),
		"escalations", len(report.Escalations),
		"errors", len(report.Errors),
		"duration_ms", report.Metrics.TotalDuration.Milliseconds())

	return report, nil
}
