package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/errors"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/notify"
	"constitutional-gov/internal/scoring"
	"constitutional-gov/pkg/types"
)

// Persister receives escalation record changes for durable storage.
// Persistence failures are logged, never fatal to escalation handling.
type Persister interface {
	SaveEscalation(ctx context.Context, record *types.EscalationRecord) error
}

// Request asks for an escalation at a specific level.
type Request struct {
	ViolationID string                  `json:"violation_id"`
	Level       types.EscalationLevel   `json:"level"`
	Trigger     types.EscalationTrigger `json:"trigger"`
	Reason      string                  `json:"reason,omitempty"`
}

const recordShardCount = 16

// recordShard holds the records for a slice of the violation ID space.
// Records for one violation always land in the same shard, so
// per-violation scans never cross shards.
type recordShard struct {
	mu      sync.Mutex
	records map[string]*types.EscalationRecord // key: violationID|level
}

// Service owns the active escalation records. It guarantees at most
// one active record per (violation, level) pair and promotes records
// whose response deadlines pass. The record table is sharded by
// violation ID so transitions on unrelated violations never contend.
type Service struct {
	cfg        *config.Store
	directory  Directory
	dispatcher notify.Dispatcher
	persister  Persister
	history    *scoring.WindowHistory
	logger     logging.Logger
	clock      func() time.Time

	shards [recordShardCount]*recordShard
}

// NewService creates the escalation service. persister and history may
// be nil.
func NewService(cfg *config.Store, directory Directory, dispatcher notify.Dispatcher, persister Persister, history *scoring.WindowHistory, logger logging.Logger) *Service {
	s := &Service{
		cfg:        cfg,
		directory:  directory,
		dispatcher: dispatcher,
		persister:  persister,
		history:    history,
		logger:     logger.WithComponent("escalation"),
		clock:      time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &recordShard{records: make(map[string]*types.EscalationRecord)}
	}
	return s
}

func (s *Service) shardFor(violationID string) *recordShard {
	return s.shards[xxhash.Sum64String(violationID)%recordShardCount]
}

func key(violationID string, level types.EscalationLevel) string {
	return violationID + "|" + string(level)
}

// Escalate creates an escalation record, or returns the existing
// active record for the same (violation, level) pair. A manual request
// also cancels active records at lower levels, so a pending promotion
// chain does not duplicate human attention.
func (s *Service) Escalate(ctx context.Context, req Request) (*types.EscalationRecord, error) {
	if req.ViolationID == "" {
		return nil, errors.New(fmt.Errorf("violation ID required"), errors.KindValidation, "escalation", "escalate")
	}
	if !req.Level.Valid() {
		return nil, errors.New(fmt.Errorf("invalid escalation level %q", req.Level), errors.KindValidation, "escalation", "escalate")
	}
	if req.Trigger == "" {
		req.Trigger = types.TriggerManual
	}

	sh := s.shardFor(req.ViolationID)

	sh.mu.Lock()
	if existing, ok := sh.records[key(req.ViolationID, req.Level)]; ok && existing.Status.Active() {
		record := *existing
		sh.mu.Unlock()
		return &record, nil
	}
	sh.mu.Unlock()

	record := s.build(ctx, req)

	sh.mu.Lock()
	// Re-check under the lock; a concurrent Escalate may have won.
	if existing, ok := sh.records[key(req.ViolationID, req.Level)]; ok && existing.Status.Active() {
		out := *existing
		sh.mu.Unlock()
		return &out, nil
	}
	sh.records[key(req.ViolationID, req.Level)] = record
	if req.Trigger == types.TriggerManual {
		cancelBelowLocked(sh, req.ViolationID, req.Level)
	}
	out := *record
	sh.mu.Unlock()

	s.notifyRecord(ctx, record)
	s.persist(ctx, record)

	s.logger.InfoContext(ctx, "escalation created",
		"violation_id", record.ViolationID,
		"level", string(record.Level),
		"trigger", string(record.TriggerType),
		"assignee", record.AssignedEntity)

	return &out, nil
}

// build assembles a new record, including assignment. An assignment
// failure leaves the record unassigned; the whole role is notified.
func (s *Service) build(ctx context.Context, req Request) *types.EscalationRecord {
	now := s.clock().UTC()
	deadline := now.Add(s.cfg.Current().Escalation.ResponseDeadlines[req.Level])

	record := &types.EscalationRecord{
		ID:               uuid.New().String(),
		ViolationID:      req.ViolationID,
		Level:            req.Level,
		TriggerType:      req.Trigger,
		Reason:           req.Reason,
		CreatedAt:        now,
		ResponseDeadline: deadline,
		Status:           types.EscalationPending,
	}

	role, entity, err := s.directory.Assign(req.Level)
	record.AssignedRole = role
	if err != nil {
		s.logger.WarnContext(ctx, "no assignee available, notifying whole role",
			"violation_id", req.ViolationID,
			"role", role,
			"error", errors.EscalationAssignment(err, req.ViolationID).Error())
	} else {
		record.AssignedEntity = entity
	}
	return record
}

// EvaluateConflict runs the rule engine for a conflict whose
// correction demands escalation and creates the resulting record. It
// returns nil when no rule fires and the correction did not demand one
// either.
func (s *Service) EvaluateConflict(ctx context.Context, conflict *types.Conflict, result *types.CorrectionResult, dctx *types.DetectionContext) (*types.EscalationRecord, error) {
	cfg := s.cfg.Current().Escalation
	decision := Evaluate(conflict, dctx, s.history, cfg, s.clock())

	if decision == nil {
		if result == nil || !result.EscalationRequired {
			return nil, nil
		}
		level := types.LevelTechnicalReview
		if result.Status == types.StatusEscalatedToCouncil {
			level = types.LevelConstitutionalCouncil
		}
		decision = &Decision{
			Level:   level,
			Trigger: types.TriggerComplexity,
			Reason:  result.EscalationReason,
		}
	}

	return s.Escalate(ctx, Request{
		ViolationID: conflict.ID,
		Level:       decision.Level,
		Trigger:     decision.Trigger,
		Reason:      decision.Reason,
	})
}

// Acknowledge moves a pending record to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, violationID string, level types.EscalationLevel) error {
	return s.transition(ctx, violationID, level, types.EscalationAcknowledged, func(st types.EscalationStatus) bool {
		return st == types.EscalationPending
	})
}

// Resolve marks an active record resolved.
func (s *Service) Resolve(ctx context.Context, violationID string, level types.EscalationLevel) error {
	return s.transition(ctx, violationID, level, types.EscalationResolved, func(st types.EscalationStatus) bool {
		return st.Active()
	})
}

// Cancel marks an active record cancelled.
func (s *Service) Cancel(ctx context.Context, violationID string, level types.EscalationLevel) error {
	return s.transition(ctx, violationID, level, types.EscalationCancelled, func(st types.EscalationStatus) bool {
		return st.Active()
	})
}

// transition applies a compare-and-set status change: the record must
// exist and its current status must satisfy allowed. Only the shard
// owning the violation is locked.
func (s *Service) transition(ctx context.Context, violationID string, level types.EscalationLevel, to types.EscalationStatus, allowed func(types.EscalationStatus) bool) error {
	sh := s.shardFor(violationID)

	sh.mu.Lock()
	record, ok := sh.records[key(violationID, level)]
	if !ok {
		sh.mu.Unlock()
		return fmt.Errorf("no escalation record for violation %s at level %s", violationID, level)
	}
	if !allowed(record.Status) {
		from := record.Status
		sh.mu.Unlock()
		return fmt.Errorf("cannot move escalation %s from %s to %s", record.ID, from, to)
	}
	record.Status = to
	snapshot := *record
	sh.mu.Unlock()

	s.persist(ctx, &snapshot)
	return nil
}

// cancelBelowLocked cancels active records for the violation at levels
// strictly below the given one. Caller holds sh.mu; the violation's
// records all live in sh.
func cancelBelowLocked(sh *recordShard, violationID string, level types.EscalationLevel) {
	for _, record := range sh.records {
		if record.ViolationID == violationID &&
			record.Status.Active() &&
			record.Level.Rank() < level.Rank() {
			record.Status = types.EscalationCancelled
		}
	}
}

// List returns the records for one violation, ordered by level rank.
func (s *Service) List(violationID string) []types.EscalationRecord {
	sh := s.shardFor(violationID)

	sh.mu.Lock()
	var out []types.EscalationRecord
	for _, record := range sh.records {
		if record.ViolationID == violationID {
			out = append(out, *record)
		}
	}
	sh.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Level.Rank() < out[j].Level.Rank() })
	return out
}

// ListActive returns every active record, ordered by deadline.
func (s *Service) ListActive() []types.EscalationRecord {
	var out []types.EscalationRecord
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, record := range sh.records {
			if record.Status.Active() {
				out = append(out, *record)
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ResponseDeadline.Before(out[j].ResponseDeadline) })
	return out
}

// Sweep times out active records past their response deadline and
// promotes each to the next level. Emergency response is terminal:
// those records time out in place and the role is re-notified.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.clock()

	var expired []types.EscalationRecord
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, record := range sh.records {
			if record.Status.Active() && now.After(record.ResponseDeadline) {
				record.Status = types.EscalationTimedOut
				expired = append(expired, *record)
			}
		}
		sh.mu.Unlock()
	}

	for i := range expired {
		record := &expired[i]
		s.persist(ctx, record)

		next, ok := NextLevel(record.Level)
		if !ok {
			s.logger.ErrorContext(ctx, "emergency escalation unanswered past deadline",
				"violation_id", record.ViolationID,
				"record_id", record.ID)
			s.notifyRecord(ctx, record)
			continue
		}

		if s.hasActiveAtOrAbove(record.ViolationID, next) {
			continue
		}

		if _, err := s.Escalate(ctx, Request{
			ViolationID: record.ViolationID,
			Level:       next,
			Trigger:     types.TriggerTimeout,
			Reason:      fmt.Sprintf("promoted from %s after response deadline", record.Level),
		}); err != nil {
			s.logger.ErrorContext(ctx, "timeout promotion failed",
				"violation_id", record.ViolationID,
				"error", err.Error())
		}
	}

	return len(expired)
}

func (s *Service) hasActiveAtOrAbove(violationID string, level types.EscalationLevel) bool {
	sh := s.shardFor(violationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for _, record := range sh.records {
		if record.ViolationID == violationID &&
			record.Status.Active() &&
			record.Level.Rank() >= level.Rank() {
			return true
		}
	}
	return false
}

// Run drives the sweeper until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Current().Escalation.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Info("sweep promoted expired escalations", "expired", n)
			}
		}
	}
}

func (s *Service) notifyRecord(ctx context.Context, record *types.EscalationRecord) {
	channel := record.AssignedRole
	if channel == "" {
		channel = string(record.Level)
	}
	n := notify.Notification{
		Channel:     channel,
		ViolationID: record.ViolationID,
		Level:       record.Level,
		Trigger:     record.TriggerType,
		Assignee:    record.AssignedEntity,
		Reason:      record.Reason,
		Deadline:    record.ResponseDeadline,
		SentAt:      s.clock().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			"violation_id", record.ViolationID,
			"channel", channel,
			"error", err.Error())
		return
	}

	sh := s.shardFor(record.ViolationID)
	sh.mu.Lock()
	if stored, ok := sh.records[key(record.ViolationID, record.Level)]; ok && stored.ID == record.ID {
		stored.Notified = true
	}
	sh.mu.Unlock()
}

func (s *Service) persist(ctx context.Context, record *types.EscalationRecord) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveEscalation(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "escalation persistence failed",
			"record_id", record.ID,
			"error", err.Error())
	}
}
