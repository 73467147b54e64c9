// Package store persists principles, policies, and escalation records
// in a SQL database. SQLite serves single-node deployments; Postgres
// serves shared ones.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

// Store wraps the SQL connection with typed accessors.
type Store struct {
	db     *sql.DB
	driver string
	logger logging.Logger
}

// Open connects to the configured database and verifies the
// connection.
func Open(ctx context.Context, cfg config.StorageConfig, logger logging.Logger) (*Store, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, driver: cfg.Driver, logger: logger.WithComponent("store")}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS principles (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL,
		priority    REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS policies (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL,
		quality_score REAL NOT NULL,
		indicators    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS escalations (
		id                TEXT PRIMARY KEY,
		violation_id      TEXT NOT NULL,
		level             TEXT NOT NULL,
		trigger_type      TEXT NOT NULL,
		assigned_role     TEXT NOT NULL DEFAULT '',
		assigned_entity   TEXT NOT NULL DEFAULT '',
		reason            TEXT NOT NULL DEFAULT '',
		notified          INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL,
		response_deadline TIMESTAMP NOT NULL,
		status            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_violation ON escalations (violation_id)`,
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// UpsertPrinciple inserts or replaces a principle.
func (s *Store) UpsertPrinciple(ctx context.Context, p *types.Principle) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO principles (id, title, description, priority)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title,
			description = excluded.description, priority = excluded.priority`)
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Title, p.Description, p.Priority)
	return err
}

// UpsertPolicy inserts or replaces a policy.
func (s *Store) UpsertPolicy(ctx context.Context, p *types.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO policies (id, name, description, quality_score, indicators)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name,
			description = excluded.description, quality_score = excluded.quality_score,
			indicators = excluded.indicators`)
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.QualityScore,
		strings.Join(p.ConflictIndicators, "\n"))
	return err
}

// ListPrinciples returns all stored principles ordered by ID.
func (s *Store) ListPrinciples(ctx context.Context) ([]types.Principle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, priority FROM principles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list principles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Principle
	for rows.Next() {
		var p types.Principle
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Priority); err != nil {
			return nil, fmt.Errorf("scan principle: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPolicies returns all stored policies ordered by ID.
func (s *Store) ListPolicies(ctx context.Context) ([]types.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, quality_score, indicators FROM policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Policy
	for rows.Next() {
		var p types.Policy
		var indicators string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.QualityScore, &indicators); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if indicators != "" {
			p.ConflictIndicators = strings.Split(indicators, "\n")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveEscalation implements escalation.Persister: each call writes the
// record's latest state.
func (s *Store) SaveEscalation(ctx context.Context, record *types.EscalationRecord) error {
	query := s.rebind(`INSERT INTO escalations
		(id, violation_id, level, trigger_type, assigned_role, assigned_entity,
		 reason, notified, created_at, response_deadline, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET assigned_role = excluded.assigned_role,
			assigned_entity = excluded.assigned_entity, notified = excluded.notified,
			status = excluded.status`)
	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.ViolationID, string(record.Level), string(record.TriggerType),
		record.AssignedRole, record.AssignedEntity, record.Reason, record.Notified,
		record.CreatedAt, record.ResponseDeadline, string(record.Status))
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}

// ListEscalations returns the persisted records for one violation,
// oldest first.
func (s *Store) ListEscalations(ctx context.Context, violationID string) ([]types.EscalationRecord, error) {
	query := s.rebind(`SELECT id, violation_id, level, trigger_type, assigned_role,
		assigned_entity, reason, notified, created_at, response_deadline, status
		FROM escalations WHERE violation_id = ? ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, violationID)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.EscalationRecord
	for rows.Next() {
		var r types.EscalationRecord
		var level, trigger, status string
		var created, deadline time.Time
		if err := rows.Scan(&r.ID, &r.ViolationID, &level, &trigger, &r.AssignedRole,
			&r.AssignedEntity, &r.Reason, &r.Notified, &created, &deadline, &status); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		r.Level = types.EscalationLevel(level)
		r.TriggerType = types.EscalationTrigger(trigger)
		r.Status = types.EscalationStatus(status)
		r.CreatedAt = created
		r.ResponseDeadline = deadline
		out = append(out, r)
	}
	return out, rows.Err()
}
