// Package escalation manages the human escalation hierarchy: rule
// evaluation, active-record bookkeeping, assignment, and timeout-driven
// promotion between levels.
package escalation

import (
	"fmt"
	"sync"

	"constitutional-gov/pkg/types"
)

// roleForLevel maps each hierarchy level to the responsible role.
var roleForLevel = map[types.EscalationLevel]string{
	types.LevelTechnicalReview:       "technical_reviewer",
	types.LevelPolicyManager:         "policy_manager",
	types.LevelStakeholderReview:     "stakeholder_representative",
	types.LevelConstitutionalCouncil: "council_member",
	types.LevelEmergencyResponse:     "emergency_responder",
}

// Directory resolves the role and, when possible, a concrete assignee
// for an escalation level.
type Directory interface {
	Assign(level types.EscalationLevel) (role, entity string, err error)
}

// StaticDirectory assigns members round-robin per role. A role with no
// members yields the role name and an error; the caller keeps the
// record unassigned and notifies the whole role.
type StaticDirectory struct {
	mu      sync.Mutex
	members map[string][]string
	cursor  map[string]int
}

// NewStaticDirectory creates a directory over role -> member lists.
func NewStaticDirectory(members map[string][]string) *StaticDirectory {
	if members == nil {
		members = make(map[string][]string)
	}
	return &StaticDirectory{
		members: members,
		cursor:  make(map[string]int),
	}
}

// Assign implements Directory.
func (d *StaticDirectory) Assign(level types.EscalationLevel) (string, string, error) {
	role, ok := roleForLevel[level]
	if !ok {
		return "", "", fmt.Errorf("no role for escalation level %q", level)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pool := d.members[role]
	if len(pool) == 0 {
		return role, "", fmt.Errorf("no members registered for role %q", role)
	}

	entity := pool[d.cursor[role]%len(pool)]
	d.cursor[role]++
	return role, entity, nil
}
