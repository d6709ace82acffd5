// Package workflow holds the pure rules of the task lifecycle: which
// status moves exist, who may perform them, and who may perform each
// coordinator operation. Nothing here touches I/O or the clock.
package workflow

import "taskflow/internal/domain"

type move struct {
	From domain.Status
	To   domain.Status
}

// transitions is the complete allow-list. A (from, to) pair absent from
// this map is illegal for every role. BACKLOG has no outgoing row on
// purpose: tasks leave it only through developer assignment, which
// forces TODO directly. DONE is terminal.
var transitions = map[move][]domain.Role{
	{domain.StatusTodo, domain.StatusInProgress}:            {domain.RoleDeveloper},
	{domain.StatusInProgress, domain.StatusReadyForTesting}: {domain.RoleDeveloper},
	{domain.StatusReadyForTesting, domain.StatusDone}:       {domain.RoleTester},
	{domain.StatusReadyForTesting, domain.StatusTodo}:       {domain.RoleTester},
}

// CanMove reports whether role may move a task from one status to
// another. Same-status moves are always rejected.
func CanMove(from, to domain.Status, role domain.Role) bool {
	if from == to {
		return false
	}
	for _, r := range transitions[move{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}

// Operation names a coordinator operation gated by actor role.
type Operation string

const (
	OpCreateTask      Operation = "create-task"
	OpAssignDeveloper Operation = "assign-developer"
	OpMoveStatus      Operation = "move-status"
	OpInviteMember    Operation = "invite-member"
	OpKickMember      Operation = "kick-member"
)

// operationRoles mirrors the transition table for whole operations.
// Contextual checks (assignee identity, project membership, reporter
// override) are layered on top by the coordinator.
var operationRoles = map[Operation][]domain.Role{
	OpCreateTask:      {domain.RoleManager},
	OpAssignDeveloper: {domain.RoleManager, domain.RoleAdmin, domain.RoleOwner},
	OpMoveStatus:      {domain.RoleDeveloper, domain.RoleTester},
	OpInviteMember:    {domain.RoleOwner},
	OpKickMember:      {domain.RoleOwner},
}

// Allowed reports whether role may perform op at all.
func Allowed(op Operation, role domain.Role) bool {
	for _, r := range operationRoles[op] {
		if r == role {
			return true
		}
	}
	return false
}
