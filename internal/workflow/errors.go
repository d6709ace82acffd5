package workflow

import (
	"fmt"

	"taskflow/internal/domain"
)

// InvalidTransitionError indicates a status move the table does not
// permit, including same-status moves.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
	Role domain.Role
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s for role %s", e.From, e.To, e.Role)
}

// ForbiddenError indicates an actor whose role may not perform the
// operation, or who fails its contextual check.
type ForbiddenError struct {
	Op     Operation
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s forbidden: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s forbidden", e.Op)
}

// NotAMemberError indicates a user outside the project's roster.
type NotAMemberError struct {
	UserID     string
	ProjectKey string
}

func (e NotAMemberError) Error() string {
	return fmt.Sprintf("user %s is not a member of project %s", e.UserID, e.ProjectKey)
}

// AlreadyAssignedError indicates a task that already has an assignee.
type AlreadyAssignedError struct {
	TaskKey string
}

func (e AlreadyAssignedError) Error() string {
	return fmt.Sprintf("task %s already has an assignee", e.TaskKey)
}
