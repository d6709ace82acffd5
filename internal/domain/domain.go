package domain

// Role is the single role a user holds across the system.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
	RoleAdmin     Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleOwner, RoleManager, RoleDeveloper, RoleTester, RoleAdmin}

func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusBacklog         Status = "BACKLOG"
	StatusTodo            Status = "TODO"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusReadyForTesting Status = "READY_FOR_TESTING"
	StatusDone            Status = "DONE"
)

var Statuses = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusReadyForTesting, StatusDone}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// EventKind tags a realtime frame. The set is closed: the dispatcher
// switches over every kind and drops anything else.
type EventKind string

const (
	EventTaskCreated      EventKind = "task_created"
	EventTaskCreatedHigh  EventKind = "task_created_high"
	EventTaskStatusChange EventKind = "task_status_change"
	EventTaskMoveReady    EventKind = "task_move_ready"
	EventTaskRejected     EventKind = "task_rejected"
	EventTaskAll          EventKind = "task_all"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	Role      Role   `json:"role" enum:"owner,manager,developer,tester,admin"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
}

// Member is a membership row joined with the user it refers to.
type Member struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     Role   `json:"role"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,READY_FOR_TESTING,DONE"`
	Priority    Priority `json:"priority" enum:"low,medium,high"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	ReporterID  string   `json:"reporter_id"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	Message     string  `json:"message"`
	RecipientID string  `json:"recipient_id"`
	SenderID    string  `json:"sender_id"`
	TaskID      *string `json:"task_id,omitempty"`
	ProjectID   string  `json:"project_id"`
	Read        bool    `json:"read"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type AuditEntry struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
