package server

import (
	"taskflow/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	Email    string `json:"email" format:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role" enum:"owner,manager,developer,tester,admin"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type InviteMemberRequest struct {
	UserID string `json:"user_id"`
}

type CreateTaskRequest struct {
	Summary     string  `json:"summary"`
	Description *string `json:"description,omitempty"`
	Priority    string  `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type AssignTaskRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type MoveTaskRequest struct {
	Status string `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,READY_FOR_TESTING,DONE"`
}

type DevLoginRequest struct {
	Email string `json:"email" format:"email"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Key         string  `json:"key"`
	Summary     string  `json:"summary"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	ReporterID  string  `json:"reporter_id"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type NotificationResponse struct {
	ID        string  `json:"id"`
	Message   string  `json:"message"`
	SenderID  string  `json:"sender_id"`
	TaskID    *string `json:"task_id,omitempty"`
	ProjectID string  `json:"project_id"`
	Read      bool    `json:"read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapMembers(items []domain.Member) []MemberResponse {
	res := make([]MemberResponse, 0, len(items))
	for _, m := range items {
		res = append(res, MemberResponse{
			UserID:   m.UserID,
			Email:    m.Email,
			FullName: m.FullName,
			Role:     string(m.Role),
			JoinedAt: m.JoinedAt,
		})
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Key:         t.Key,
		Summary:     t.Summary,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssigneeID:  t.AssigneeID,
		ReporterID:  t.ReporterID,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, NotificationResponse{
			ID:        n.ID,
			Message:   n.Message,
			SenderID:  n.SenderID,
			TaskID:    n.TaskID,
			ProjectID: n.ProjectID,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	return res
}

func mapAudit(items []domain.AuditEntry) []AuditEntryResponse {
	res := make([]AuditEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, AuditEntryResponse{
			ID:        e.ID,
			Action:    e.Action,
			TaskID:    e.TaskID,
			UserID:    e.UserID,
			CreatedAt: e.CreatedAt,
		})
	}
	return res
}
