package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"taskflow/internal/audit"
	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/repo"
	"taskflow/internal/workflow"
	"taskflow/internal/ws"
)

// Engine coordinates workflow operations: it validates, persists the
// mutation with its audit entry and notifications in one transaction,
// and announces the committed result to connected clients. Broadcast is
// best-effort and never rolls back a commit.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Audit      audit.Writer
	Dispatcher Dispatcher
	Config     *config.Config
	Now        func() time.Time
}

// Dispatcher announces committed mutations. Nil-safe via NopDispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind domain.EventKind, projectID string, frame ws.Frame)
}

// NopDispatcher drops every frame. The CLI uses it for local commands.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, domain.EventKind, string, ws.Frame) {}

func New(db *sql.DB, cfg *config.Config, d Dispatcher) Engine {
	if d == nil {
		d = NopDispatcher{}
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Audit:      audit.Writer{DB: db},
		Dispatcher: d,
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// audit returns the writer stamped with the engine's clock so audit
// rows carry the same timestamps as the rows they describe.
func (e Engine) audit() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) actor(ctx context.Context, actorID string) (domain.User, error) {
	if actorID == "" {
		return domain.User{}, errors.New("actor required")
	}
	u, err := e.Repo.GetUser(ctx, actorID)
	if err != nil {
		return domain.User{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if !u.Active {
		return domain.User{}, fmt.Errorf("actor %s is deactivated", actorID)
	}
	return u, nil
}

// CreateUser registers a user with a fixed role.
func (e Engine) CreateUser(ctx context.Context, email, fullName string, role domain.Role) (domain.User, error) {
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("unknown role %q", role)
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  fullName,
		Role:      role,
		Active:    true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateProject creates a project owned by the actor, who becomes its
// first member. The key is derived from the name.
func (e Engine) CreateProject(ctx context.Context, name, description, actorID string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	owner, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	key, err := e.uniqueProjectKey(ctx, name)
	if err != nil {
		return domain.Project{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          uuid.NewString(),
		Key:         key,
		Name:        name,
		Description: description,
		OwnerID:     owner.ID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.InsertMember(ctx, tx, domain.ProjectMember{ProjectID: p.ID, UserID: owner.ID, JoinedAt: now}); err != nil {
		return domain.Project{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// uniqueProjectKey derives a key from the project name and suffixes a
// counter on collision.
func (e Engine) uniqueProjectKey(ctx context.Context, name string) (string, error) {
	base := deriveKey(name)
	key := base
	for i := 2; ; i++ {
		exists, err := e.Repo.ProjectKeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
		key = fmt.Sprintf("%s%d", base, i)
		if len(key) > 10 {
			key = fmt.Sprintf("%s%d", base[:10-len(fmt.Sprint(i))], i)
		}
	}
}

// deriveKey uppercases the initials of the name's words; single-word
// names contribute their leading letters instead. Keys are at most 10
// characters.
func deriveKey(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
	}
	key := b.String()
	if len(key) < 2 {
		key = ""
		for _, r := range strings.ToUpper(name) {
			if r >= 'A' && r <= 'Z' {
				key += string(r)
			}
			if len(key) == 3 {
				break
			}
		}
	}
	if key == "" {
		key = "PRJ"
	}
	if len(key) > 10 {
		key = key[:10]
	}
	return key
}

// InviteMember adds a user to the project roster. Owner only; invitees
// holding the owner role or already on the roster are rejected.
func (e Engine) InviteMember(ctx context.Context, projectKey, userID, actorID string) error {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return fmt.Errorf("project %s: %w", projectKey, err)
	}
	if p.OwnerID != actor.ID {
		return workflow.ForbiddenError{Op: workflow.OpInviteMember, Reason: "only the project owner may invite"}
	}
	invitee, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	if invitee.Role == domain.RoleOwner {
		return workflow.ForbiddenError{Op: workflow.OpInviteMember, Reason: "owner-role users cannot be invited"}
	}
	member, err := e.Repo.IsMember(ctx, p.ID, invitee.ID)
	if err != nil {
		return err
	}
	if member {
		return fmt.Errorf("user %s is already a member of %s", invitee.ID, p.Key)
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMember(ctx, tx, domain.ProjectMember{ProjectID: p.ID, UserID: invitee.ID, JoinedAt: now}); err != nil {
		return err
	}
	if err := e.notify(ctx, tx, fmt.Sprintf("You have been added to project %s", p.Name), invitee.ID, actor.ID, nil, p.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// KickMember removes a user from the roster. Owner only; the owner
// cannot be removed.
func (e Engine) KickMember(ctx context.Context, projectKey, userID, actorID string) error {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProjectByKey(ctx, projectKey)
	if err != nil {
		return fmt.Errorf("project %s: %w", projectKey, err)
	}
	if p.OwnerID != actor.ID {
		return workflow.ForbiddenError{Op: workflow.OpKickMember, Reason: "only the project owner may remove members"}
	}
	if userID == p.OwnerID {
		return workflow.ForbiddenError{Op: workflow.OpKickMember, Reason: "the project owner cannot be removed"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RemoveMember(ctx, tx, p.ID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return workflow.NotAMemberError{UserID: userID, ProjectKey: p.Key}
		}
		return err
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectKey  string
	Summary     string
	Description string
	Priority    domain.Priority
	DueDate     string
	ActorID     string
}

// CreateTask creates a task in BACKLOG with a generated key. Managers
// only. The project owner is notified; connected clients receive a
// creation event, escalated to every member for high priority.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Summary == "" {
		return domain.Task{}, errors.New("summary is required")
	}
	if opts.ProjectKey == "" {
		return domain.Task{}, errors.New("project is required")
	}
	actor, err := e.actor(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	if !workflow.Allowed(workflow.OpCreateTask, actor.Role) {
		return domain.Task{}, workflow.ForbiddenError{Op: workflow.OpCreateTask, Reason: fmt.Sprintf("role %s may not create tasks", actor.Role)}
	}
	p, err := e.Repo.GetProjectByKey(ctx, opts.ProjectKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectKey, err)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("unknown priority %q", opts.Priority)
	}

	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          uuid.NewString(),
		ProjectID:   p.ID,
		Summary:     opts.Summary,
		Description: opts.Description,
		Status:      domain.StatusBacklog,
		Priority:    opts.Priority,
		ReporterID:  actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DueDate != "" {
		t.DueDate = &opts.DueDate
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	count, err := e.Repo.CountTasks(ctx, tx, p.ID)
	if err != nil {
		return domain.Task{}, err
	}
	t.Key = fmt.Sprintf("%s-%d", p.Key, count+1)

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.audit().Append(ctx, tx, fmt.Sprintf("created task %s", t.Key), t.ID, actor.ID); err != nil {
		return domain.Task{}, err
	}
	if err := e.notify(ctx, tx, fmt.Sprintf("New task %s created in project %s", t.Key, p.Name), p.OwnerID, actor.ID, &t.ID, p.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	kind := domain.EventTaskCreated
	if t.Priority == domain.PriorityHigh {
		kind = domain.EventTaskCreatedHigh
	}
	e.Dispatcher.Dispatch(ctx, kind, p.ID, taskFrame(t))
	return t, nil
}

// AssignDeveloper sets the task's assignee and forces its status to
// TODO. Allowed for managers, admins, owners and the task's reporter.
func (e Engine) AssignDeveloper(ctx context.Context, taskKey, assigneeID, actorID string) (domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskByKey(ctx, taskKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskKey, err)
	}
	if !workflow.Allowed(workflow.OpAssignDeveloper, actor.Role) && actor.ID != t.ReporterID {
		return domain.Task{}, workflow.ForbiddenError{Op: workflow.OpAssignDeveloper, Reason: fmt.Sprintf("role %s may not assign tasks it did not report", actor.Role)}
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	assignee, err := e.Repo.GetUser(ctx, assigneeID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("user %s: %w", assigneeID, err)
	}
	member, err := e.Repo.IsMember(ctx, p.ID, assignee.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if !member {
		return domain.Task{}, workflow.NotAMemberError{UserID: assignee.ID, ProjectKey: p.Key}
	}
	if t.AssigneeID != nil {
		return domain.Task{}, workflow.AlreadyAssignedError{TaskKey: t.Key}
	}

	t.AssigneeID = &assignee.ID
	t.Status = domain.StatusTodo
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.audit().Append(ctx, tx, fmt.Sprintf("assigned task %s to %s", t.Key, assignee.Email), t.ID, actor.ID); err != nil {
		return domain.Task{}, err
	}
	if err := e.notify(ctx, tx, fmt.Sprintf("You have been assigned to task %s", t.Key), assignee.ID, actor.ID, &t.ID, p.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	e.Dispatcher.Dispatch(ctx, domain.EventTaskStatusChange, p.ID, taskFrame(t))
	return t, nil
}

// MoveStatus moves a task through the transition table. Developers must
// be the assignee; testers must be project members. Everything is
// checked before the row is touched.
func (e Engine) MoveStatus(ctx context.Context, taskKey string, target domain.Status, actorID string) (domain.Task, error) {
	if !target.Valid() {
		return domain.Task{}, fmt.Errorf("unknown status %q", target)
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskByKey(ctx, taskKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskKey, err)
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if !workflow.Allowed(workflow.OpMoveStatus, actor.Role) {
		return domain.Task{}, workflow.ForbiddenError{Op: workflow.OpMoveStatus, Reason: fmt.Sprintf("role %s may not move tasks", actor.Role)}
	}
	switch actor.Role {
	case domain.RoleDeveloper:
		if t.AssigneeID == nil || *t.AssigneeID != actor.ID {
			return domain.Task{}, workflow.ForbiddenError{Op: workflow.OpMoveStatus, Reason: "developers may only move their own tasks"}
		}
	case domain.RoleTester:
		member, err := e.Repo.IsMember(ctx, p.ID, actor.ID)
		if err != nil {
			return domain.Task{}, err
		}
		if !member {
			return domain.Task{}, workflow.NotAMemberError{UserID: actor.ID, ProjectKey: p.Key}
		}
	}
	old := t.Status
	if !workflow.CanMove(old, target, actor.Role) {
		return domain.Task{}, workflow.InvalidTransitionError{From: old, To: target, Role: actor.Role}
	}

	t.Status = target
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.audit().Append(ctx, tx, fmt.Sprintf("moved %s from %s to %s", t.Key, old, target), t.ID, actor.ID); err != nil {
		return domain.Task{}, err
	}
	recipients, err := e.moveRecipients(ctx, t, p, target)
	if err != nil {
		return domain.Task{}, err
	}
	msg := fmt.Sprintf("Task %s moved to %s", t.Key, target)
	for _, rcpt := range recipients {
		if err := e.notify(ctx, tx, msg, rcpt, actor.ID, &t.ID, p.ID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	e.Dispatcher.Dispatch(ctx, domain.EventTaskAll, p.ID, taskFrame(t))
	return t, nil
}

// moveRecipients picks notification recipients by target status: a
// rejection bounce back to TODO pings the assignee, work starting pings
// the reporter, and the handoff statuses ping every member.
func (e Engine) moveRecipients(ctx context.Context, t domain.Task, p domain.Project, target domain.Status) ([]string, error) {
	switch target {
	case domain.StatusTodo:
		if t.AssigneeID == nil {
			return nil, nil
		}
		return []string{*t.AssigneeID}, nil
	case domain.StatusInProgress:
		return []string{t.ReporterID}, nil
	case domain.StatusReadyForTesting, domain.StatusDone:
		members, err := e.Repo.ListMembers(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		return ids, nil
	}
	return nil, nil
}

func (e Engine) notify(ctx context.Context, tx *sql.Tx, message, recipientID, senderID string, taskID *string, projectID string) error {
	n := domain.Notification{
		ID:          uuid.NewString(),
		Message:     message,
		RecipientID: recipientID,
		SenderID:    senderID,
		TaskID:      taskID,
		ProjectID:   projectID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	return e.Repo.InsertNotification(ctx, tx, n)
}

func taskFrame(t domain.Task) ws.Frame {
	frame := ws.Frame{
		"task_id":    t.ID,
		"task_key":   t.Key,
		"project_id": t.ProjectID,
		"summary":    t.Summary,
		"status":     string(t.Status),
		"priority":   string(t.Priority),
	}
	if t.AssigneeID != nil {
		frame["assignee_id"] = *t.AssigneeID
	}
	return frame
}
