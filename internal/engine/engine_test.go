package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/migrate"
	"taskflow/internal/repo"
	"taskflow/internal/workflow"
	"taskflow/internal/ws"
)

type dispatchCall struct {
	Kind      domain.EventKind
	ProjectID string
	Frame     ws.Frame
}

type captureDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (d *captureDispatcher) Dispatch(_ context.Context, kind domain.EventKind, projectID string, frame ws.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{Kind: kind, ProjectID: projectID, Frame: frame})
}

func (d *captureDispatcher) last(t *testing.T) dispatchCall {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		t.Fatalf("no dispatch recorded")
	}
	return d.calls[len(d.calls)-1]
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type testEnv struct {
	Engine     engine.Engine
	Ctx        context.Context
	Dispatched *captureDispatcher

	Owner     domain.User
	Manager   domain.User
	Developer domain.User
	Tester    domain.User
	Project   domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	dispatched := &captureDispatcher{}
	eng := engine.New(conn, config.Default(), dispatched)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx, Dispatched: dispatched}
	env.Owner = env.createUser(t, "owner@example.com", domain.RoleOwner)
	env.Manager = env.createUser(t, "manager@example.com", domain.RoleManager)
	env.Developer = env.createUser(t, "dev@example.com", domain.RoleDeveloper)
	env.Tester = env.createUser(t, "qa@example.com", domain.RoleTester)

	p, err := eng.CreateProject(ctx, "Payments Platform", "test project", env.Owner.ID)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	env.Project = p
	for _, u := range []domain.User{env.Manager, env.Developer, env.Tester} {
		if err := eng.InviteMember(ctx, p.Key, u.ID, env.Owner.ID); err != nil {
			t.Fatalf("invite %s: %v", u.Email, err)
		}
	}
	return env
}

func (env testEnv) createUser(t *testing.T, email string, role domain.Role) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, email, "", role)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (env testEnv) createTask(t *testing.T, priority domain.Priority) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectKey: env.Project.Key,
		Summary:    "Do work",
		Priority:   priority,
		ActorID:    env.Manager.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) assignedTask(t *testing.T) domain.Task {
	t.Helper()
	task := env.createTask(t, domain.PriorityMedium)
	task, err := env.Engine.AssignDeveloper(env.Ctx, task.Key, env.Developer.ID, env.Manager.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return task
}

func TestCreateProjectDerivesKeyAndSeedsOwner(t *testing.T) {
	env := newTestEnv(t)
	if env.Project.Key != "PP" {
		t.Fatalf("expected key PP, got %s", env.Project.Key)
	}
	member, err := env.Engine.Repo.IsMember(env.Ctx, env.Project.ID, env.Owner.ID)
	if err != nil || !member {
		t.Fatalf("owner should be a member: %v", err)
	}
}

func TestCreateTaskGeneratesSequentialKeys(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, domain.PriorityMedium)
	second := env.createTask(t, domain.PriorityMedium)
	if first.Key != env.Project.Key+"-1" || second.Key != env.Project.Key+"-2" {
		t.Fatalf("unexpected keys %s, %s", first.Key, second.Key)
	}
	if first.Status != domain.StatusBacklog {
		t.Fatalf("expected BACKLOG, got %s", first.Status)
	}
	if first.ReporterID != env.Manager.ID {
		t.Fatalf("reporter should be the actor")
	}
}

func TestCreateTaskNotifiesOwnerAndDispatches(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, domain.PriorityMedium)

	notes, err := env.Engine.Repo.ListUnreadNotifications(env.Ctx, env.Owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || !strings.Contains(notes[0].Message, task.Key) {
		t.Fatalf("expected one owner notification mentioning %s, got %+v", task.Key, notes)
	}
	call := env.Dispatched.last(t)
	if call.Kind != domain.EventTaskCreated || call.ProjectID != env.Project.ID {
		t.Fatalf("unexpected dispatch %+v", call)
	}
	if call.Frame["task_key"] != task.Key {
		t.Fatalf("frame should carry the task key")
	}
}

func TestCreateTaskHighPriorityEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, domain.PriorityHigh)
	if call := env.Dispatched.last(t); call.Kind != domain.EventTaskCreatedHigh {
		t.Fatalf("expected task_created_high, got %s", call.Kind)
	}
}

func TestCreateTaskRequiresManager(t *testing.T) {
	env := newTestEnv(t)
	for _, actor := range []domain.User{env.Owner, env.Developer, env.Tester} {
		_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			ProjectKey: env.Project.Key,
			Summary:    "nope",
			ActorID:    actor.ID,
		})
		var fe workflow.ForbiddenError
		if !errors.As(err, &fe) {
			t.Fatalf("expected forbidden for %s, got %v", actor.Role, err)
		}
	}
}

func TestCreateTaskUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectKey: "NOPE",
		Summary:    "ghost",
		ActorID:    env.Manager.ID,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssignDeveloper(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, domain.PriorityMedium)

	task, err := env.Engine.AssignDeveloper(env.Ctx, task.Key, env.Developer.ID, env.Manager.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Status != domain.StatusTodo {
		t.Fatalf("assignment should force TODO, got %s", task.Status)
	}
	if task.AssigneeID == nil || *task.AssigneeID != env.Developer.ID {
		t.Fatalf("assignee not set")
	}
	// The developer already holds an unread invite notification from
	// project setup; assignment adds one referencing the task.
	notes, err := env.Engine.Repo.ListUnreadNotifications(env.Ctx, env.Developer.ID)
	if err != nil || len(notes) != 2 {
		t.Fatalf("expected invite and assignee notifications, got %v %v", notes, err)
	}
	assigned := 0
	for _, n := range notes {
		if n.TaskID != nil && *n.TaskID == task.ID {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("expected one notification for %s, got %d", task.Key, assigned)
	}
	if call := env.Dispatched.last(t); call.Kind != domain.EventTaskStatusChange {
		t.Fatalf("expected task_status_change, got %s", call.Kind)
	}
}

func TestAuditUsesEngineClock(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, domain.PriorityMedium)

	entries, err := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if want := "2024-01-01T00:00:00Z"; entries[0].CreatedAt != want {
		t.Fatalf("audit timestamp %s, want %s", entries[0].CreatedAt, want)
	}
	if entries[0].CreatedAt != task.CreatedAt {
		t.Fatalf("audit entry stamped %s but task %s", entries[0].CreatedAt, task.CreatedAt)
	}
}

func TestAssignDeveloperConflict(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	_, err := env.Engine.AssignDeveloper(env.Ctx, task.Key, env.Tester.ID, env.Manager.ID)
	var ae workflow.AlreadyAssignedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected already assigned, got %v", err)
	}
}

func TestAssignDeveloperRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	outsider := env.createUser(t, "outsider@example.com", domain.RoleDeveloper)
	task := env.createTask(t, domain.PriorityMedium)
	_, err := env.Engine.AssignDeveloper(env.Ctx, task.Key, outsider.ID, env.Manager.ID)
	var nm workflow.NotAMemberError
	if !errors.As(err, &nm) {
		t.Fatalf("expected not a member, got %v", err)
	}
}

func TestAssignDeveloperForbiddenForNonReporter(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, domain.PriorityMedium)
	var fe workflow.ForbiddenError
	_, err := env.Engine.AssignDeveloper(env.Ctx, task.Key, env.Developer.ID, env.Developer.ID)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for developer, got %v", err)
	}
	_, err = env.Engine.AssignDeveloper(env.Ctx, task.Key, env.Developer.ID, env.Tester.ID)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for tester, got %v", err)
	}
}

func TestMoveStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)

	task, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, env.Developer.ID)
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("to IN_PROGRESS: %v", err)
	}
	task, err = env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusReadyForTesting, env.Developer.ID)
	if err != nil || task.Status != domain.StatusReadyForTesting {
		t.Fatalf("to READY_FOR_TESTING: %v", err)
	}
	task, err = env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusDone, env.Tester.ID)
	if err != nil || task.Status != domain.StatusDone {
		t.Fatalf("to DONE: %v", err)
	}
	if call := env.Dispatched.last(t); call.Kind != domain.EventTaskAll {
		t.Fatalf("moves dispatch task_all, got %s", call.Kind)
	}

	entries, err := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("moved %s from %s to %s", task.Key, domain.StatusReadyForTesting, domain.StatusDone)
	if len(entries) == 0 || entries[0].Action != want {
		t.Fatalf("expected audit %q, got %+v", want, entries)
	}
}

func TestMoveStatusRejectionBounce(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, env.Developer.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusReadyForTesting, env.Developer.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, env.Developer.ID)
	task, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusTodo, env.Tester.ID)
	if err != nil || task.Status != domain.StatusTodo {
		t.Fatalf("rejection bounce: %v", err)
	}
	after, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, env.Developer.ID)
	if len(after) != len(before)+1 {
		t.Fatalf("bounce should notify the assignee only once, before=%d after=%d", len(before), len(after))
	}
}

func TestMoveStatusNotifiesAllMembersOnHandoff(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, env.Developer.ID); err != nil {
		t.Fatal(err)
	}
	before := map[string]int{}
	for _, u := range []domain.User{env.Owner, env.Manager, env.Developer, env.Tester} {
		notes, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, u.ID)
		before[u.ID] = len(notes)
	}
	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusReadyForTesting, env.Developer.ID); err != nil {
		t.Fatal(err)
	}
	for _, u := range []domain.User{env.Owner, env.Manager, env.Developer, env.Tester} {
		notes, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, u.ID)
		if len(notes) != before[u.ID]+1 {
			t.Fatalf("member %s should be notified on handoff", u.Email)
		}
	}
}

func TestMoveStatusInProgressNotifiesReporter(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	before, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, task.ReporterID)
	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, env.Developer.ID); err != nil {
		t.Fatal(err)
	}
	after, _ := env.Engine.Repo.ListUnreadNotifications(env.Ctx, task.ReporterID)
	if len(after) != len(before)+1 {
		t.Fatalf("reporter should be notified when work starts")
	}
}

func TestMoveStatusGuards(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)

	// Same-status move.
	_, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusTodo, env.Developer.ID)
	var it workflow.InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	// Developers may only move their own tasks.
	other := env.createUser(t, "dev2@example.com", domain.RoleDeveloper)
	if err := env.Engine.InviteMember(env.Ctx, env.Project.Key, other.ID, env.Owner.ID); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, other.ID)
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-assignee, got %v", err)
	}

	// Managers hold no move capability at all.
	_, err = env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusInProgress, env.Manager.ID)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for manager, got %v", err)
	}

	// Testers must be project members.
	strayTester := env.createUser(t, "qa2@example.com", domain.RoleTester)
	_, err = env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusDone, strayTester.ID)
	var nm workflow.NotAMemberError
	if !errors.As(err, &nm) {
		t.Fatalf("expected not a member, got %v", err)
	}
}

func TestMoveStatusDoneIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	for _, step := range []struct {
		to    domain.Status
		actor string
	}{
		{domain.StatusInProgress, env.Developer.ID},
		{domain.StatusReadyForTesting, env.Developer.ID},
		{domain.StatusDone, env.Tester.ID},
	} {
		if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, step.to, step.actor); err != nil {
			t.Fatal(err)
		}
	}
	for _, to := range []domain.Status{domain.StatusTodo, domain.StatusInProgress, domain.StatusReadyForTesting} {
		_, err := env.Engine.MoveStatus(env.Ctx, task.Key, to, env.Tester.ID)
		if err == nil {
			t.Fatalf("DONE must be terminal, move to %s succeeded", to)
		}
	}
}

func TestMoveStatusBacklogNeedsAssignment(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, domain.PriorityMedium)
	_, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusTodo, env.Tester.ID)
	if err == nil {
		t.Fatalf("BACKLOG must only be left via assignment")
	}
	got, err := env.Engine.Repo.GetTaskByKey(env.Ctx, task.Key)
	if err != nil || got.Status != domain.StatusBacklog {
		t.Fatalf("rejected move must not change status: %v %s", err, got.Status)
	}
}

func TestRejectedMoveLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	task := env.assignedTask(t)
	audits, _ := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{TaskID: task.ID})
	dispatches := env.Dispatched.count()

	if _, err := env.Engine.MoveStatus(env.Ctx, task.Key, domain.StatusDone, env.Developer.ID); err == nil {
		t.Fatalf("expected rejection")
	}

	after, _ := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{TaskID: task.ID})
	if len(after) != len(audits) {
		t.Fatalf("rejected move must not write audit entries")
	}
	if env.Dispatched.count() != dispatches {
		t.Fatalf("rejected move must not dispatch")
	}
}

func TestInviteRules(t *testing.T) {
	env := newTestEnv(t)

	// Non-owner cannot invite.
	stray := env.createUser(t, "extra@example.com", domain.RoleDeveloper)
	err := env.Engine.InviteMember(env.Ctx, env.Project.Key, stray.ID, env.Manager.ID)
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Owner-role users cannot be invited.
	secondOwner := env.createUser(t, "owner2@example.com", domain.RoleOwner)
	if err := env.Engine.InviteMember(env.Ctx, env.Project.Key, secondOwner.ID, env.Owner.ID); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for owner invitee, got %v", err)
	}

	// Existing members are rejected.
	if err := env.Engine.InviteMember(env.Ctx, env.Project.Key, env.Developer.ID, env.Owner.ID); err == nil {
		t.Fatalf("expected duplicate member rejection")
	}
}

func TestKickRules(t *testing.T) {
	env := newTestEnv(t)

	var fe workflow.ForbiddenError
	if err := env.Engine.KickMember(env.Ctx, env.Project.Key, env.Owner.ID, env.Owner.ID); !errors.As(err, &fe) {
		t.Fatalf("owner must not be removable, got %v", err)
	}
	if err := env.Engine.KickMember(env.Ctx, env.Project.Key, env.Developer.ID, env.Owner.ID); err != nil {
		t.Fatalf("kick: %v", err)
	}
	var nm workflow.NotAMemberError
	if err := env.Engine.KickMember(env.Ctx, env.Project.Key, env.Developer.ID, env.Owner.ID); !errors.As(err, &nm) {
		t.Fatalf("expected not a member on double kick, got %v", err)
	}
}
