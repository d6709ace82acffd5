package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

type roster struct {
	owner, manager, dev, tester *fakeConn
}

func newRoster(reg *Registry, projectID string) roster {
	r := roster{owner: &fakeConn{}, manager: &fakeConn{}, dev: &fakeConn{}, tester: &fakeConn{}}
	reg.Connect(r.owner, projectID+"-owner", domain.RoleOwner, []string{projectID})
	reg.Connect(r.manager, projectID+"-manager", domain.RoleManager, []string{projectID})
	reg.Connect(r.dev, projectID+"-dev", domain.RoleDeveloper, []string{projectID})
	reg.Connect(r.tester, projectID+"-tester", domain.RoleTester, []string{projectID})
	return r
}

func (r roster) counts() [4]int {
	return [4]int{len(r.owner.received()), len(r.manager.received()), len(r.dev.received()), len(r.tester.received())}
}

func TestDispatchVisibility(t *testing.T) {
	cases := []struct {
		kind domain.EventKind
		want [4]int // owner, manager, dev, tester
	}{
		{domain.EventTaskCreated, [4]int{0, 0, 1, 1}},
		{domain.EventTaskStatusChange, [4]int{0, 1, 1, 0}},
		{domain.EventTaskMoveReady, [4]int{0, 0, 0, 1}},
		{domain.EventTaskRejected, [4]int{0, 0, 1, 0}},
		{domain.EventTaskCreatedHigh, [4]int{1, 1, 1, 1}},
		{domain.EventTaskAll, [4]int{1, 1, 1, 1}},
	}
	for _, c := range cases {
		t.Run(string(c.kind), func(t *testing.T) {
			reg := NewRegistry(time.Second, nil)
			d := NewDispatcher(reg, nil)
			r := newRoster(reg, "p1")

			d.Dispatch(context.Background(), c.kind, "p1", Frame{"task_key": "P1-1"})
			assert.Equal(t, c.want, r.counts())
		})
	}
}

func TestDispatchStampsKind(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	d := NewDispatcher(reg, nil)
	r := newRoster(reg, "p1")

	d.Dispatch(context.Background(), domain.EventTaskAll, "p1", Frame{"task_key": "P1-7"})

	frames := r.dev.received()
	require.Len(t, frames, 1)
	assert.Equal(t, "task_all", frames[0]["type"])
	assert.Equal(t, "P1-7", frames[0]["task_key"])
}

func TestDispatchScopedToProject(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	d := NewDispatcher(reg, nil)
	p1 := newRoster(reg, "p1")
	p2 := newRoster(reg, "p2")

	d.Dispatch(context.Background(), domain.EventTaskAll, "p1", Frame{})

	assert.Equal(t, [4]int{1, 1, 1, 1}, p1.counts())
	assert.Equal(t, [4]int{0, 0, 0, 0}, p2.counts())
}

func TestDispatchUnknownKindDropped(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	d := NewDispatcher(reg, nil)
	r := newRoster(reg, "p1")

	d.Dispatch(context.Background(), domain.EventKind("task_exploded"), "p1", Frame{})
	assert.Equal(t, [4]int{0, 0, 0, 0}, r.counts())
}

func TestDispatchNilFrame(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	d := NewDispatcher(reg, nil)
	r := newRoster(reg, "p1")

	d.Dispatch(context.Background(), domain.EventTaskAll, "p1", nil)

	frames := r.tester.received()
	require.Len(t, frames, 1)
	assert.Equal(t, "task_all", frames[0]["type"])
}
