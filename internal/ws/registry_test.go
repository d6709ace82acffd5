package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	fail    bool
	block   bool
	sending chan struct{}
	gate    chan struct{}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.gate != nil {
		c.sending <- struct{}{}
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("peer gone")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, data := range c.frames {
		var f Frame
		if err := json.Unmarshal(data, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestConnectReplacesExisting(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	first := &fakeConn{}
	second := &fakeConn{}

	reg.Connect(first, "u1", domain.RoleDeveloper, []string{"p1"})
	reg.Connect(second, "u1", domain.RoleDeveloper, []string{"p1"})

	assert.True(t, first.isClosed())
	assert.True(t, reg.Connected("u1"))

	reg.SendToAllMembers(context.Background(), "p1", Frame{"n": 1})
	assert.Empty(t, first.received())
	require.Len(t, second.received(), 1)
}

func TestDisconnectIdempotent(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	conn := &fakeConn{}
	reg.Connect(conn, "u1", domain.RoleTester, []string{"p1", "p2"})

	reg.Disconnect("u1")
	assert.True(t, conn.isClosed())
	assert.False(t, reg.Connected("u1"))

	reg.Disconnect("u1")
	reg.Disconnect("never-connected")
}

func TestSendToRolesFilters(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	dev := &fakeConn{}
	tester := &fakeConn{}
	manager := &fakeConn{}
	outsider := &fakeConn{}

	reg.Connect(dev, "dev", domain.RoleDeveloper, []string{"p1"})
	reg.Connect(tester, "tester", domain.RoleTester, []string{"p1"})
	reg.Connect(manager, "manager", domain.RoleManager, []string{"p1"})
	reg.Connect(outsider, "outsider", domain.RoleDeveloper, []string{"p2"})

	reg.SendToRoles(context.Background(), "p1", Frame{"n": 1}, domain.RoleDeveloper, domain.RoleTester)

	assert.Len(t, dev.received(), 1)
	assert.Len(t, tester.received(), 1)
	assert.Empty(t, manager.received())
	assert.Empty(t, outsider.received())
}

func TestFailedSendDisconnectsOnlyThatRecipient(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	healthy := &fakeConn{}
	broken := &fakeConn{fail: true}

	reg.Connect(healthy, "ok", domain.RoleDeveloper, []string{"p1"})
	reg.Connect(broken, "bad", domain.RoleDeveloper, []string{"p1"})

	reg.SendToAllMembers(context.Background(), "p1", Frame{"n": 1})

	assert.Len(t, healthy.received(), 1)
	assert.True(t, reg.Connected("ok"))
	assert.False(t, reg.Connected("bad"))
	assert.True(t, broken.isClosed())
}

func TestReconnectDuringFailedSendKeepsFreshConnection(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	stale := &fakeConn{fail: true, sending: make(chan struct{}), gate: make(chan struct{})}
	fresh := &fakeConn{}

	reg.Connect(stale, "u1", domain.RoleDeveloper, []string{"p1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.SendToAllMembers(context.Background(), "p1", Frame{"n": 1})
	}()

	// Reconnect while the stale connection's send is still in flight,
	// then let that send fail.
	<-stale.sending
	reg.Connect(fresh, "u1", domain.RoleDeveloper, []string{"p1"})
	close(stale.gate)
	<-done

	assert.True(t, stale.isClosed())
	assert.False(t, fresh.isClosed())
	assert.True(t, reg.Connected("u1"))

	reg.SendToAllMembers(context.Background(), "p1", Frame{"n": 2})
	require.Len(t, fresh.received(), 1)
}

func TestSlowPeerTimesOutWithoutBlockingOthers(t *testing.T) {
	reg := NewRegistry(50*time.Millisecond, nil)
	fast := &fakeConn{}
	slow := &fakeConn{block: true}

	reg.Connect(fast, "fast", domain.RoleTester, []string{"p1"})
	reg.Connect(slow, "slow", domain.RoleTester, []string{"p1"})

	start := time.Now()
	reg.SendToAllMembers(context.Background(), "p1", Frame{"n": 1})
	assert.Less(t, time.Since(start), time.Second)

	assert.Len(t, fast.received(), 1)
	assert.False(t, reg.Connected("slow"))
}

func TestSendToEmptyProjectIsNoop(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	reg.SendToAllMembers(context.Background(), "missing", Frame{"n": 1})
}

func TestShutdownClosesEveryone(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		reg.Connect(conns[i], fmt.Sprintf("u%d", i), domain.RoleDeveloper, []string{"p1"})
	}
	reg.Shutdown()
	for i, c := range conns {
		assert.True(t, c.isClosed(), "conn %d", i)
		assert.False(t, reg.Connected(fmt.Sprintf("u%d", i)))
	}
}

func TestConcurrentChurn(t *testing.T) {
	reg := NewRegistry(time.Second, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%5)
			for j := 0; j < 50; j++ {
				reg.Connect(&fakeConn{}, id, domain.RoleDeveloper, []string{"p1"})
				reg.SendToAllMembers(context.Background(), "p1", Frame{"n": j})
				reg.Disconnect(id)
			}
		}(i)
	}
	wg.Wait()
}
