// Package ws implements the realtime layer: a connection registry that
// tracks at most one live connection per user, and a dispatcher that
// routes event frames to role-filtered project rosters.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/metrics"
)

// Conn is a live client connection. Send must respect ctx cancellation;
// the registry bounds every send with a timeout so a dead peer cannot
// stall delivery to the others.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Frame is the JSON payload delivered to clients.
type Frame map[string]any

const defaultSendTimeout = 5 * time.Second

// Registry tracks live connections and project rosters. All roster
// state is guarded by mu; deliveries happen outside the lock against a
// snapshot so a slow send never blocks connect/disconnect.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]Conn
	rosters map[string]map[string]domain.Role

	sendTimeout time.Duration
	metrics     *metrics.Collector
}

func NewRegistry(sendTimeout time.Duration, mc *metrics.Collector) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if mc == nil {
		mc = metrics.NewCollector()
	}
	return &Registry{
		conns:       make(map[string]Conn),
		rosters:     make(map[string]map[string]domain.Role),
		sendTimeout: sendTimeout,
		metrics:     mc,
	}
}

// Connect registers conn for userID in every listed project. A user
// already connected is implicitly disconnected first: the old
// connection is closed and dropped from every roster before the new one
// is recorded, all under one lock acquisition.
func (r *Registry) Connect(conn Conn, userID string, role domain.Role, projectIDs []string) {
	r.mu.Lock()
	old, replaced := r.conns[userID]
	if replaced {
		r.dropLocked(userID)
	}
	r.conns[userID] = conn
	for _, pid := range projectIDs {
		roster := r.rosters[pid]
		if roster == nil {
			roster = make(map[string]domain.Role)
			r.rosters[pid] = roster
		}
		roster[userID] = role
	}
	r.mu.Unlock()

	if replaced {
		old.Close()
		r.metrics.ConnectionClosed()
	}
	r.metrics.ConnectionOpened()
}

// Disconnect removes userID from every roster and closes its
// connection. Unknown users are a no-op, so racing disconnects (read
// loop exit vs failed send) are safe.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		r.dropLocked(userID)
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
		r.metrics.ConnectionClosed()
	}
}

// dropIfCurrent removes userID only when conn is still its registered
// connection. A stale conn (the user reconnected since the caller took
// its snapshot) is closed without touching the fresh one's rosters.
func (r *Registry) dropIfCurrent(userID string, conn Conn) {
	r.mu.Lock()
	current := r.conns[userID] == conn
	if current {
		r.dropLocked(userID)
	}
	r.mu.Unlock()

	conn.Close()
	if current {
		r.metrics.ConnectionClosed()
	}
}

func (r *Registry) dropLocked(userID string) {
	delete(r.conns, userID)
	for pid, roster := range r.rosters {
		delete(roster, userID)
		if len(roster) == 0 {
			delete(r.rosters, pid)
		}
	}
}

// Connected reports whether userID has a live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// SendToRoles delivers frame to every connected member of projectID
// whose role is in roles.
func (r *Registry) SendToRoles(ctx context.Context, projectID string, frame Frame, roles ...domain.Role) {
	r.deliver(ctx, r.snapshot(projectID, roles), frame)
}

// SendToAllMembers delivers frame to every connected member of
// projectID regardless of role.
func (r *Registry) SendToAllMembers(ctx context.Context, projectID string, frame Frame) {
	r.deliver(ctx, r.snapshot(projectID, nil), frame)
}

type recipient struct {
	userID string
	conn   Conn
}

// snapshot collects matching recipients under the lock. A nil role set
// matches everyone.
func (r *Registry) snapshot(projectID string, roles []domain.Role) []recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	roster := r.rosters[projectID]
	if len(roster) == 0 {
		return nil
	}
	var out []recipient
	for userID, role := range roster {
		if roles != nil && !roleIn(role, roles) {
			continue
		}
		if conn, ok := r.conns[userID]; ok {
			out = append(out, recipient{userID: userID, conn: conn})
		}
	}
	return out
}

func roleIn(role domain.Role, roles []domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// deliver marshals frame once and sends it to each recipient in its own
// goroutine with a per-send timeout. A failed send disconnects that
// recipient only; the rest are unaffected.
func (r *Registry) deliver(ctx context.Context, recipients []recipient, frame Frame) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("ws: marshal frame: %v", err)
		return
	}
	var wg sync.WaitGroup
	for _, rc := range recipients {
		wg.Add(1)
		go func(rc recipient) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			if err := rc.conn.Send(sendCtx, data); err != nil {
				log.Printf("ws: send to %s failed: %v", rc.userID, err)
				r.metrics.DeliveryFailed()
				r.dropIfCurrent(rc.userID, rc.conn)
				return
			}
			r.metrics.FrameSent()
		}(rc)
	}
	wg.Wait()
}

// Shutdown disconnects every live connection.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		conns[id] = c
	}
	r.mu.Unlock()

	for id := range conns {
		r.Disconnect(id)
	}
}
