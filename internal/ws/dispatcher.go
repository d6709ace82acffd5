package ws

import (
	"context"
	"log"

	"taskflow/internal/domain"
	"taskflow/internal/metrics"
)

// Dispatcher routes event frames to the roles each kind is visible to.
type Dispatcher struct {
	Registry *Registry
	Metrics  *metrics.Collector
}

func NewDispatcher(reg *Registry, mc *metrics.Collector) *Dispatcher {
	if mc == nil {
		mc = metrics.NewCollector()
	}
	return &Dispatcher{Registry: reg, Metrics: mc}
}

// Dispatch delivers frame to the recipients the kind prescribes. The
// kind set is closed; anything else is logged, counted and dropped
// rather than routed on a guess.
func (d *Dispatcher) Dispatch(ctx context.Context, kind domain.EventKind, projectID string, frame Frame) {
	if frame == nil {
		frame = Frame{}
	}
	frame["type"] = string(kind)

	switch kind {
	case domain.EventTaskCreated:
		d.Registry.SendToRoles(ctx, projectID, frame, domain.RoleDeveloper, domain.RoleTester)
	case domain.EventTaskStatusChange:
		d.Registry.SendToRoles(ctx, projectID, frame, domain.RoleManager, domain.RoleDeveloper)
	case domain.EventTaskMoveReady:
		d.Registry.SendToRoles(ctx, projectID, frame, domain.RoleTester)
	case domain.EventTaskRejected:
		d.Registry.SendToRoles(ctx, projectID, frame, domain.RoleDeveloper)
	case domain.EventTaskCreatedHigh, domain.EventTaskAll:
		d.Registry.SendToAllMembers(ctx, projectID, frame)
	default:
		log.Printf("ws: unknown event kind %q dropped", kind)
		d.Metrics.UnknownKind()
		return
	}
	d.Metrics.Dispatched(string(kind))
}
