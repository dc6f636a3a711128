// Package router dispatches backend events to the owning session's
// state and to the UI's notification queue.
package router

import (
	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/eventlog"
	"github.com/jeffs/claudechic/internal/logging"
	"github.com/jeffs/claudechic/internal/session"
)

// Notification is the UI-facing unit of state change: the routed event
// plus the session status after applying it.
type Notification struct {
	Event  backend.Event
	Status session.Status
}

// Router applies the status state machine and session-local interaction
// state for every event from every live connection, then forwards a
// notification in FIFO order. Events for a closed session or a
// cancelled interaction are dropped silently; a raced close or cancel
// is expected, not exceptional.
type Router struct {
	registry *session.Registry
	log      eventlog.Log
	notes    chan Notification
}

// New creates a router. log may be nil to skip event recording.
func New(registry *session.Registry, log eventlog.Log) *Router {
	return &Router{
		registry: registry,
		log:      log,
		notes:    make(chan Notification, 256),
	}
}

// Notifications is the ordered per-session stream the rendering layer
// consumes. FIFO per session holds because each session's interaction
// task calls Dispatch sequentially.
func (r *Router) Notifications() <-chan Notification {
	return r.notes
}

// Dispatch routes one event. Events for unknown sessions and events
// the session rejects as stale (leftovers from a cancelled or already
// completed interaction) are dropped without error, so they never
// corrupt the next prompt's state.
func (r *Router) Dispatch(ev backend.Event) {
	s := r.registry.Find(ev.SessionID)
	if s == nil {
		logging.Debug("dropping event for closed session", "session_id", ev.SessionID, "kind", ev.Kind.String())
		return
	}

	if !s.Apply(ev.Kind) {
		logging.Debug("dropping stale event", "session_id", ev.SessionID, "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case backend.EventStreamChunk:
		s.AppendText(ev.Text)
	case backend.EventToolStarted:
		s.OpenTool(ev.ToolID, ev.ToolName, ev.Timestamp)
	case backend.EventToolResult:
		s.CloseTool(ev.ToolID)
	case backend.EventError:
		logging.Warn("backend error event", "session_id", ev.SessionID, "error", ev.Text)
	}

	if r.log != nil {
		if err := r.log.Append(ev); err != nil {
			logging.Warn("event log append failed", "error", err)
		}
	}

	r.notes <- Notification{Event: ev, Status: s.Status()}
}
