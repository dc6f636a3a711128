// Package eventlog records the backend events routed to each session,
// for debugging and replay after crashes. It is not a conversation
// store; the backend persists conversations itself.
package eventlog

import (
	"sync"

	"github.com/jeffs/claudechic/internal/backend"
)

// Log is an append-only per-session record of routed events.
type Log interface {
	// Append stores one event. Routing never depends on the result;
	// failures are reported but not fatal to the caller.
	Append(ev backend.Event) error

	// Read returns the most recent events for a session, oldest first,
	// at most limit entries (limit <= 0 means all retained).
	Read(sessionID string, limit int) ([]backend.Event, error)

	Close() error
}

// memoryLog retains a bounded window of events per session. Used in
// tests and as a fallback when the SQLite log cannot be opened.
type memoryLog struct {
	mu     sync.Mutex
	max    int
	events map[string][]backend.Event
}

// NewMemory returns an in-memory log retaining at most max events per
// session (0 means 1000).
func NewMemory(max int) Log {
	if max <= 0 {
		max = 1000
	}
	return &memoryLog{max: max, events: make(map[string][]backend.Event)}
}

func (m *memoryLog) Append(ev backend.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := append(m.events[ev.SessionID], ev)
	if len(evs) > m.max {
		evs = evs[len(evs)-m.max:]
	}
	m.events[ev.SessionID] = evs
	return nil
}

func (m *memoryLog) Read(sessionID string, limit int) ([]backend.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[sessionID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]backend.Event, len(evs))
	copy(out, evs)
	return out, nil
}

func (m *memoryLog) Close() error { return nil }
