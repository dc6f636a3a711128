// Package session holds the agent session entity model and registry.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/worktree"
)

// Status is the interaction state of an agent session. Exactly one
// status holds at any instant.
type Status int

const (
	// StatusIdle means no interaction is in flight.
	StatusIdle Status = iota
	// StatusBusy means an interaction task is processing a prompt.
	StatusBusy
	// StatusNeedsInput means an approval request is awaiting a decision.
	StatusNeedsInput
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusNeedsInput:
		return "needs_input"
	}
	return "unknown"
}

// ToolCall tracks one open tool invocation for the UI's widget map.
type ToolCall struct {
	ID      string
	Name    string
	Started time.Time
}

// Session is one running agent: a conversational context bound to a
// working directory and, exclusively, at most one backend connection.
type Session struct {
	ID               string
	Name             string
	WorkingDirectory string

	// Worktree is set iff the session runs inside a managed worktree.
	Worktree *worktree.Worktree

	mu          sync.Mutex
	status      Status
	resumeToken string
	conn        backend.Connection
	cancel      context.CancelFunc
	created     time.Time

	// Streaming interaction state, owned by the event router.
	streaming strings.Builder
	openTools map[string]*ToolCall
}

// Status returns the current interaction status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ResumeToken returns the backend session identifier, empty until the
// first successful exchange.
func (s *Session) ResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

// SetResumeToken records the backend's session identifier.
func (s *Session) SetResumeToken(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != "" {
		s.resumeToken = tok
	}
}

// Connection returns the owned backend connection, nil if none.
func (s *Session) Connection() backend.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// AdoptConnection replaces the owned connection and the cancel function
// for the interaction task that reads it. The previous connection, if
// any, is returned so the caller can disconnect it.
func (s *Session) AdoptConnection(conn backend.Connection, cancel context.CancelFunc) backend.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conn
	s.conn = conn
	s.cancel = cancel
	return prev
}

// CancelInteraction interrupts the in-flight interaction task, if any,
// and forces the session back to idle. Safe to call at any time.
func (s *Session) CancelInteraction() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.status = StatusIdle
	s.openTools = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Apply advances the status state machine for one backend event kind
// and reports whether the event belongs to a live interaction. Any
// event arriving while idle is a leftover from a cancelled or
// completed interaction and is rejected so the caller can drop it:
// busy is entered only when an interaction starts, never by a stray
// event.
func (s *Session) Apply(kind backend.EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusIdle {
		return false
	}
	switch kind {
	case backend.EventResponseComplete, backend.EventError:
		s.status = StatusIdle
		s.openTools = nil
	case backend.EventStreamChunk, backend.EventToolStarted, backend.EventToolResult:
		// A chunk arriving while needs_input means the decision was
		// supplied and processing resumed.
		s.status = StatusBusy
	}
	return true
}

// MarkBusy transitions idle -> busy when an interaction starts.
// Reports false if an interaction is already in flight.
func (s *Session) MarkBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusIdle {
		return false
	}
	s.status = StatusBusy
	return true
}

// MarkNeedsInput transitions busy -> needs_input when an approval
// callback fires. A no-op in any other state.
func (s *Session) MarkNeedsInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusBusy {
		return false
	}
	s.status = StatusNeedsInput
	return true
}

// MarkResumed transitions needs_input -> busy once a decision arrives.
func (s *Session) MarkResumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusNeedsInput {
		return false
	}
	s.status = StatusBusy
	return true
}

// AppendText accumulates streamed assistant text for the current
// response.
func (s *Session) AppendText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming.WriteString(text)
}

// ResetStream clears accumulated text at the start of a new prompt.
func (s *Session) ResetStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming.Reset()
}

// StreamedText returns the text accumulated for the current response.
func (s *Session) StreamedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming.String()
}

// OpenTool records a started tool invocation.
func (s *Session) OpenTool(id, name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openTools == nil {
		s.openTools = make(map[string]*ToolCall)
	}
	s.openTools[id] = &ToolCall{ID: id, Name: name, Started: at}
}

// CloseTool removes a tool invocation once its result arrives and
// returns the entry, nil if unknown.
func (s *Session) CloseTool(id string) *ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.openTools[id]
	delete(s.openTools, id)
	return tc
}

// OpenToolCount returns the number of tool invocations still running.
func (s *Session) OpenToolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openTools)
}
