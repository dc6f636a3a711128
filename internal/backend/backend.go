// Package backend defines the contract between the core and a streaming
// agent backend. The core treats everything behind Connection as opaque
// I/O: any call may block indefinitely and any call may fail with a
// transport error.
package backend

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind discriminates backend event variants. The set is closed;
// the router matches exhaustively.
type EventKind int

const (
	// EventStreamChunk carries partial assistant text.
	EventStreamChunk EventKind = iota
	// EventToolStarted marks the beginning of a tool invocation.
	EventToolStarted
	// EventToolResult carries a tool's output.
	EventToolResult
	// EventResponseComplete terminates the event sequence for one prompt.
	EventResponseComplete
	// EventError terminates the sequence with a transport or backend failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStreamChunk:
		return "stream_chunk"
	case EventToolStarted:
		return "tool_started"
	case EventToolResult:
		return "tool_result"
	case EventResponseComplete:
		return "response_complete"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one unit of backend output. SessionID identifies the owning
// agent session; events are FIFO per session, unordered across sessions.
type Event struct {
	Kind      EventKind
	SessionID string

	// Text holds assistant text for stream chunks, tool output for tool
	// results, and a human-readable message for errors.
	Text string

	// ToolID and ToolName identify a tool invocation; set on
	// EventToolStarted and EventToolResult.
	ToolID   string
	ToolName string
	// ToolInput is the opaque tool payload, set on EventToolStarted.
	ToolInput json.RawMessage

	Timestamp time.Time
}

// Decision is the outcome of a tool-approval request.
type Decision int

const (
	Deny Decision = iota
	Allow
	// AllowAll allows this invocation and suppresses future prompts for
	// the same (session, tool name) pairing.
	AllowAll
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowAll:
		return "allow_all"
	case Deny:
		return "deny"
	}
	return "deny"
}

// ApprovalFunc decides whether a tool invocation may run. The backend
// calls it synchronously and does not proceed until it returns.
type ApprovalFunc func(toolID, toolName string, input json.RawMessage) Decision

// Connection is one live backend session. A Connection is exclusively
// owned by a single agent session and never shared.
type Connection interface {
	// SessionID returns the backend's identifier for this conversation,
	// usable as a resume token once the first exchange completes.
	SessionID() string

	// SendPrompt submits user text and starts a new event sequence.
	SendPrompt(text string) error

	// Events returns the connection's event stream. The sequence for one
	// prompt is finite: it ends at EventResponseComplete or EventError and
	// restarts on the next SendPrompt. The channel closes on disconnect.
	Events() <-chan Event

	// SetApprovalFunc installs the tool-approval callback. Must be set
	// before the first SendPrompt.
	SetApprovalFunc(fn ApprovalFunc)

	// Cancel interrupts the in-flight prompt without tearing down the
	// connection.
	Cancel() error

	// Disconnect tears down the backend process/handle.
	Disconnect() error
}

// Connector opens backend connections. resumeToken may be empty for a
// fresh conversation.
type Connector interface {
	Connect(ctx context.Context, workingDirectory, resumeToken string) (Connection, error)
}
