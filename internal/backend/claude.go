package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeffs/claudechic/internal/logging"
	"github.com/jeffs/claudechic/pkg/claudecode"
)

// ClaudeConnector spawns one Claude Code CLI process per connection.
type ClaudeConnector struct {
	Model          string
	PermissionMode string
}

// Connect starts a new CLI process in workingDirectory, resuming the
// prior conversation when resumeToken is set.
func (c *ClaudeConnector) Connect(ctx context.Context, workingDirectory, resumeToken string) (Connection, error) {
	opts := &claudecode.SpawnOptions{
		WorkDir:        workingDirectory,
		Resume:         resumeToken,
		Model:          c.Model,
		PermissionMode: c.PermissionMode,
	}
	proc, err := claudecode.Spawn(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect backend: %w", err)
	}

	conn := &claudeConnection{
		// Re-tagged with the owning agent session's id via BindSession
		// before the first prompt.
		sessionID:   uuid.NewString(),
		resumeToken: resumeToken,
		proc:        proc,
		events:      make(chan Event, 100),
	}
	go conn.pump()
	return conn, nil
}

// claudeConnection adapts one CLI process to the Connection contract.
type claudeConnection struct {
	sessionID string
	proc      *claudecode.Process

	mu          sync.Mutex
	resumeToken string
	approve     ApprovalFunc

	events chan Event
}

// BindSession re-tags outgoing events with the owning agent session's
// id so the router can find it. Called once, before the first prompt.
func (c *claudeConnection) BindSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *claudeConnection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeToken
}

func (c *claudeConnection) SendPrompt(text string) error {
	return c.proc.SendUserMessage(text)
}

func (c *claudeConnection) Events() <-chan Event {
	return c.events
}

func (c *claudeConnection) SetApprovalFunc(fn ApprovalFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approve = fn
}

func (c *claudeConnection) Cancel() error {
	return c.proc.Interrupt()
}

func (c *claudeConnection) Disconnect() error {
	return c.proc.Kill()
}

// pump translates CLI events into core events. A can_use_tool control
// request blocks only this connection's pump until the approval
// callback returns, then answers the CLI so it can proceed.
func (c *claudeConnection) pump() {
	defer close(c.events)

	for ev := range c.proc.Events() {
		if ev == nil {
			continue
		}

		if ev.Type == claudecode.EventTypeSystem {
			if ev.SessionID != "" {
				c.mu.Lock()
				c.resumeToken = ev.SessionID
				c.mu.Unlock()
			}
			continue
		}

		if ev.IsPermissionRequest() {
			c.handlePermission(ev)
			continue
		}

		if out, ok := c.translate(ev); ok {
			c.events <- out
		}
	}
}

func (c *claudeConnection) handlePermission(ev *claudecode.Event) {
	c.mu.Lock()
	approve := c.approve
	c.mu.Unlock()

	decision := Deny
	if approve != nil {
		decision = approve(ev.ToolUseID, ev.Name, ev.Input)
	}

	allow := decision == Allow || decision == AllowAll
	msg := ""
	if !allow {
		msg = "User denied permission"
	}
	if err := c.proc.RespondPermission(ev.RequestID, allow, msg); err != nil {
		logging.Warn("permission response failed", "request_id", ev.RequestID, "error", err)
	}
}

func (c *claudeConnection) translate(ev *claudecode.Event) (Event, bool) {
	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()

	out := Event{SessionID: sid, Timestamp: ev.Timestamp}
	switch {
	case ev.Type == claudecode.EventTypeAssistant && ev.Content != "":
		out.Kind = EventStreamChunk
		out.Text = ev.Content
	case ev.Type == claudecode.EventTypeToolUse:
		out.Kind = EventToolStarted
		out.ToolID = ev.ToolUseID
		out.ToolName = ev.Name
		out.ToolInput = ev.Input
	case ev.Type == claudecode.EventTypeToolResult:
		out.Kind = EventToolResult
		out.ToolID = ev.ToolUseID
		out.Text = ev.Content
	case ev.IsError():
		out.Kind = EventError
		out.Text = ev.Content
	case ev.Type == claudecode.EventTypeResult:
		out.Kind = EventResponseComplete
		out.Text = ev.Content
	default:
		return Event{}, false
	}
	return out, true
}
