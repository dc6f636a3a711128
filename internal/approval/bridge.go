// Package approval bridges a backend's synchronous "may this tool
// run?" callback into a queued decision a human answers from the UI.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeffs/claudechic/internal/backend"
)

// ErrNotFound means the request is absent or already resolved.
var ErrNotFound = errors.New("approval request not found")

// Request is a pending tool-approval decision. It blocks only the
// interaction task that produced it, never the scheduler.
type Request struct {
	ID        string
	SessionID string
	ToolName  string
	ToolInput json.RawMessage
	CreatedAt time.Time

	decided chan backend.Decision
	once    sync.Once
}

// resolve delivers the decision exactly once.
func (r *Request) resolve(d backend.Decision) {
	r.once.Do(func() {
		r.decided <- d
		close(r.decided)
	})
}

// Bridge converts approval callbacks into queued requests and standing
// auto-allow rules. Safe for concurrent use by many interaction tasks.
type Bridge struct {
	mu        sync.Mutex
	pending   map[string]*Request
	bySession map[string]map[string]*Request
	autoAllow map[string]map[string]bool // sessionID -> tool name

	// toolClass groups tool names that an AllowAll decision covers as a
	// unit: allowing all edits for "Edit" also covers "Write" etc.
	toolClass map[string]bool

	requests chan *Request
}

// NewBridge returns a bridge whose request queue holds up to backlog
// unanswered requests before Request blocks publishing.
func NewBridge(backlog int) *Bridge {
	if backlog <= 0 {
		backlog = 16
	}
	return &Bridge{
		pending:   make(map[string]*Request),
		bySession: make(map[string]map[string]*Request),
		autoAllow: make(map[string]map[string]bool),
		toolClass: make(map[string]bool),
		requests:  make(chan *Request, backlog),
	}
}

// SetToolClass configures tool names treated as one class. When an
// AllowAll decision lands on a member, the standing rule covers every
// member, not just the tool that prompted.
func (b *Bridge) SetToolClass(tools []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolClass = make(map[string]bool, len(tools))
	for _, t := range tools {
		b.toolClass[t] = true
	}
}

// Requests is the UI-facing queue of pending decisions.
func (b *Bridge) Requests() <-chan *Request {
	return b.requests
}

// RequestApproval suspends the caller until a decision arrives or ctx
// is cancelled (session closed), which resolves as Deny so the backend
// is never blocked forever. A standing auto-allow rule for the
// (session, tool) pairing resolves instantly without creating a
// pending entry.
func (b *Bridge) RequestApproval(ctx context.Context, sessionID, toolName string, toolInput json.RawMessage) backend.Decision {
	b.mu.Lock()
	if b.autoAllow[sessionID][toolName] {
		b.mu.Unlock()
		return backend.Allow
	}

	req := &Request{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ToolName:  toolName,
		ToolInput: toolInput,
		CreatedAt: time.Now(),
		decided:   make(chan backend.Decision, 1),
	}
	b.pending[req.ID] = req
	if b.bySession[sessionID] == nil {
		b.bySession[sessionID] = make(map[string]*Request)
	}
	b.bySession[sessionID][req.ID] = req
	b.mu.Unlock()

	select {
	case b.requests <- req:
	case <-ctx.Done():
		b.drop(req)
		return backend.Deny
	}

	select {
	case d := <-req.decided:
		if d == backend.AllowAll {
			b.recordAutoAllow(sessionID, toolName)
			return backend.Allow
		}
		return d
	case <-ctx.Done():
		b.drop(req)
		return backend.Deny
	}
}

// Resolve records a decision and releases the suspended caller. Fails
// with ErrNotFound when the request is unknown or already resolved.
func (b *Bridge) Resolve(requestID string, d backend.Decision) error {
	b.mu.Lock()
	req, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
		delete(b.bySession[req.SessionID], requestID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	req.resolve(d)
	return nil
}

// Pending returns the open request count for a session.
func (b *Bridge) Pending(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bySession[sessionID])
}

// DenyPending denies every pending request for a session without
// touching its auto-allow rules. Used when an interaction is cancelled
// but the session stays open.
func (b *Bridge) DenyPending(sessionID string) {
	b.mu.Lock()
	reqs := b.bySession[sessionID]
	delete(b.bySession, sessionID)
	for id := range reqs {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	for _, req := range reqs {
		req.resolve(backend.Deny)
	}
}

// CloseSession denies every pending request for the session and drops
// its auto-allow rules.
func (b *Bridge) CloseSession(sessionID string) {
	b.mu.Lock()
	reqs := b.bySession[sessionID]
	delete(b.bySession, sessionID)
	delete(b.autoAllow, sessionID)
	for id := range reqs {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	for _, req := range reqs {
		req.resolve(backend.Deny)
	}
}

func (b *Bridge) recordAutoAllow(sessionID, toolName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.autoAllow[sessionID] == nil {
		b.autoAllow[sessionID] = make(map[string]bool)
	}
	b.autoAllow[sessionID][toolName] = true
	if b.toolClass[toolName] {
		for t := range b.toolClass {
			b.autoAllow[sessionID][t] = true
		}
	}
}

func (b *Bridge) drop(req *Request) {
	b.mu.Lock()
	delete(b.pending, req.ID)
	delete(b.bySession[req.SessionID], req.ID)
	b.mu.Unlock()
	req.resolve(backend.Deny)
}
