// Package orchestrator composes the session registry, worktree
// manager, permission bridge, and event router into the user-facing
// command surface.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeffs/claudechic/internal/approval"
	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/eventlog"
	"github.com/jeffs/claudechic/internal/logging"
	"github.com/jeffs/claudechic/internal/router"
	"github.com/jeffs/claudechic/internal/session"
	"github.com/jeffs/claudechic/internal/worktree"
)

var (
	// ErrBusy means the session already has an interaction in flight.
	ErrBusy = errors.New("session is busy")
	// ErrWorktreeInUse means open sessions still reference the worktree.
	ErrWorktreeInUse = errors.New("worktree is in use")
	// ErrNoWorktrees means no worktree manager is available (not inside
	// a git repository).
	ErrNoWorktrees = errors.New("not inside a git repository")
)

// Orchestrator owns the top-level mutable state: which session is
// active, and the set of live interaction tasks.
type Orchestrator struct {
	registry  *session.Registry
	worktrees *worktree.Manager // nil outside a git repo
	bridge    *approval.Bridge
	router    *router.Router
	connector backend.Connector

	ctx    context.Context
	cancel context.CancelFunc
}

// sessionBinder is implemented by connections that tag outgoing events
// with the owning agent session's id.
type sessionBinder interface {
	BindSession(id string)
}

// New wires the core together. worktrees may be nil when the working
// directory is not a git repository; worktree commands then fail with
// ErrNoWorktrees. log may be nil to skip event recording.
// autoAllowTools configures the tool class an "allow all" decision
// covers.
func New(connector backend.Connector, worktrees *worktree.Manager, log eventlog.Log, autoAllowTools []string) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	registry := session.NewRegistry()
	bridge := approval.NewBridge(16)
	bridge.SetToolClass(autoAllowTools)
	return &Orchestrator{
		registry:  registry,
		worktrees: worktrees,
		bridge:    bridge,
		router:    router.New(registry, log),
		connector: connector,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry exposes the session registry for read paths (listing,
// lookups). Mutations go through orchestrator commands.
func (o *Orchestrator) Registry() *session.Registry { return o.registry }

// Worktrees returns the worktree manager, nil outside a git repo.
func (o *Orchestrator) Worktrees() *worktree.Manager { return o.worktrees }

// Notifications is the ordered UI-facing event stream.
func (o *Orchestrator) Notifications() <-chan router.Notification {
	return o.router.Notifications()
}

// ApprovalRequests is the UI-facing queue of pending tool decisions.
func (o *Orchestrator) ApprovalRequests() <-chan *approval.Request {
	return o.bridge.Requests()
}

// Resolve answers a pending approval request.
func (o *Orchestrator) Resolve(requestID string, d backend.Decision) error {
	return o.bridge.Resolve(requestID, d)
}

// Startup ensures at least one session exists: a default agent bound
// to dir, optionally resuming a prior conversation.
func (o *Orchestrator) Startup(dir, resumeToken string) (*session.Session, error) {
	if o.worktrees != nil {
		if err := o.worktrees.Adopt(); err != nil {
			logging.Warn("worktree adoption failed", "error", err)
		}
	}
	if len(o.registry.List()) > 0 {
		return o.registry.Active(), nil
	}
	s, err := o.NewAgent("main", dir)
	if err != nil {
		return nil, err
	}
	s.SetResumeToken(resumeToken)
	return s, nil
}

// NewAgent creates an agent session in dir and makes it active.
func (o *Orchestrator) NewAgent(name, dir string) (*session.Session, error) {
	return o.newAgent(name, dir, nil)
}

func (o *Orchestrator) newAgent(name, dir string, wt *worktree.Worktree) (*session.Session, error) {
	s, err := o.registry.Create(name, dir, wt)
	if err != nil {
		return nil, err
	}
	if err := o.registry.SetActive(s.ID); err != nil {
		return nil, err
	}
	logging.Info("agent created", "name", s.Name, "dir", dir, "session_id", s.ID)
	return s, nil
}

// CloseAgent closes the named agent, or the active one when name is
// empty. Destruction cancels any in-flight interaction and releases
// the owned connection.
func (o *Orchestrator) CloseAgent(name string) error {
	var s *session.Session
	if name == "" {
		s = o.registry.Active()
		if s == nil {
			return fmt.Errorf("%w: no active agent", session.ErrNotFound)
		}
	} else {
		s = o.registry.FindByName(name)
		if s == nil {
			return fmt.Errorf("%w: %s", session.ErrNotFound, name)
		}
	}
	return o.closeSession(s)
}

func (o *Orchestrator) closeSession(s *session.Session) error {
	conn, err := o.registry.Close(s.ID)
	if err != nil {
		return err
	}
	o.bridge.CloseSession(s.ID)
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			logging.Warn("disconnect failed", "session_id", s.ID, "error", err)
		}
	}
	logging.Info("agent closed", "name", s.Name, "session_id", s.ID)
	return nil
}

// SwitchAgent makes the named agent active.
func (o *Orchestrator) SwitchAgent(name string) (*session.Session, error) {
	s := o.registry.FindByName(name)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, name)
	}
	if err := o.registry.SetActive(s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// Send starts an interaction task for one prompt on the session. Only
// one interaction may be in flight per session; ErrBusy otherwise.
func (o *Orchestrator) Send(s *session.Session, prompt string) error {
	if !s.MarkBusy() {
		return fmt.Errorf("%w: %s", ErrBusy, s.Name)
	}
	s.ResetStream()

	conn := s.Connection()
	if conn == nil {
		// The context bounds the backend process's lifetime: it dies at
		// orchestrator shutdown or an explicit Disconnect, never on a
		// mere interaction cancel.
		newConn, err := o.connector.Connect(o.ctx, s.WorkingDirectory, s.ResumeToken())
		if err != nil {
			s.CancelInteraction()
			return fmt.Errorf("connect: %w", err)
		}
		if b, ok := newConn.(sessionBinder); ok {
			b.BindSession(s.ID)
		}
		newConn.SetApprovalFunc(o.approvalFunc(s))
		s.AdoptConnection(newConn, nil)
		conn = newConn
		// One reader per connection, for the connection's lifetime. A
		// second reader on the same stream would race the first for
		// events and break per-session ordering.
		go o.interact(s, conn)
	}

	if err := conn.SendPrompt(prompt); err != nil {
		s.CancelInteraction()
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}

// approvalFunc bridges the connection's synchronous callback into the
// permission queue, flipping the session through needs_input while the
// decision is pending. Interaction cancel and session close unblock it
// through DenyPending/CloseSession rather than context cancellation.
func (o *Orchestrator) approvalFunc(s *session.Session) backend.ApprovalFunc {
	return func(toolID, toolName string, input json.RawMessage) backend.Decision {
		s.MarkNeedsInput()
		d := o.bridge.RequestApproval(o.ctx, s.ID, toolName, input)
		s.MarkResumed()
		return d
	}
}

// interact is the connection's reader task: it drains the event
// stream for as long as the connection lives, routing every event.
// Stale events from a cancelled interaction are rejected by the
// router's liveness check, so cancellation never needs to unwind this
// goroutine mid-stream.
func (o *Orchestrator) interact(s *session.Session, conn backend.Connection) {
	for ev := range conn.Events() {
		o.router.Dispatch(ev)
		if ev.Kind == backend.EventResponseComplete || ev.Kind == backend.EventError {
			s.SetResumeToken(conn.SessionID())
		}
	}
	// Stream closed: the backend died or was disconnected. Report it as
	// a failure of the in-flight interaction, if any; the session
	// survives and the next Send reconnects with the resume token.
	o.router.Dispatch(backend.Event{
		Kind:      backend.EventError,
		SessionID: s.ID,
		Text:      "backend connection lost",
		Timestamp: time.Now(),
	})
	if prev := s.AdoptConnection(nil, nil); prev != nil {
		prev.Disconnect()
	}
}

// CancelInteraction interrupts the session's in-flight prompt without
// closing the session. Pending approvals resolve as deny.
func (o *Orchestrator) CancelInteraction(s *session.Session) {
	o.bridge.DenyPending(s.ID)
	if conn := s.Connection(); conn != nil {
		if err := conn.Cancel(); err != nil {
			logging.Warn("cancel failed", "session_id", s.ID, "error", err)
		}
	}
	s.CancelInteraction()
}

// CreateWorktree creates a worktree branched off the main checkout's
// current branch and a bound agent session, and switches to it.
func (o *Orchestrator) CreateWorktree(name string) (*session.Session, error) {
	if o.worktrees == nil {
		return nil, ErrNoWorktrees
	}
	base, err := o.worktrees.CurrentBranch()
	if err != nil {
		return nil, err
	}
	wt, err := o.worktrees.Create(name, base)
	if err != nil {
		return nil, err
	}
	return o.newAgent(name, wt.DirectoryPath, wt)
}

// SwitchWorktree switches to the named worktree's bound agent,
// creating one when none is open. Unknown names are created fresh
// (create-or-switch).
func (o *Orchestrator) SwitchWorktree(name string) (*session.Session, error) {
	if o.worktrees == nil {
		return nil, ErrNoWorktrees
	}
	wt, err := o.worktrees.Switch(name)
	if errors.Is(err, worktree.ErrNotFound) {
		return o.CreateWorktree(name)
	}
	if err != nil {
		return nil, err
	}
	if existing := o.registry.ReferencingWorktree(name); len(existing) > 0 {
		if err := o.registry.SetActive(existing[0].ID); err != nil {
			return nil, err
		}
		return existing[0], nil
	}
	return o.newAgent(name, wt.DirectoryPath, wt)
}

// FinishWorktree rebases, merges, and removes the named worktree.
// Open sessions referencing it must be closed first.
func (o *Orchestrator) FinishWorktree(name string) error {
	if o.worktrees == nil {
		return ErrNoWorktrees
	}
	if refs := o.registry.ReferencingWorktree(name); len(refs) > 0 {
		return fmt.Errorf("%w: %s (%d open session(s))", ErrWorktreeInUse, name, len(refs))
	}
	return o.worktrees.Finish(name)
}

// FinishActiveWorktree finishes the worktree bound to the active
// session, closing the referencing sessions first. This is the
// user-facing `worktree finish` command; the explicit close is the
// user's stated intent.
func (o *Orchestrator) FinishActiveWorktree() error {
	s := o.registry.Active()
	if s == nil || s.Worktree == nil {
		return fmt.Errorf("%w: active session has no worktree", worktree.ErrNotFound)
	}
	name := s.Worktree.Name
	for _, ref := range o.registry.ReferencingWorktree(name) {
		if err := o.closeSession(ref); err != nil {
			return err
		}
	}
	return o.worktrees.Finish(name)
}

// CleanupWorktree forcibly removes a named worktree, or reclaims all
// stale ones when name is empty. The confirmation for the destructive
// named form belongs at the UI boundary.
func (o *Orchestrator) CleanupWorktree(name string) ([]string, error) {
	if o.worktrees == nil {
		return nil, ErrNoWorktrees
	}
	if name == "" {
		return o.worktrees.CleanupStale(), nil
	}
	if refs := o.registry.ReferencingWorktree(name); len(refs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeInUse, name)
	}
	if err := o.worktrees.Cleanup(name); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// Shutdown cancels every live connection before process exit. No
// backend process is left dangling.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.registry.List() {
		o.bridge.CloseSession(s.ID)
		s.CancelInteraction()
		if conn := s.Connection(); conn != nil {
			conn.Disconnect()
		}
	}
	o.cancel()
	logging.Info("orchestrator shut down")
}
