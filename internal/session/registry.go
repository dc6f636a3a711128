package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/worktree"
)

var (
	// ErrNotFound means the referenced session is absent.
	ErrNotFound = errors.New("session not found")
	// ErrNameConflict means a session name collides and disambiguation
	// attempts are exhausted.
	ErrNameConflict = errors.New("session name conflict")
)

// maxNameSuffix bounds auto-disambiguation: "build" collides into
// "build-2" .. "build-9" before Create gives up with ErrNameConflict.
const maxNameSuffix = 9

// Registry owns the set of open agent sessions and the notion of the
// active one. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	activeID string
}

// NewRegistry returns an empty registry with no active session.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a new idle session. A duplicate name is
// auto-suffixed ("-2", "-3", ...); when suffixes run out it fails with
// ErrNameConflict. wt may be nil for plain directory sessions.
func (r *Registry) Create(name, workingDirectory string, wt *worktree.Worktree) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved, ok := r.disambiguate(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNameConflict, name)
	}

	s := &Session{
		ID:               uuid.NewString(),
		Name:             resolved,
		WorkingDirectory: workingDirectory,
		Worktree:         wt,
		created:          time.Now(),
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	return s, nil
}

// disambiguate returns a free name derived from want, false when none
// is available. Caller holds the lock.
func (r *Registry) disambiguate(want string) (string, bool) {
	if !r.nameTaken(want) {
		return want, true
	}
	for i := 2; i <= maxNameSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d", want, i)
		if !r.nameTaken(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Registry) nameTaken(name string) bool {
	for _, s := range r.sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Close removes a session, cancelling its in-flight interaction first.
// The owned connection is returned so the caller can disconnect it
// outside the registry lock. If the closed session was active the
// registry records "no active session" rather than picking one.
func (r *Registry) Close(id string) (backend.Connection, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id {
		r.activeID = ""
	}
	r.mu.Unlock()

	s.CancelInteraction()
	return s.Connection(), nil
}

// SetActive marks a session as the active one. Pure state change.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.activeID = id
	return nil
}

// Active returns the active session, nil when none is marked.
func (r *Registry) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[r.activeID]
}

// Find returns the session with the given id, nil if absent.
func (r *Registry) Find(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// FindByName returns the first open session with the given name.
func (r *Registry) FindByName(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if s := r.sessions[id]; s != nil && s.Name == name {
			return s
		}
	}
	return nil
}

// List returns open sessions in creation order, stable under status
// changes.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ReferencingWorktree returns open sessions bound to the named
// worktree.
func (r *Registry) ReferencingWorktree(name string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, id := range r.order {
		s := r.sessions[id]
		if s != nil && s.Worktree != nil && s.Worktree.Name == name {
			out = append(out, s)
		}
	}
	return out
}
