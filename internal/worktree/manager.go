// Package worktree manages the lifecycle of git worktrees: create,
// switch, finish (rebase + fast-forward merge + remove), and cleanup
// of stale entries.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound means no worktree with that name is registered.
	ErrNotFound = errors.New("worktree not found")
	// ErrNameConflict means a worktree, branch, or directory with that
	// name already exists.
	ErrNameConflict = errors.New("worktree already exists")
	// ErrRebaseConflict means the finish rebase could not complete
	// cleanly; the worktree is left active for manual resolution.
	ErrRebaseConflict = errors.New("rebase conflict")
	// ErrBaseNotCheckedOut means the main checkout is on some other
	// branch than the worktree's base, so a fast-forward merge there
	// would land on the wrong branch.
	ErrBaseNotCheckedOut = errors.New("base branch not checked out")
)

// State is the lifecycle state of a managed worktree.
type State int

const (
	// StateActive means the branch and directory exist and are usable.
	StateActive State = iota
	// StateFinishing means a finish operation is in progress.
	StateFinishing
	// StateStale means the directory or branch was removed outside this
	// system's control and the entry is pending cleanup.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateStale:
		return "stale"
	}
	return "unknown"
}

// Worktree ties a branch and a directory to one lifecycle. The
// directory exists iff the branch/worktree registration exists; the
// manager enforces that, not the caller.
type Worktree struct {
	Name          string
	BranchName    string
	DirectoryPath string
	BaseBranch    string
	State         State
}

// GitRunner executes a git command in dir and returns combined output.
// Injectable so tests can force failures at specific steps.
type GitRunner func(dir string, args ...string) (string, error)

func execGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Manager owns the git-level worktree resources for one repository.
// Finish and cleanup operations on the same worktree serialize against
// each other; distinct worktrees proceed independently.
type Manager struct {
	repoRoot string
	repoName string
	git      GitRunner

	mu      sync.Mutex
	entries map[string]*Worktree
	order   []string
	locks   map[string]*sync.Mutex
}

// NewManager creates a manager rooted at the repository containing
// dir. The main checkout's current branch becomes the default base for
// new worktrees.
func NewManager(dir string) (*Manager, error) {
	return newManager(dir, execGit)
}

func newManager(dir string, git GitRunner) (*Manager, error) {
	out, err := git(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}
	root := strings.TrimSpace(out)
	m := &Manager{
		repoRoot: root,
		repoName: filepath.Base(root),
		git:      git,
		entries:  make(map[string]*Worktree),
		locks:    make(map[string]*sync.Mutex),
	}
	return m, nil
}

// RepoRoot returns the main checkout's directory.
func (m *Manager) RepoRoot() string {
	return m.repoRoot
}

// CurrentBranch returns the branch checked out in the main worktree.
func (m *Manager) CurrentBranch() (string, error) {
	out, err := m.git(m.repoRoot, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// directoryFor places worktrees next to the main checkout, named
// <repo>-<feature>, the layout the rest of the tooling expects.
func (m *Manager) directoryFor(name string) string {
	return filepath.Join(filepath.Dir(m.repoRoot), m.repoName+"-"+name)
}

// Create makes a branch off baseBranch and a worktree directory for it
// as a single logical unit: if the worktree add fails after the branch
// was created, the branch is rolled back before the error surfaces.
func (m *Manager) Create(name, baseBranch string) (*Worktree, error) {
	m.mu.Lock()
	if _, ok := m.entries[name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	m.mu.Unlock()

	dir := m.directoryFor(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: directory %s exists", ErrNameConflict, dir)
	}
	if m.branchExists(name) {
		return nil, fmt.Errorf("%w: branch %s exists", ErrNameConflict, name)
	}

	if _, err := m.git(m.repoRoot, "branch", name, baseBranch); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	if _, err := m.git(m.repoRoot, "worktree", "add", dir, name); err != nil {
		// No orphaned branch: undo before surfacing the failure.
		m.git(m.repoRoot, "branch", "-D", name)
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	wt := &Worktree{
		Name:          name,
		BranchName:    name,
		DirectoryPath: dir,
		BaseBranch:    baseBranch,
		State:         StateActive,
	}
	m.mu.Lock()
	m.entries[name] = wt
	m.order = append(m.order, name)
	m.mu.Unlock()
	return wt, nil
}

// Switch returns the named worktree for the caller to bind a session
// to. Pure lookup.
func (m *Manager) Switch(name string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return wt, nil
}

// Finish rebases the worktree branch onto its base branch's current
// tip, fast-forward-merges it into the base, and removes the worktree
// directory, branch, and registry entry. On a rebase conflict the
// rebase is aborted and the worktree is left active with its directory
// intact; nothing is ever force-pushed through.
func (m *Manager) Finish(name string) error {
	unlock := m.lockWorktree(name)
	defer unlock()

	m.mu.Lock()
	wt, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	wt.State = StateFinishing
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		wt.State = StateActive
		m.mu.Unlock()
	}

	// The ff-only merge lands on whatever the main checkout has checked
	// out, so it must be the base branch the rebase targets.
	cur, err := m.CurrentBranch()
	if err != nil {
		restore()
		return err
	}
	if cur != wt.BaseBranch {
		restore()
		return fmt.Errorf("%w: main checkout is on %q, want %q", ErrBaseNotCheckedOut, cur, wt.BaseBranch)
	}

	if _, err := m.git(wt.DirectoryPath, "rebase", wt.BaseBranch); err != nil {
		m.git(wt.DirectoryPath, "rebase", "--abort")
		restore()
		return fmt.Errorf("%w: %s onto %s: %v", ErrRebaseConflict, wt.BranchName, wt.BaseBranch, err)
	}

	if _, err := m.git(m.repoRoot, "merge", "--ff-only", wt.BranchName); err != nil {
		restore()
		return fmt.Errorf("merge %s into %s: %w", wt.BranchName, wt.BaseBranch, err)
	}

	if _, err := m.git(m.repoRoot, "worktree", "remove", wt.DirectoryPath); err != nil {
		// The merge landed; a leftover directory is recoverable via cleanup.
		restore()
		return fmt.Errorf("remove worktree: %w", err)
	}
	if _, err := m.git(m.repoRoot, "branch", "-d", wt.BranchName); err != nil {
		restore()
		return fmt.Errorf("delete branch: %w", err)
	}

	m.remove(name)
	return nil
}

// Cleanup forcibly removes a specific worktree's directory and branch
// regardless of merge state. Confirmation belongs at the UI boundary;
// once called this is unconditional.
func (m *Manager) Cleanup(name string) error {
	unlock := m.lockWorktree(name)
	defer unlock()

	m.mu.Lock()
	wt, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, err := os.Stat(wt.DirectoryPath); err == nil {
		if _, err := m.git(m.repoRoot, "worktree", "remove", "--force", wt.DirectoryPath); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	} else {
		m.git(m.repoRoot, "worktree", "prune")
	}
	if m.branchExists(wt.BranchName) {
		if _, err := m.git(m.repoRoot, "branch", "-D", wt.BranchName); err != nil {
			return fmt.Errorf("delete branch: %w", err)
		}
	}

	m.remove(name)
	return nil
}

// CleanupStale scans for worktrees whose directory or branch
// disappeared outside this system's control, reclaims their registry
// entries, and returns the reclaimed names.
func (m *Manager) CleanupStale() []string {
	m.mu.Lock()
	candidates := make([]*Worktree, 0, len(m.order))
	for _, name := range m.order {
		candidates = append(candidates, m.entries[name])
	}
	m.mu.Unlock()

	var reclaimed []string
	for _, wt := range candidates {
		dirGone := false
		if _, err := os.Stat(wt.DirectoryPath); os.IsNotExist(err) {
			dirGone = true
		}
		branchGone := !m.branchExists(wt.BranchName)
		if !dirGone && !branchGone {
			continue
		}

		unlock := m.lockWorktree(wt.Name)
		m.mu.Lock()
		wt.State = StateStale
		m.mu.Unlock()
		m.git(m.repoRoot, "worktree", "prune")
		if !branchGone && dirGone {
			// Directory vanished but the branch survived: reclaim it too so
			// no orphaned branch lingers.
			m.git(m.repoRoot, "branch", "-D", wt.BranchName)
		}
		m.remove(wt.Name)
		unlock()
		reclaimed = append(reclaimed, wt.Name)
	}
	return reclaimed
}

// List returns managed worktrees in creation order.
func (m *Manager) List() []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worktree, 0, len(m.order))
	for _, name := range m.order {
		if wt, ok := m.entries[name]; ok {
			out = append(out, wt)
		}
	}
	return out
}

// Adopt registers worktrees that already exist on disk, matching the
// <repo>-<feature> directory convention. Used at startup so sessions
// can reattach to worktrees from a previous run.
func (m *Manager) Adopt() error {
	out, err := m.git(m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return err
	}
	base, err := m.CurrentBranch()
	if err != nil {
		base = "main"
	}

	prefix := m.repoName + "-"
	for _, entry := range parseWorktreeList(out) {
		dirName := filepath.Base(entry.path)
		if !strings.HasPrefix(dirName, prefix) || entry.branch == "" {
			continue
		}
		name := strings.TrimPrefix(dirName, prefix)
		m.mu.Lock()
		if _, ok := m.entries[name]; !ok {
			m.entries[name] = &Worktree{
				Name:          name,
				BranchName:    entry.branch,
				DirectoryPath: entry.path,
				BaseBranch:    base,
				State:         StateActive,
			}
			m.order = append(m.order, name)
		}
		m.mu.Unlock()
	}
	return nil
}

type worktreeListEntry struct {
	path   string
	branch string
}

// parseWorktreeList parses `git worktree list --porcelain` output.
func parseWorktreeList(out string) []worktreeListEntry {
	var entries []worktreeListEntry
	var cur worktreeListEntry
	flush := func() {
		if cur.path != "" {
			entries = append(entries, cur)
		}
		cur = worktreeListEntry{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			cur.branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return entries
}

func (m *Manager) branchExists(branch string) bool {
	_, err := m.git(m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// lockWorktree serializes finish/cleanup on one worktree. The returned
// func releases the lock.
func (m *Manager) lockWorktree(name string) func() {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
