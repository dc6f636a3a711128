package worktree

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// Fake-git unit tests
// ===========================================================================

// fakeGit scripts git responses per subcommand and records every call.
type fakeGit struct {
	root  string
	fail  map[string]error // subcommand -> forced error
	calls []string
}

func (f *fakeGit) run(dir string, args ...string) (string, error) {
	key := args[0]
	if len(args) > 1 && (key == "worktree" || key == "branch" || key == "rebase" || key == "merge") {
		f.calls = append(f.calls, key+" "+args[1])
	} else {
		f.calls = append(f.calls, key)
	}
	if err := f.fail[strings.Join(args[:min(2, len(args))], " ")]; err != nil {
		return "", err
	}
	switch key {
	case "rev-parse":
		return f.root + "\n", nil
	case "show-ref":
		// Branch existence checks report "absent".
		return "", errors.New("no such ref")
	}
	return "", nil
}

func newFakeManager(t *testing.T, fail map[string]error) (*Manager, *fakeGit) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proj")
	fg := &fakeGit{root: root, fail: fail}
	m, err := newManager(root, fg.run)
	if err != nil {
		t.Fatalf("newManager failed: %v", err)
	}
	return m, fg
}

func TestCreateRollsBackBranchOnWorktreeFailure(t *testing.T) {
	m, fg := newFakeManager(t, map[string]error{
		"worktree add": errors.New("disk full"),
	})

	_, err := m.Create("auth", "main")
	if err == nil {
		t.Fatal("Create should fail when worktree add fails")
	}

	// The branch created in step one must be deleted again.
	deleted := false
	for _, c := range fg.calls {
		if c == "branch -D" {
			deleted = true
		}
	}
	if !deleted {
		t.Error("orphaned branch was not rolled back")
	}
	if len(m.List()) != 0 {
		t.Errorf("failed create left %d registry entries", len(m.List()))
	}
}

func TestCreateBranchFailureLeavesNothing(t *testing.T) {
	m, fg := newFakeManager(t, map[string]error{
		"branch auth": errors.New("bad ref"),
	})

	_, err := m.Create("auth", "main")
	if err == nil {
		t.Fatal("Create should fail when branch creation fails")
	}
	for _, c := range fg.calls {
		if c == "worktree add" {
			t.Error("worktree add attempted after branch failure")
		}
	}
	if len(m.List()) != 0 {
		t.Errorf("failed create left %d registry entries", len(m.List()))
	}
}

func TestCreateDuplicateName(t *testing.T) {
	m, _ := newFakeManager(t, nil)
	if _, err := m.Create("auth", "main"); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := m.Create("auth", "main")
	if !errors.Is(err, ErrNameConflict) {
		t.Errorf("expected ErrNameConflict, got %v", err)
	}
}

func TestSwitchUnknown(t *testing.T) {
	m, _ := newFakeManager(t, nil)
	if _, err := m.Switch("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := `worktree /home/u/proj
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /home/u/proj-auth
HEAD 2222222222222222222222222222222222222222
branch refs/heads/auth

worktree /home/u/proj-detached
HEAD 3333333333333333333333333333333333333333
detached
`
	entries := parseWorktreeList(out)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].path != "/home/u/proj-auth" || entries[1].branch != "auth" {
		t.Errorf("unexpected entry: %+v", entries[1])
	}
	if entries[2].branch != "" {
		t.Errorf("detached entry should have no branch, got %q", entries[2].branch)
	}
}

// ===========================================================================
// Real-git end-to-end tests
// ===========================================================================

// initTestRepo creates a real git repository with an initial commit so
// worktree operations work. Returns the resolved repo path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	cmds := [][]string{
		{"git", "init", "-b", "main", dir},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		require.NoError(t, err, "cmd %v: %s", args, string(out))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial commit")

	// Resolve symlinks (macOS: /var -> /private/var) so paths match git output
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return resolved
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, string(out))
	return string(out)
}

func gitCommitFile(t *testing.T, dir, filename, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
	gitRun(t, dir, "add", filename)
	gitRun(t, dir, "commit", "-m", message)
}

func TestCreateAndFinishEndToEnd(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	wt, err := m.Create("auth", "main")
	require.NoError(t, err)
	assert.Equal(t, "auth", wt.BranchName)
	assert.DirExists(t, wt.DirectoryPath)
	assert.Equal(t, filepath.Join(filepath.Dir(repo), "proj-auth"), wt.DirectoryPath)

	// Work on the feature branch, plus an unrelated commit on main so
	// the rebase has something to replay onto.
	gitCommitFile(t, wt.DirectoryPath, "auth.go", "package auth\n", "add auth")
	gitCommitFile(t, repo, "main.go", "package main\n", "mainline work")

	require.NoError(t, m.Finish("auth"))

	// The feature commit landed on main.
	log := gitRun(t, repo, "log", "--oneline", "main")
	assert.Contains(t, log, "add auth")

	// Directory, branch, and registry entry are gone.
	assert.NoDirExists(t, wt.DirectoryPath)
	out, err := exec.Command("git", "-C", repo, "show-ref", "--verify", "--quiet", "refs/heads/auth").CombinedOutput()
	assert.Error(t, err, "branch should be deleted: %s", string(out))
	assert.Empty(t, m.List())
}

func TestFinishRebaseConflict(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	wt, err := m.Create("auth", "main")
	require.NoError(t, err)

	// Conflicting edits to the same file on both branches.
	gitCommitFile(t, wt.DirectoryPath, "README.md", "# feature\n", "feature edit")
	gitCommitFile(t, repo, "README.md", "# mainline\n", "mainline edit")

	err = m.Finish("auth")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRebaseConflict)

	// The worktree survives for manual resolution, rebase aborted.
	assert.DirExists(t, wt.DirectoryPath)
	require.Len(t, m.List(), 1)
	assert.Equal(t, StateActive, m.List()[0].State)
	status := gitRun(t, wt.DirectoryPath, "status")
	assert.NotContains(t, status, "rebase in progress")
}

func TestFinishRequiresBaseCheckedOut(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	wt, err := m.Create("auth", "main")
	require.NoError(t, err)
	gitCommitFile(t, wt.DirectoryPath, "auth.go", "package auth\n", "add auth")

	// The main checkout wandered off the base branch; a ff-only merge
	// there would land on the wrong branch.
	gitRun(t, repo, "checkout", "-b", "experiment")

	err = m.Finish("auth")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBaseNotCheckedOut)

	// Nothing was merged or removed.
	assert.DirExists(t, wt.DirectoryPath)
	require.Len(t, m.List(), 1)
	assert.Equal(t, StateActive, m.List()[0].State)

	// Back on the base branch the finish proceeds.
	gitRun(t, repo, "checkout", "main")
	require.NoError(t, m.Finish("auth"))
	log := gitRun(t, repo, "log", "--oneline", "main")
	assert.Contains(t, log, "add auth")
}

func TestCleanupForceRemoves(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	wt, err := m.Create("auth", "main")
	require.NoError(t, err)
	// Unmerged work would block a plain finish.
	gitCommitFile(t, wt.DirectoryPath, "auth.go", "package auth\n", "unmerged work")

	require.NoError(t, m.Cleanup("auth"))
	assert.NoDirExists(t, wt.DirectoryPath)
	assert.Empty(t, m.List())
}

func TestCleanupStaleReclaimsRemovedDirectory(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	wt, err := m.Create("auth", "main")
	require.NoError(t, err)

	// Simulate an out-of-band removal.
	require.NoError(t, os.RemoveAll(wt.DirectoryPath))

	reclaimed := m.CleanupStale()
	assert.Equal(t, []string{"auth"}, reclaimed)
	assert.Empty(t, m.List())

	// The orphaned branch is reclaimed too.
	out, err := exec.Command("git", "-C", repo, "show-ref", "--verify", "--quiet", "refs/heads/auth").CombinedOutput()
	assert.Error(t, err, "branch should be deleted: %s", string(out))
}

func TestAdoptExistingWorktrees(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)
	_, err = m.Create("auth", "main")
	require.NoError(t, err)

	// A second manager (fresh process) adopts what is on disk.
	m2, err := NewManager(repo)
	require.NoError(t, err)
	require.NoError(t, m2.Adopt())

	list := m2.List()
	require.Len(t, list, 1)
	assert.Equal(t, "auth", list[0].Name)
	assert.Equal(t, "auth", list[0].BranchName)
	assert.Equal(t, StateActive, list[0].State)

	// Unmanaged directories are ignored.
	foreign := filepath.Join(filepath.Dir(repo), "elsewhere")
	gitRun(t, repo, "worktree", "add", "-b", "other", foreign, "main")
	m3, err := NewManager(repo)
	require.NoError(t, err)
	require.NoError(t, m3.Adopt())
	require.Len(t, m3.List(), 1)
	assert.Equal(t, "auth", m3.List()[0].Name)
}

func TestCurrentBranch(t *testing.T) {
	repo := initTestRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	branch, err := m.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}
