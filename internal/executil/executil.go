// Package executil builds external commands with a sanitized PATH so
// agent subprocesses run with a predictable environment regardless of
// the shell that launched the chat.
package executil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var systemDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/opt/homebrew/bin",
}

// userDirs are home-relative locations where the agent CLI is commonly
// installed (npm global prefix, pipx/uv style ~/.local, the CLI's own
// bootstrap dir).
var userDirs = []string{
	".local/bin",
	".npm-global/bin",
	".claude/local",
}

// CommandContext builds an exec.Cmd bound to ctx, with the executable
// resolved against the sanitized search path and PATH rewritten to it.
func CommandContext(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	dirs := searchDirs()
	path, err := findExecutable(name, dirs)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = replaceEnv(os.Environ(), "PATH", strings.Join(dirs, string(os.PathListSeparator)))
	return cmd, nil
}

// searchDirs returns the sanitized search path: known system and user
// install dirs, then any PATH entry that is not group/world writable.
func searchDirs() []string {
	seen := make(map[string]struct{})
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if dir == "" || !filepath.IsAbs(dir) {
			return
		}
		if _, ok := seen[dir]; ok {
			return
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.Mode().Perm()&0o022 != 0 {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	for _, dir := range systemDirs {
		add(dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, dir := range userDirs {
			add(filepath.Join(home, dir))
		}
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		add(dir)
	}
	if len(dirs) == 0 {
		// Nothing passed the writability check; a broken PATH beats none.
		return filepath.SplitList(os.Getenv("PATH"))
	}
	return dirs
}

func findExecutable(name string, dirs []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		cleaned := filepath.Clean(name)
		if isExecutable(cleaned) {
			return cleaned, nil
		}
		return "", fmt.Errorf("executable not found: %s", name)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("executable not found in sanitized PATH: %s", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

func replaceEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		out = append(out, entry)
	}
	return append(out, prefix+value)
}
