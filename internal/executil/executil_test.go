package executil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "tool")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plain"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := findExecutable("tool", []string{dir})
	if err != nil {
		t.Fatalf("findExecutable failed: %v", err)
	}
	if got != bin {
		t.Errorf("expected %s, got %s", bin, got)
	}

	if _, err := findExecutable("plain", []string{dir}); err == nil {
		t.Error("non-executable file should not resolve")
	}
	if _, err := findExecutable("absent", []string{dir}); err == nil {
		t.Error("missing file should not resolve")
	}

	t.Run("ExplicitPath", func(t *testing.T) {
		got, err := findExecutable(bin, nil)
		if err != nil {
			t.Fatalf("explicit path failed: %v", err)
		}
		if got != bin {
			t.Errorf("expected %s, got %s", bin, got)
		}
	})
}

func TestReplaceEnv(t *testing.T) {
	env := []string{"HOME=/home/u", "PATH=/old", "TERM=xterm"}
	out := replaceEnv(env, "PATH", "/new:/newer")

	var path string
	for _, e := range out {
		if strings.HasPrefix(e, "PATH=") {
			if path != "" {
				t.Fatal("duplicate PATH entries")
			}
			path = strings.TrimPrefix(e, "PATH=")
		}
	}
	if path != "/new:/newer" {
		t.Errorf("PATH not replaced: %q", path)
	}
	if len(out) != 3 {
		t.Errorf("expected 3 entries, got %d", len(out))
	}
}
