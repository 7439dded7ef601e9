package claude

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, root string, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSnapshotSkipsInternalDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "main.go")
	touch(t, root, "pkg/util.go")
	touch(t, root, ".git/config")
	touch(t, root, "node_modules/left-pad/index.js")
	touch(t, root, ".claude/settings.json")
	touch(t, root, ".venv/bin/python")
	touch(t, root, "__pycache__/mod.pyc")

	snap := SnapshotWorkspace(root)
	if len(snap) != 2 {
		t.Fatalf("expected 2 files, got %v", snap)
	}
	if !snap["main.go"] || !snap["pkg/util.go"] {
		t.Fatalf("missing expected files: %v", snap)
	}
}

func TestNewFilesFiltering(t *testing.T) {
	before := map[string]bool{"existing.go": true}
	after := map[string]bool{
		"existing.go":             true,
		"out.txt":                 true,
		"sub/report.md":           true,
		"debug.log":               true,
		"scratch.tmp":             true,
		".claude-cache/state":     true,
		"nested/.claude/hook.txt": true,
	}
	created := NewFiles(before, after)
	want := []string{"out.txt", "sub/report.md"}
	if len(created) != len(want) {
		t.Fatalf("created files: %v", created)
	}
	for i, path := range want {
		if created[i] != path {
			t.Fatalf("expected %v, got %v", want, created)
		}
	}
}

func TestNewFilesEmptyDiff(t *testing.T) {
	snap := map[string]bool{"a.go": true}
	if created := NewFiles(snap, snap); len(created) != 0 {
		t.Fatalf("identical snapshots must diff to nothing: %v", created)
	}
}
