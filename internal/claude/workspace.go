package claude

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Directory names excluded from workspace snapshots. These churn during
// normal runs without representing user-visible output.
var snapshotSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".claude":      true,
}

// SnapshotWorkspace lists every file under root, relative to root, with
// noisy tool directories skipped. Walk errors on individual entries are
// ignored so a transient file cannot fail a run.
func SnapshotWorkspace(root string) map[string]bool {
	files := make(map[string]bool)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if snapshotSkipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files[filepath.ToSlash(rel)] = true
		return nil
	})
	return files
}

// NewFiles returns the files present in after but not before, sorted,
// with editor droppings and agent bookkeeping filtered out.
func NewFiles(before, after map[string]bool) []string {
	var created []string
	for path := range after {
		if before[path] {
			continue
		}
		if skipCreatedFile(path) {
			continue
		}
		created = append(created, path)
	}
	sort.Strings(created)
	return created
}

func skipCreatedFile(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, ".claude") {
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".tmp":
		return true
	}
	return false
}
