package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Provider marker files are orchestrator plumbing, not project content, so
// file listings leave them out.
var markerFiles = map[string]struct{}{
	"AGENTS.md": {},
	"QWEN.md":   {},
	"GEMINI.md": {},
	"CLAUDE.md": {},
}

// ListRepoFiles returns the sorted relative paths of files under the
// project's repo directory, falling back to the project path itself when no
// repo subdirectory exists. Git internals and provider marker files are
// excluded; dependency trees are skipped to keep listings bounded.
func (db *DB) ListRepoFiles(projectPath string) ([]string, error) {
	root := filepath.Join(projectPath, "repo")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		root = projectPath
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".git") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".git") {
			return nil
		}
		if _, marker := markerFiles[name]; marker {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repo files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
