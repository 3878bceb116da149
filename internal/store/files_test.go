package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRepoFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

// TestListRepoFiles_PrefersRepoSubdirectory verifies that a repo/ directory
// under the project path is the listing root.
func TestListRepoFiles_PrefersRepoSubdirectory(t *testing.T) {
	db := newTestDB(t)
	project := t.TempDir()

	writeRepoFile(t, project, "repo/main.go")
	writeRepoFile(t, project, "repo/pkg/util.go")
	writeRepoFile(t, project, "outside.txt")

	files, err := db.ListRepoFiles(project)
	require.NoError(t, err)
	require.Equal(t, []string{"main.go", "pkg/util.go"}, files)
}

// TestListRepoFiles_FallsBackToProjectPath verifies the fallback when no
// repo subdirectory exists.
func TestListRepoFiles_FallsBackToProjectPath(t *testing.T) {
	db := newTestDB(t)
	project := t.TempDir()

	writeRepoFile(t, project, "index.html")
	writeRepoFile(t, project, "css/site.css")

	files, err := db.ListRepoFiles(project)
	require.NoError(t, err)
	require.Equal(t, []string{"css/site.css", "index.html"}, files)
}

// TestListRepoFiles_ExcludesGitAndMarkers verifies that git internals and
// provider marker files never appear in listings.
func TestListRepoFiles_ExcludesGitAndMarkers(t *testing.T) {
	db := newTestDB(t)
	project := t.TempDir()

	writeRepoFile(t, project, "repo/.git/config")
	writeRepoFile(t, project, "repo/.git/objects/ab/cdef")
	writeRepoFile(t, project, "repo/.gitignore")
	writeRepoFile(t, project, "repo/AGENTS.md")
	writeRepoFile(t, project, "repo/CLAUDE.md")
	writeRepoFile(t, project, "repo/QWEN.md")
	writeRepoFile(t, project, "repo/GEMINI.md")
	writeRepoFile(t, project, "repo/README.md")
	writeRepoFile(t, project, "repo/src/app.js")

	files, err := db.ListRepoFiles(project)
	require.NoError(t, err)
	require.Equal(t, []string{"README.md", "src/app.js"}, files)
}

// TestListRepoFiles_SkipsNodeModules verifies dependency trees are not
// walked.
func TestListRepoFiles_SkipsNodeModules(t *testing.T) {
	db := newTestDB(t)
	project := t.TempDir()

	writeRepoFile(t, project, "repo/package.json")
	writeRepoFile(t, project, "repo/node_modules/left-pad/index.js")

	files, err := db.ListRepoFiles(project)
	require.NoError(t, err)
	require.Equal(t, []string{"package.json"}, files)
}

// TestListRepoFiles_Sorted verifies deterministic ordering.
func TestListRepoFiles_Sorted(t *testing.T) {
	db := newTestDB(t)
	project := t.TempDir()

	writeRepoFile(t, project, "repo/zeta.go")
	writeRepoFile(t, project, "repo/alpha.go")
	writeRepoFile(t, project, "repo/middle/beta.go")

	files, err := db.ListRepoFiles(project)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha.go", "middle/beta.go", "zeta.go"}, files)
}

// TestListRepoFiles_MissingPath verifies that a nonexistent project path is
// an error.
func TestListRepoFiles_MissingPath(t *testing.T) {
	db := newTestDB(t)

	_, err := db.ListRepoFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
