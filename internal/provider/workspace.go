package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/chorus/internal/log"
)

// FallbackSystemPrompt is used when no system prompt is configured or the
// configured file cannot be read.
const FallbackSystemPrompt = "You are an AI coding assistant specialized in building modern web applications."

// WorkDir returns the directory agents run in: <projectPath>/repo when it
// exists, otherwise the project path itself.
func WorkDir(projectPath string) string {
	repo := filepath.Join(projectPath, "repo")
	if info, err := os.Stat(repo); err == nil && info.IsDir() {
		return repo
	}
	return projectPath
}

// EnsureMarkerFile writes filename under dir with the given content when the
// file does not exist yet. Existing files are left untouched so user edits
// survive. Returns the file path.
//
// Agents read their instruction files (AGENTS.md, QWEN.md, GEMINI.md) from
// the working directory at startup; seeding them gives every provider the
// same system prompt.
func EnsureMarkerFile(dir, filename, content string) (string, error) {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", filename, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	log.Debug(log.CatProvider, "created provider instruction file", "path", path)
	return path, nil
}

// SystemPromptText returns the configured system prompt, falling back to
// the built-in default when none is set.
func (d Deps) SystemPromptText() string {
	if strings.TrimSpace(d.SystemPrompt) != "" {
		return d.SystemPrompt
	}
	return FallbackSystemPrompt
}

// RepoFiles lists repo files for initial-prompt context injection.
// Returns nil when no lister is wired.
func (d Deps) RepoFiles(projectPath string) []string {
	if d.Repo == nil {
		return nil
	}
	files, err := d.Repo.ListRepoFiles(projectPath)
	if err != nil {
		log.Warn(log.CatProvider, "failed to list repo files",
			"projectPath", projectPath, "error", err)
		return nil
	}
	return files
}
