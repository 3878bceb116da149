package provider

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
)

// toolNames maps raw provider tool names to the canonical set used across
// the UI. Raw names arrive in whatever casing each CLI prefers; lookups run
// on the exact name first, then on the lowercased trimmed form.
var toolNames = map[string]string{
	"read_file":     "Read",
	"read":          "Read",
	"readfile":      "Read",
	"readmanyfiles": "Read",

	"write_file": "Write",
	"write":      "Write",
	"writefile":  "Write",

	"edit_file": "Edit",
	"replace":   "Edit",
	"edit":      "Edit",

	"delete": "Delete",

	"shell":                "Bash",
	"run_terminal_command": "Bash",
	"exec_command":         "Bash",

	"search_file_content": "Grep",
	"codebase_search":     "Grep",
	"grep":                "Grep",
	"searchtext":          "Grep",
	"search":              "Grep",

	"find_files": "Glob",
	"glob":       "Glob",
	"findfiles":  "Glob",

	"list_directory": "LS",
	"list_dir":       "LS",
	"ls":             "LS",
	"readfolder":     "LS",

	"google_web_search": "WebSearch",
	"web_search":        "WebSearch",
	"googlesearch":      "WebSearch",

	"web_fetch": "WebFetch",
	"fetch":     "WebFetch",

	"save_memory": "SaveMemory",
	"savememory":  "SaveMemory",
	"save memory": "SaveMemory",

	"semSearch": "SemSearch",

	"apply_patch": "Edit",

	"mcp_tool_call": "MCPTool",
}

// NormalizeToolName maps a raw provider tool name onto the canonical set.
// Unknown names pass through trimmed, so normalization is idempotent:
// canonical names map to themselves.
func NormalizeToolName(raw string) string {
	if canonical, ok := toolNames[raw]; ok {
		return canonical
	}
	folded := strings.TrimSpace(strings.ToLower(raw))
	if canonical, ok := toolNames[folded]; ok {
		return canonical
	}
	return strings.TrimSpace(raw)
}

// ToolSummary renders a one-line markdown summary of a tool invocation for
// the chat stream. rawName is the provider's tool name before normalization;
// input is the decoded tool input object (may be nil).
//
// apply_patch is special-cased before normalization because its summary is
// derived from the per-file changes map rather than a single path.
func ToolSummary(rawName string, input map[string]any) string {
	if rawName == "apply_patch" {
		changes, _ := input["changes"].(map[string]any)
		return applyPatchSummary(changes)
	}

	name := NormalizeToolName(rawName)

	switch name {
	case "Edit", "Read", "Write", "MultiEdit":
		file := stringField(input, []string{"file_path", "path", "file"}, "file")
		prefix := ""
		if name == "MultiEdit" {
			prefix = "🔧 "
		}
		return fmt.Sprintf("%s**%s** `%s`", prefix, name, displayPath(file))

	case "Bash":
		command := stringField(input, []string{"command", "cmd", "script"}, "command")
		return fmt.Sprintf("**Bash** `%s`", truncate(command, 40))

	case "TodoWrite":
		return "`Planning for next moves...`"

	case "SaveMemory":
		fact := stringField(input, []string{"fact"}, "storing information")
		return fmt.Sprintf("**SaveMemory** `%s`", truncate(fact, 40))

	case "Grep":
		pattern := stringField(input, []string{"pattern", "query", "search"}, "pattern")
		dir := stringField(input, []string{"path", "file", "directory"}, "")
		if dir != "" {
			return fmt.Sprintf("**Search** `%s` in `%s`", pattern, dir)
		}
		return fmt.Sprintf("**Search** `%s`", pattern)

	case "Glob":
		// find_files carries its pattern under "name"
		var pattern string
		if rawName == "find_files" {
			pattern = stringField(input, []string{"name"}, "pattern")
		} else {
			pattern = stringField(input, []string{"pattern", "globPattern"}, "pattern")
		}
		return fmt.Sprintf("**Glob** `%s`", pattern)

	case "LS":
		dir := stringField(input, []string{"path", "directory", "dir"}, "directory")
		if runewidth.StringWidth(dir) > 40 {
			dir = "…/" + lastColumns(dir, 37)
		}
		return fmt.Sprintf("📁 **LS** `%s`", dir)

	case "Delete":
		file := stringField(input, []string{"path"}, "file")
		return fmt.Sprintf("**Delete** `%s`", displayPath(file))

	case "SemSearch":
		query := stringField(input, []string{"query"}, "query")
		return fmt.Sprintf("**SemSearch** `%s`", truncate(query, 40))

	case "WebFetch":
		rawURL := stringField(input, []string{"url"}, "url")
		domain := rawURL
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			domain = u.Host
		}
		summary := fmt.Sprintf("**WebFetch** [%s](%s)", domain, rawURL)
		if prompt := stringField(input, []string{"prompt"}, ""); prompt != "" {
			summary += "\n> " + truncate(prompt, 30)
		}
		return summary

	case "WebSearch":
		query := stringField(input, []string{"query", "search_query"}, "query")
		return fmt.Sprintf("**WebSearch** `%s`", truncate(query, 40))

	case "Task":
		subagent := stringField(input, []string{"subagent_type"}, "")
		description := stringField(input, []string{"description"}, "")
		switch {
		case subagent != "" && description != "":
			return fmt.Sprintf("🤖 **Task** `%s`\n> %s", subagent, truncate(description, 50))
		case description != "":
			return fmt.Sprintf("🤖 **Task** `%s`", truncate(description, 40))
		default:
			return "🤖 **Task** `subtask`"
		}

	case "ExitPlanMode":
		return "✅ **ExitPlanMode** `planning complete`"

	case "NotebookEdit":
		notebook := stringField(input, []string{"notebook_path"}, "notebook")
		return fmt.Sprintf("📓 **NotebookEdit** `%s`", filepath.Base(notebook))

	case "MCPTool":
		server := stringField(input, []string{"server"}, "")
		tool := stringField(input, []string{"tool"}, "")
		if server != "" && tool != "" {
			return fmt.Sprintf("🔧 **MCP** `%s.%s`", server, tool)
		}
		return "🔧 **MCP** `tool call`"

	default:
		return fmt.Sprintf("**%s** `executing...`", name)
	}
}

// applyPatchSummary renders codex apply_patch changes, one action per file.
func applyPatchSummary(changes map[string]any) string {
	if len(changes) == 0 {
		return "**ApplyPatch** `files`"
	}

	entries := make([]string, 0, len(changes))
	for _, file := range sortedKeys(changes) {
		change, _ := changes[file].(map[string]any)
		entries = append(entries, applyPatchEntry(file, change))
	}

	if len(entries) == 1 {
		return entries[0]
	}

	shown := entries
	var extra int
	if len(entries) > 3 {
		shown = entries[:3]
		extra = len(entries) - 3
	}

	var b strings.Builder
	for i, entry := range shown {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• " + entry)
	}
	if extra > 0 {
		fmt.Fprintf(&b, "\n• ... +%d more files", extra)
	}
	return b.String()
}

// applyPatchEntry renders one file of an apply_patch change set. Patch
// entries show bare filenames, not collapsed paths: the change-set keys are
// repo-relative and the per-file action is the interesting part.
func applyPatchEntry(file string, change map[string]any) string {
	display := filepath.Base(file)

	if _, ok := change["add"]; ok {
		return fmt.Sprintf("**Write** `%s`", display)
	}
	if _, ok := change["delete"]; ok {
		return fmt.Sprintf("**Delete** `%s`", display)
	}
	if update, ok := change["update"].(map[string]any); ok {
		if move, ok := update["move_path"].(string); ok && move != "" {
			return fmt.Sprintf("**Rename** `%s` → `%s`", display, filepath.Base(move))
		}
	}
	return fmt.Sprintf("**Edit** `%s`", display)
}

// displayPath shortens a path for chat display. Absolute paths with three or
// more components always collapse to their last two; anything wider than 40
// columns collapses the same way.
func displayPath(path string) string {
	if path == "" {
		return path
	}
	parts := strings.Split(path, "/")
	if strings.HasPrefix(path, "/") && len(parts) >= 4 {
		return "…/" + strings.Join(parts[len(parts)-2:], "/")
	}
	if runewidth.StringWidth(path) > 40 && len(parts) >= 2 {
		return "…/" + strings.Join(parts[len(parts)-2:], "/")
	}
	return path
}

// truncate caps s at max display columns, appending "..." when cut.
func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "") + "..."
}

// lastColumns returns the suffix of s occupying at most max display columns.
func lastColumns(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	runes := []rune(s)
	width := 0
	for i := len(runes) - 1; i >= 0; i-- {
		width += runewidth.RuneWidth(runes[i])
		if width > max {
			return string(runes[i+1:])
		}
	}
	return s
}

// stringField returns the first non-empty string value among keys, else def.
func stringField(input map[string]any, keys []string, def string) string {
	for _, k := range keys {
		if v, ok := input[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return def
}

// sortedKeys returns map keys in sorted order for stable rendering.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
