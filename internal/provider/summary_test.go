package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeToolName_MappedNames(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"read_file", "Read"},
		{"readmanyfiles", "Read"},
		{"write_file", "Write"},
		{"edit_file", "Edit"},
		{"replace", "Edit"},
		{"delete", "Delete"},
		{"shell", "Bash"},
		{"run_terminal_command", "Bash"},
		{"exec_command", "Bash"},
		{"search_file_content", "Grep"},
		{"codebase_search", "Grep"},
		{"searchtext", "Grep"},
		{"find_files", "Glob"},
		{"findfiles", "Glob"},
		{"list_directory", "LS"},
		{"readfolder", "LS"},
		{"google_web_search", "WebSearch"},
		{"googlesearch", "WebSearch"},
		{"web_fetch", "WebFetch"},
		{"fetch", "WebFetch"},
		{"save_memory", "SaveMemory"},
		{"save memory", "SaveMemory"},
		{"semSearch", "SemSearch"},
		{"apply_patch", "Edit"},
		{"mcp_tool_call", "MCPTool"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeToolName(tt.raw))
		})
	}
}

func TestNormalizeToolName_CaseFolding(t *testing.T) {
	require.Equal(t, "Read", NormalizeToolName("Read"))
	require.Equal(t, "Read", NormalizeToolName("READ"))
	require.Equal(t, "Grep", NormalizeToolName("Search"))
	require.Equal(t, "LS", NormalizeToolName("ls"))
	require.Equal(t, "LS", NormalizeToolName("LS"))
	require.Equal(t, "SaveMemory", NormalizeToolName("Save Memory"))
}

func TestNormalizeToolName_UnknownPassesThrough(t *testing.T) {
	require.Equal(t, "MysteryTool", NormalizeToolName("MysteryTool"))
	require.Equal(t, "MysteryTool", NormalizeToolName("  MysteryTool  "))
	require.Equal(t, "", NormalizeToolName(""))
}

// TestProperty_NormalizeToolNameIdempotent verifies that normalizing an
// already-normalized name is a no-op, for table entries and arbitrary
// strings alike.
func TestProperty_NormalizeToolNameIdempotent(t *testing.T) {
	raws := make([]string, 0, len(toolNames))
	for raw := range toolNames {
		raws = append(raws, raw)
	}

	rapid.Check(t, func(t *rapid.T) {
		var name string
		if rapid.Bool().Draw(t, "fromTable") {
			name = rapid.SampledFrom(raws).Draw(t, "raw")
		} else {
			name = rapid.StringMatching(`[A-Za-z_ ]{0,24}`).Draw(t, "random")
		}

		once := NormalizeToolName(name)
		require.Equal(t, once, NormalizeToolName(once))
	})
}

func TestToolSummary_FileTools(t *testing.T) {
	require.Equal(t, "**Edit** `main.go`",
		ToolSummary("edit_file", map[string]any{"file_path": "main.go"}))
	require.Equal(t, "**Read** `main.go`",
		ToolSummary("read", map[string]any{"path": "main.go"}))
	require.Equal(t, "**Write** `main.go`",
		ToolSummary("Write", map[string]any{"file": "main.go"}))
	require.Equal(t, "🔧 **MultiEdit** `main.go`",
		ToolSummary("MultiEdit", map[string]any{"file_path": "main.go"}))

	// Missing path falls back to the placeholder
	require.Equal(t, "**Edit** `file`", ToolSummary("Edit", nil))
}

func TestToolSummary_DisplayPathCollapsing(t *testing.T) {
	// Absolute paths with three or more components always collapse
	require.Equal(t, "**Edit** `…/src/app.ts`",
		ToolSummary("Edit", map[string]any{"file_path": "/workspace/src/app.ts"}))
	require.Equal(t, "**Edit** `…/components/Button.tsx`",
		ToolSummary("Edit", map[string]any{"file_path": "/projects/web/src/components/Button.tsx"}))

	// Two-component absolute paths stay as-is
	require.Equal(t, "**Edit** `/tmp/x.go`",
		ToolSummary("Edit", map[string]any{"file_path": "/tmp/x.go"}))

	// Short relative paths stay as-is
	require.Equal(t, "**Edit** `src/app.ts`",
		ToolSummary("Edit", map[string]any{"file_path": "src/app.ts"}))

	// Long relative paths collapse to the last two components
	long := "some/deeply/nested/directory/structure/with/long/names/file.ts"
	require.Equal(t, "**Edit** `…/names/file.ts`",
		ToolSummary("Edit", map[string]any{"file_path": long}))
}

func TestToolSummary_Bash(t *testing.T) {
	require.Equal(t, "**Bash** `ls -la`",
		ToolSummary("shell", map[string]any{"command": "ls -la"}))
	require.Equal(t, "**Bash** `npm install`",
		ToolSummary("Bash", map[string]any{"cmd": "npm install"}))
	require.Equal(t, "**Bash** `command`", ToolSummary("Bash", map[string]any{}))

	long := strings.Repeat("a", 50)
	require.Equal(t, "**Bash** `"+strings.Repeat("a", 40)+"...`",
		ToolSummary("Bash", map[string]any{"command": long}))
}

func TestToolSummary_Bash_TruncatesByColumns(t *testing.T) {
	// 25 double-width runes are 50 columns; 40 columns fit 20 runes
	wide := strings.Repeat("界", 25)
	want := "**Bash** `" + strings.Repeat("界", 20) + "...`"
	require.Equal(t, want, ToolSummary("Bash", map[string]any{"command": wide}))
}

func TestToolSummary_TodoWrite(t *testing.T) {
	require.Equal(t, "`Planning for next moves...`",
		ToolSummary("TodoWrite", map[string]any{"todos": []any{"a", "b"}}))
}

func TestToolSummary_Grep(t *testing.T) {
	require.Equal(t, "**Search** `func main`",
		ToolSummary("grep", map[string]any{"pattern": "func main"}))
	require.Equal(t, "**Search** `TODO` in `src`",
		ToolSummary("search_file_content", map[string]any{"pattern": "TODO", "path": "src"}))
	require.Equal(t, "**Search** `handler`",
		ToolSummary("codebase_search", map[string]any{"query": "handler"}))
	require.Equal(t, "**Search** `pattern`", ToolSummary("Grep", nil))
}

func TestToolSummary_Glob(t *testing.T) {
	require.Equal(t, "**Glob** `*.go`",
		ToolSummary("glob", map[string]any{"pattern": "*.go"}))
	require.Equal(t, "**Glob** `*.tsx`",
		ToolSummary("Glob", map[string]any{"globPattern": "*.tsx"}))
	// find_files carries its pattern under "name"
	require.Equal(t, "**Glob** `*.css`",
		ToolSummary("find_files", map[string]any{"name": "*.css"}))
	require.Equal(t, "**Glob** `pattern`", ToolSummary("Glob", nil))
}

func TestToolSummary_LS(t *testing.T) {
	require.Equal(t, "📁 **LS** `src`",
		ToolSummary("list_directory", map[string]any{"path": "src"}))
	require.Equal(t, "📁 **LS** `directory`", ToolSummary("LS", nil))

	long := "/very/long/path/" + strings.Repeat("d", 40)
	got := ToolSummary("LS", map[string]any{"path": long})
	require.True(t, strings.HasPrefix(got, "📁 **LS** `…/"))
	require.True(t, strings.HasSuffix(got, strings.Repeat("d", 37)+"`"))
}

func TestToolSummary_Delete(t *testing.T) {
	require.Equal(t, "**Delete** `…/src/old.ts`",
		ToolSummary("delete", map[string]any{"path": "/workspace/src/old.ts"}))
	require.Equal(t, "**Delete** `file`", ToolSummary("Delete", nil))
}

func TestToolSummary_SemSearch(t *testing.T) {
	require.Equal(t, "**SemSearch** `auth flow`",
		ToolSummary("semSearch", map[string]any{"query": "auth flow"}))

	long := strings.Repeat("q", 45)
	require.Equal(t, "**SemSearch** `"+strings.Repeat("q", 40)+"...`",
		ToolSummary("SemSearch", map[string]any{"query": long}))
}

func TestToolSummary_WebFetch(t *testing.T) {
	require.Equal(t, "**WebFetch** [example.com](https://example.com/docs)",
		ToolSummary("web_fetch", map[string]any{"url": "https://example.com/docs"}))

	got := ToolSummary("fetch", map[string]any{
		"url":    "https://example.com/a",
		"prompt": "summarize the page",
	})
	require.Equal(t, "**WebFetch** [example.com](https://example.com/a)\n> summarize the page", got)

	long := strings.Repeat("p", 35)
	got = ToolSummary("WebFetch", map[string]any{"url": "https://x.io", "prompt": long})
	require.True(t, strings.HasSuffix(got, "\n> "+strings.Repeat("p", 30)+"..."))
}

func TestToolSummary_WebSearch(t *testing.T) {
	require.Equal(t, "**WebSearch** `golang generics`",
		ToolSummary("web_search", map[string]any{"query": "golang generics"}))
	require.Equal(t, "**WebSearch** `latest react`",
		ToolSummary("google_web_search", map[string]any{"search_query": "latest react"}))
	require.Equal(t, "**WebSearch** `query`", ToolSummary("WebSearch", nil))
}

func TestToolSummary_SaveMemory(t *testing.T) {
	require.Equal(t, "**SaveMemory** `prefers tabs`",
		ToolSummary("save_memory", map[string]any{"fact": "prefers tabs"}))
	require.Equal(t, "**SaveMemory** `storing information`",
		ToolSummary("SaveMemory", nil))
}

func TestToolSummary_Task(t *testing.T) {
	require.Equal(t, "🤖 **Task** `explorer`\n> map the codebase",
		ToolSummary("Task", map[string]any{
			"subagent_type": "explorer",
			"description":   "map the codebase",
		}))
	require.Equal(t, "🤖 **Task** `map the codebase`",
		ToolSummary("Task", map[string]any{"description": "map the codebase"}))
	require.Equal(t, "🤖 **Task** `subtask`", ToolSummary("Task", nil))
}

func TestToolSummary_Misc(t *testing.T) {
	require.Equal(t, "✅ **ExitPlanMode** `planning complete`",
		ToolSummary("ExitPlanMode", nil))
	require.Equal(t, "📓 **NotebookEdit** `analysis.ipynb`",
		ToolSummary("NotebookEdit", map[string]any{"notebook_path": "/nb/analysis.ipynb"}))
	require.Equal(t, "🔧 **MCP** `github.create_issue`",
		ToolSummary("mcp_tool_call", map[string]any{"server": "github", "tool": "create_issue"}))
	require.Equal(t, "🔧 **MCP** `tool call`", ToolSummary("MCPTool", nil))
	require.Equal(t, "**MysteryTool** `executing...`", ToolSummary("MysteryTool", nil))
}

func TestToolSummary_ApplyPatch_SingleFile(t *testing.T) {
	require.Equal(t, "**Write** `new.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{"new.go": map[string]any{"add": map[string]any{}}},
		}))
	require.Equal(t, "**Delete** `old.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{"old.go": map[string]any{"delete": map[string]any{}}},
		}))
	require.Equal(t, "**Edit** `main.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{"main.go": map[string]any{"update": map[string]any{}}},
		}))
	require.Equal(t, "**Rename** `a.go` → `b.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{
				"a.go": map[string]any{"update": map[string]any{"move_path": "b.go"}},
			},
		}))
}

func TestToolSummary_ApplyPatch_RendersBasenames(t *testing.T) {
	// Change-set keys are repo-relative paths; entries show bare filenames.
	require.Equal(t, "**Write** `a.ts`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{"src/a.ts": map[string]any{"add": map[string]any{}}},
		}))
	require.Equal(t, "**Delete** `legacy.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{"internal/old/legacy.go": map[string]any{"delete": map[string]any{}}},
		}))
	require.Equal(t, "**Rename** `util.go` → `helpers.go`",
		ToolSummary("apply_patch", map[string]any{
			"changes": map[string]any{
				"pkg/util.go": map[string]any{"update": map[string]any{"move_path": "pkg/internal/helpers.go"}},
			},
		}))
}

func TestToolSummary_ApplyPatch_MultipleFiles(t *testing.T) {
	changes := map[string]any{
		"cmd/a.go":      map[string]any{"add": map[string]any{}},
		"internal/b.go": map[string]any{"update": map[string]any{}},
	}
	got := ToolSummary("apply_patch", map[string]any{"changes": changes})
	require.Equal(t, "• **Write** `a.go`\n• **Edit** `b.go`", got)
}

func TestToolSummary_ApplyPatch_ManyFiles(t *testing.T) {
	changes := map[string]any{
		"a.go": map[string]any{"add": map[string]any{}},
		"b.go": map[string]any{"add": map[string]any{}},
		"c.go": map[string]any{"add": map[string]any{}},
		"d.go": map[string]any{"add": map[string]any{}},
		"e.go": map[string]any{"add": map[string]any{}},
	}
	got := ToolSummary("apply_patch", map[string]any{"changes": changes})
	require.Equal(t,
		"• **Write** `a.go`\n• **Write** `b.go`\n• **Write** `c.go`\n• ... +2 more files",
		got)
}

func TestToolSummary_ApplyPatch_EmptyChanges(t *testing.T) {
	require.Equal(t, "**ApplyPatch** `files`", ToolSummary("apply_patch", nil))
	require.Equal(t, "**ApplyPatch** `files`",
		ToolSummary("apply_patch", map[string]any{"changes": map[string]any{}}))
}
