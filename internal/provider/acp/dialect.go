package acp

import "github.com/zjrosen/chorus/internal/provider"

// Dialect captures how one ACP agent differs from the others. The protocol
// is shared; spawn commands, auth methods, and tool-render policy are not.
type Dialect interface {
	// Name returns the provider this dialect serves.
	Name() provider.Name

	// Command returns the spawn command: binary, args, and extra env.
	Command() (bin string, args []string, env []string)

	// MarkerFile is the instruction file seeded in the project repo
	// (QWEN.md, GEMINI.md).
	MarkerFile() string

	// AuthMethod is the methodId passed to authenticate when session
	// creation fails.
	AuthMethod() string

	// SupportsImages reports whether prompt image parts are accepted.
	// Text-only agents get a warning and the images are dropped.
	SupportsImages() bool

	// ExtraRequestMethods lists agent-initiated request methods, beyond
	// the shared fs handlers, that are answered with a no-op success.
	ExtraRequestMethods() []string

	// ToolCallVisible decides whether a tool_call (or tool_call_update,
	// when isUpdate) notification renders in the chat stream. rawName is
	// the extracted tool name before normalization; summary is the
	// rendered line.
	ToolCallVisible(rawName, summary string, isUpdate bool) bool

	// CleanChat post-processes a flushed chat body.
	CleanChat(text string) string

	// StderrFilter drops known stderr noise before logging.
	StderrFilter(line string) bool
}
