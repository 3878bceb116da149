// Package qwen integrates the Qwen Code CLI over the Agent Client Protocol.
// One long-lived `qwen --experimental-acp` process serves every project;
// the shared turn engine lives in internal/provider/acp.
package qwen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/provider/acp"
)

func init() {
	provider.Register(provider.Qwen, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// Adapter runs qwen turns through the shared ACP engine.
type Adapter struct {
	deps   provider.Deps
	engine *acp.Engine
	*provider.Sessions
}

// New creates a qwen adapter.
func New(deps provider.Deps) *Adapter {
	sessions := provider.NewSessions(provider.Qwen, deps.Sessions)
	return &Adapter{
		deps:     deps,
		engine:   acp.NewEngine(dialect{}, deps, sessions),
		Sessions: sessions,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.Qwen }

// CheckAvailability probes the resolved qwen binary with --help.
func (a *Adapter) CheckAvailability(ctx context.Context) provider.Status {
	bin := resolveBinary()
	if _, err := provider.Probe(ctx, a.deps.CommandFactory, bin, "--help"); err != nil {
		if provider.IsNotFound(err) {
			return provider.Status{
				Error: "Qwen Code CLI not found. Install with: npm install -g @qwen-code/qwen-code",
			}
		}
		return provider.Status{
			Error: fmt.Sprintf("Qwen Code CLI failed its probe: %v", err),
		}
	}
	return provider.Status{
		Available:  true,
		Configured: true,
		Models:     a.SupportedModels(),
	}
}

// SupportedModels lists every accepted alias and native name.
func (a *Adapter) SupportedModels() []string {
	return provider.SupportedModels(provider.Qwen)
}

// IsModelSupported reports whether the model is usable here.
func (a *Adapter) IsModelSupported(model string) bool {
	return provider.IsModelSupported(provider.Qwen, model)
}

// Stream runs one turn through the shared ACP engine.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		a.engine.RunTurn(ctx, req, out)
	}()
	return out
}

// resolveBinary picks the qwen executable: $QWEN_CMD wins, then qwen on
// PATH, then the qwen-code alias some installs use.
func resolveBinary() string {
	if cmd := os.Getenv("QWEN_CMD"); cmd != "" {
		return cmd
	}
	if _, err := exec.LookPath("qwen"); err == nil {
		return "qwen"
	}
	if _, err := exec.LookPath("qwen-code"); err == nil {
		return "qwen-code"
	}
	return "qwen"
}

// dialect is the qwen flavor of the ACP protocol.
type dialect struct{}

func (dialect) Name() provider.Name { return provider.Qwen }

func (dialect) Command() (string, []string, []string) {
	return resolveBinary(), []string{"--experimental-acp"}, nil
}

func (dialect) MarkerFile() string { return "QWEN.md" }

func (dialect) AuthMethod() string {
	if method := os.Getenv("QWEN_AUTH_METHOD"); method != "" {
		return method
	}
	return "qwen-oauth"
}

// SupportsImages is false: qwen's prompt surface is text-only.
func (dialect) SupportsImages() bool { return false }

func (dialect) ExtraRequestMethods() []string {
	return []string{"edit", "str_replace_editor"}
}

// ToolCallVisible hides every tool_call_update and suppresses calls whose
// name is an opaque id, which qwen emits for internal bookkeeping.
func (dialect) ToolCallVisible(rawName, summary string, isUpdate bool) bool {
	if isUpdate {
		return false
	}
	lower := strings.ToLower(rawName)
	switch lower {
	case "call", "tool", "toolcall":
		return false
	}
	if strings.HasPrefix(lower, "call_") || strings.HasPrefix(lower, "call-") {
		return false
	}
	return !strings.HasSuffix(summary, "`executing...`")
}

// callIDLine matches the stray tool-call ids qwen leaks into its prose.
var callIDLine = regexp.MustCompile(`(?m)^call[_-][A-Za-z0-9]+.*$`)

// manyNewlines collapses runs of three or more newlines.
var manyNewlines = regexp.MustCompile(`\n{3,}`)

// CleanChat strips leaked call ids and tightens the whitespace they leave
// behind.
func (dialect) CleanChat(text string) string {
	text = callIDLine.ReplaceAllString(text, "")
	return manyNewlines.ReplaceAllString(text, "\n\n")
}

// StderrFilter drops qwen's token-refresh polling and import-processor
// chatter, which otherwise floods the debug log for hours.
func (dialect) StderrFilter(line string) bool {
	if strings.Contains(line, "Polling for token") {
		return false
	}
	return !strings.Contains(line, "ImportProcessor")
}

var (
	_ provider.Adapter = (*Adapter)(nil)
	_ acp.Dialect      = dialect{}
)
