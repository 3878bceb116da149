// Package claude integrates the Claude Code CLI through its stream-json
// interface: one subprocess per turn, newline-delimited JSON on stdout.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/provider/process"
)

func init() {
	provider.Register(provider.Claude, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// claudeBin is the CLI binary name.
const claudeBin = "claude"

// baseAllowedTools is the tool allow-list for every turn. TodoWrite is
// handled separately: initial scaffold turns must not produce a plan
// checklist, so it flips between the allow and disallow lists.
var baseAllowedTools = []string{
	"Read", "Write", "Edit", "MultiEdit", "Bash",
	"Glob", "Grep", "LS", "WebFetch", "WebSearch",
}

// Adapter drives the claude CLI.
type Adapter struct {
	deps provider.Deps
	*provider.Sessions
}

// New creates a claude adapter.
func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:     deps,
		Sessions: provider.NewSessions(provider.Claude, deps.Sessions),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.Claude }

// CheckAvailability probes `claude -h`.
func (a *Adapter) CheckAvailability(ctx context.Context) provider.Status {
	out, err := provider.Probe(ctx, a.deps.CommandFactory, claudeBin, "-h")
	if err != nil {
		if provider.IsNotFound(err) {
			return provider.Status{
				Error: "Claude Code CLI not found. Install with: npm install -g @anthropic-ai/claude-code",
			}
		}
		return provider.Status{
			Error: fmt.Sprintf("Claude Code CLI failed its probe: %v", err),
		}
	}
	if !strings.Contains(strings.ToLower(out), "claude") {
		return provider.Status{Error: "claude -h produced unexpected output"}
	}
	return provider.Status{
		Available:     true,
		Configured:    true,
		Models:        a.SupportedModels(),
		DefaultModels: []string{
			"claude-sonnet-4-20250514",
			"claude-opus-4-1-20250805",
		},
	}
}

// SupportedModels lists every accepted alias and native name.
func (a *Adapter) SupportedModels() []string {
	return provider.SupportedModels(provider.Claude)
}

// IsModelSupported reports whether the model is usable here.
func (a *Adapter) IsModelSupported(model string) bool {
	return provider.IsModelSupported(provider.Claude, model)
}

// Stream runs one turn against the claude CLI.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		a.run(ctx, req, out)
	}()
	return out
}

func (a *Adapter) run(ctx context.Context, req provider.Request, out chan<- event.Event) {
	resume, err := a.resumeSession(ctx, req)
	if err != nil {
		log.Warn(log.CatClaude, "session lookup failed, starting fresh",
			"projectID", req.ProjectID, "error", err)
	}

	h, err := process.NewBuilder(ctx).
		WithExecutable(claudeBin, a.buildArgs(req, resume)).
		WithWorkDir(provider.WorkDir(req.ProjectPath)).
		WithName(provider.Claude.String()).
		WithStderrCapture(true).
		WithCommandFactory(a.deps.CommandFactory).
		Build()
	if err != nil {
		provider.Emit(ctx, out, event.NewError(provider.Claude.String(), req.SessionID,
			event.ReasonCLINotFound, fmt.Sprintf("Claude: failed to start CLI: %v", err)))
		return
	}
	defer func() { _ = h.Cancel() }()

	terminal := false
	for line := range h.Lines() {
		var wire wireEvent
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			log.Debug(log.CatClaude, "skipping malformed line", "error", err)
			continue
		}

		switch wire.Type {
		case "system":
			if wire.SessionID != "" {
				if err := a.SetSessionID(ctx, req.ProjectID, wire.SessionID); err != nil {
					log.Warn(log.CatClaude, "failed to store session",
						"projectID", req.ProjectID, "error", err)
				}
			}
			ev := event.New(provider.Claude.String(), req.SessionID,
				event.RoleSystem, event.KindSystem,
				fmt.Sprintf("🚀 Claude Code initialized (Model: %s)", wire.Model),
				event.Metadata{
					event.MetaHidden:    true,
					event.MetaEventType: "system",
					event.MetaModel:     wire.Model,
				})
			if !provider.Emit(ctx, out, ev) {
				return
			}

		case "assistant":
			if wire.Message == nil {
				continue
			}
			if !a.emitAssistant(ctx, req, wire.Message, out) {
				return
			}

		case "user":
			// Tool-result echo of our own prompt; not surfaced.

		case "result":
			if wire.SessionID != "" {
				if err := a.SetSessionID(ctx, req.ProjectID, wire.SessionID); err != nil {
					log.Warn(log.CatClaude, "failed to store session",
						"projectID", req.ProjectID, "error", err)
				}
			}
			ev := event.New(provider.Claude.String(), req.SessionID,
				event.RoleSystem, event.KindResult,
				"Claude turn completed",
				event.Metadata{
					event.MetaHidden:     true,
					event.MetaEventType:  "result",
					event.MetaDurationMS: wire.DurationMS,
					"total_cost_usd":     wire.TotalCostUSD,
					"num_turns":          wire.NumTurns,
					"is_error":           wire.IsError,
					"subtype":            wire.Subtype,
				})
			if !provider.Emit(ctx, out, ev) {
				return
			}
			terminal = true
		}
		if terminal {
			break
		}
	}

	if terminal {
		return
	}
	a.finishWithout(ctx, req, h, out)
}

// finishWithout closes a stream that ended before the CLI produced its
// result sentinel: cancellation, process failure, or a clean-but-silent exit.
func (a *Adapter) finishWithout(ctx context.Context, req provider.Request, h *process.Handle, out chan<- event.Event) {
	if ctx.Err() != nil {
		provider.Emit(context.Background(), out, event.NewError(provider.Claude.String(), req.SessionID,
			event.ReasonCancelled, "Claude: turn cancelled"))
		return
	}

	<-h.Done()
	if h.Status() == process.StatusFailed {
		msg := "Claude: CLI exited before completing the turn"
		if tail := h.StderrTail(); len(tail) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, strings.Join(tail, "\n"))
		}
		provider.Emit(ctx, out, event.NewError(provider.Claude.String(), req.SessionID,
			event.ReasonExecutionFailed, msg))
		return
	}

	provider.Emit(ctx, out, event.New(provider.Claude.String(), req.SessionID,
		event.RoleSystem, event.KindResult, "Claude turn completed",
		event.Metadata{event.MetaHidden: true, event.MetaEventType: "result"}))
}

// emitAssistant maps one assistant message: tool-use blocks become visible
// tool_use events, text blocks coalesce into a single chat event.
func (a *Adapter) emitAssistant(ctx context.Context, req provider.Request, msg *wireMessage, out chan<- event.Event) bool {
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			input := block.toolInput()
			ev := event.New(provider.Claude.String(), req.SessionID,
				event.RoleAssistant, event.KindToolUse,
				provider.ToolSummary(block.Name, input),
				event.Metadata{
					event.MetaEventType: "tool_use",
					event.MetaToolName:  provider.NormalizeToolName(block.Name),
					event.MetaToolInput: input,
				})
			if !provider.Emit(ctx, out, ev) {
				return false
			}
		}
	}
	if text.Len() == 0 {
		return true
	}
	return provider.Emit(ctx, out, event.New(provider.Claude.String(), req.SessionID,
		event.RoleAssistant, event.KindChat, text.String(),
		event.Metadata{event.MetaEventType: "assistant"}))
}

// resumeSession picks the session to resume: an explicit request pin wins,
// else the stored session for the project.
func (a *Adapter) resumeSession(ctx context.Context, req provider.Request) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	return a.GetSessionID(ctx, req.ProjectID)
}

// buildArgs assembles the claude CLI invocation for one turn.
func (a *Adapter) buildArgs(req provider.Request, resume string) []string {
	instruction := req.Instruction
	if req.IsInitialPrompt {
		instruction += initialContext(a.deps.RepoFiles(req.ProjectPath))
	}

	allowed := baseAllowedTools
	args := []string{
		"-p", instruction,
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	}
	if req.IsInitialPrompt {
		args = append(args, "--allowedTools", strings.Join(allowed, ","),
			"--disallowedTools", "TodoWrite")
	} else {
		args = append(args, "--allowedTools", strings.Join(append(append([]string{}, allowed...), "TodoWrite"), ","))
	}
	if req.Model != "" {
		args = append(args, "--model", provider.ResolveModel(provider.Claude, req.Model))
	}
	if resume != "" {
		args = append(args, "--resume", resume)
	}
	if prompt := a.deps.SystemPromptText(); prompt != "" {
		args = append(args, "--append-system-prompt", prompt)
	}
	return args
}

// initialContext renders the repo listing block appended to initial prompts
// so the first turn sees the scaffolded project structure.
func initialContext(files []string) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n<initial_context>\nCurrent project structure:\n")
	for _, f := range files {
		b.WriteString("- " + f + "\n")
	}
	b.WriteString("</initial_context>")
	return b.String()
}

var _ provider.Adapter = (*Adapter)(nil)
