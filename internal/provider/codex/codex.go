// Package codex integrates the OpenAI Codex CLI through its proto surface:
// one subprocess per turn, JSON envelopes on stdin/stdout. Unlike the other
// per-turn providers the adapter drives the process bidirectionally — it
// must complete a handshake and submit ops before events flow.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/provider/process"
)

func init() {
	provider.Register(provider.Codex, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// codexBin is the CLI binary name.
const codexBin = "codex"

// handshakeLineLimit bounds how many stdout lines the adapter reads while
// waiting for session_configured before giving up on the handshake.
const handshakeLineLimit = 100

// shutdownGrace is how long the agent gets to exit after the shutdown op.
const shutdownGrace = 2 * time.Second

// autoApprovalPreamble is passed as the instructions config so the agent
// never stops to ask for confirmation mid-turn.
const autoApprovalPreamble = "You are running in an automated environment. " +
	"Never ask for user confirmation; proceed with the requested changes directly. " +
	"Prefer small, reviewable edits and report what you changed."

// Adapter drives the codex CLI proto interface.
type Adapter struct {
	deps provider.Deps
	*provider.Sessions

	rolloutOnce sync.Once
	rollouts    *RolloutTracker
}

// New creates a codex adapter.
func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:     deps,
		Sessions: provider.NewSessions(provider.Codex, deps.Sessions),
		rollouts: NewRolloutTracker(DefaultRolloutRoot()),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.Codex }

// CheckAvailability probes `codex --version`.
func (a *Adapter) CheckAvailability(ctx context.Context) provider.Status {
	_, err := provider.Probe(ctx, a.deps.CommandFactory, codexBin, "--version")
	if err != nil {
		if provider.IsNotFound(err) {
			return provider.Status{
				Error: "Codex CLI not found. Install with: npm install -g @openai/codex",
			}
		}
		return provider.Status{
			Error: fmt.Sprintf("Codex CLI failed its probe: %v", err),
		}
	}
	return provider.Status{
		Available:     true,
		Configured:    true,
		Models:        a.SupportedModels(),
		DefaultModels: []string{"gpt-5", "gpt-4o", "claude-3.5-sonnet"},
	}
}

// SupportedModels lists every accepted alias and native name.
func (a *Adapter) SupportedModels() []string {
	return provider.SupportedModels(provider.Codex)
}

// IsModelSupported reports whether the model is usable here.
func (a *Adapter) IsModelSupported(model string) bool {
	return provider.IsModelSupported(provider.Codex, model)
}

// Stream runs one turn against the codex proto interface.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		a.run(ctx, req, out)
	}()
	return out
}

func (a *Adapter) run(ctx context.Context, req provider.Request, out chan<- event.Event) {
	workDir, err := filepath.Abs(provider.WorkDir(req.ProjectPath))
	if err != nil {
		workDir = provider.WorkDir(req.ProjectPath)
	}
	a.ensureAgentsFile(workDir)

	h, err := process.NewBuilder(ctx).
		WithExecutable(codexBin, a.buildArgs(ctx, req, workDir)).
		WithWorkDir(workDir).
		WithName(provider.Codex.String()).
		WithStderrCapture(true).
		WithStdin(true).
		WithCommandFactory(a.deps.CommandFactory).
		Build()
	if err != nil {
		provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
			event.ReasonCLINotFound, fmt.Sprintf("Codex: failed to start CLI: %v", err)))
		return
	}
	defer func() { _ = h.Cancel() }()

	if !a.handshake(ctx, req, h, out) {
		return
	}

	text, items, cleanup := a.buildInput(req)
	defer cleanup()

	requestID := newRequestID()
	if err := writeOp(h, requestID, userInputOp{Type: "user_input", Items: append([]inputItem{textItem(text)}, items...)}); err != nil {
		provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
			event.ReasonProtocolError, fmt.Sprintf("Codex: failed to submit instruction: %v", err)))
		return
	}

	terminal := a.consume(ctx, req, h, requestID, out)
	a.shutdown(h)

	if terminal {
		return
	}
	if ctx.Err() != nil {
		provider.Emit(context.Background(), out, event.NewError(provider.Codex.String(), req.SessionID,
			event.ReasonCancelled, "Codex: turn cancelled"))
		return
	}
	msg := "Codex: CLI exited before completing the turn"
	if tail := h.StderrTail(); len(tail) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(tail, "\n"))
	}
	provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
		event.ReasonExecutionFailed, msg))
}

// handshake reads until session_configured, stores the session id, emits the
// hidden init event, and lifts the default approval/sandbox policies.
func (a *Adapter) handshake(ctx context.Context, req provider.Request, h *process.Handle, out chan<- event.Event) bool {
	for i := 0; i < handshakeLineLimit; i++ {
		line, ok := <-h.Lines()
		if !ok {
			break
		}
		var env msgEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			log.Debug(log.CatCodex, "skipping pre-handshake line", "error", err)
			continue
		}
		if env.Msg.Type != "session_configured" {
			continue
		}

		if env.Msg.SessionID != "" {
			if err := a.SetSessionID(ctx, req.ProjectID, env.Msg.SessionID); err != nil {
				log.Warn(log.CatCodex, "failed to store session",
					"projectID", req.ProjectID, "error", err)
			}
		}
		ev := event.New(provider.Codex.String(), req.SessionID,
			event.RoleSystem, event.KindSystem,
			fmt.Sprintf("🚀 Codex initialized (Model: %s)", env.Msg.Model),
			event.Metadata{
				event.MetaHidden:    true,
				event.MetaEventType: "session_configured",
				event.MetaModel:     env.Msg.Model,
			})
		if !provider.Emit(ctx, out, ev) {
			return false
		}

		if err := writeOp(h, newRequestID(), newOverrideTurnContextOp()); err != nil {
			provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
				event.ReasonProtocolError, fmt.Sprintf("Codex: failed to override turn context: %v", err)))
			return false
		}
		return true
	}

	if ctx.Err() != nil {
		provider.Emit(context.Background(), out, event.NewError(provider.Codex.String(), req.SessionID,
			event.ReasonCancelled, "Codex: turn cancelled"))
		return false
	}
	provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
		event.ReasonProtocolError, "Codex: no session_configured within handshake window"))
	return false
}

// consume streams proto msgs for the submitted request until task_complete
// or an error msg. Returns true when a terminal event was emitted.
//
// The chat buffer flushes only on agent_message: tool begins may arrive
// mid-sentence and must not split the prose around them.
func (a *Adapter) consume(ctx context.Context, req provider.Request, h *process.Handle, requestID string, out chan<- event.Event) bool {
	var text strings.Builder

	for line := range h.Lines() {
		var env msgEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			log.Debug(log.CatCodex, "skipping malformed line", "error", err)
			continue
		}
		// Session-level msgs are accepted regardless of id; everything else
		// must answer our request.
		if env.ID != requestID &&
			env.Msg.Type != "session_configured" && env.Msg.Type != "mcp_list_tools_response" {
			continue
		}

		switch env.Msg.Type {
		case "agent_message_delta":
			text.WriteString(env.Msg.Delta)

		case "agent_message":
			content := text.String()
			text.Reset()
			if content == "" {
				content = env.Msg.Message
			}
			if content != "" {
				if !provider.Emit(ctx, out, event.New(provider.Codex.String(), req.SessionID,
					event.RoleAssistant, event.KindChat, content,
					event.Metadata{event.MetaEventType: "agent_message"})) {
					return true
				}
			}

		case "exec_command_begin":
			input := map[string]any{"command": env.Msg.commandLine()}
			if !a.emitTool(ctx, req, out, "shell", input, env.Msg.Type) {
				return true
			}

		case "patch_apply_begin":
			input := map[string]any{"changes": env.Msg.Changes}
			if !a.emitTool(ctx, req, out, "apply_patch", input, env.Msg.Type) {
				return true
			}

		case "web_search_begin":
			input := map[string]any{"query": env.Msg.Query}
			if !a.emitTool(ctx, req, out, "web_search", input, env.Msg.Type) {
				return true
			}

		case "mcp_tool_call_begin":
			input := map[string]any{}
			if inv := env.Msg.Invocation; inv != nil {
				input["server"] = inv.Server
				input["tool"] = inv.Tool
			}
			if !a.emitTool(ctx, req, out, "mcp_tool_call", input, env.Msg.Type) {
				return true
			}

		case "task_complete":
			if remaining := text.String(); remaining != "" {
				text.Reset()
				if !provider.Emit(ctx, out, event.New(provider.Codex.String(), req.SessionID,
					event.RoleAssistant, event.KindChat, remaining,
					event.Metadata{event.MetaEventType: "agent_message"})) {
					return true
				}
			}
			a.persistRollout(ctx, req.ProjectID)
			provider.Emit(ctx, out, event.New(provider.Codex.String(), req.SessionID,
				event.RoleSystem, event.KindResult, "Codex turn completed",
				event.Metadata{event.MetaHidden: true, event.MetaEventType: "task_complete"}))
			return true

		case "error":
			msg := env.Msg.Message
			if msg == "" {
				msg = "unknown provider error"
			}
			provider.Emit(ctx, out, event.NewError(provider.Codex.String(), req.SessionID,
				event.ReasonProviderError, "Codex: "+msg))
			return true

		default:
			// Output deltas and *_end msgs carry no UI value.
			log.Debug(log.CatCodex, "ignoring msg", "type", env.Msg.Type)
		}
	}
	return false
}

func (a *Adapter) emitTool(ctx context.Context, req provider.Request, out chan<- event.Event, rawName string, input map[string]any, eventType string) bool {
	return provider.Emit(ctx, out, event.New(provider.Codex.String(), req.SessionID,
		event.RoleAssistant, event.KindToolUse,
		provider.ToolSummary(rawName, input),
		event.Metadata{
			event.MetaEventType: eventType,
			event.MetaToolName:  provider.NormalizeToolName(rawName),
			event.MetaToolInput: input,
		}))
}

// shutdown asks the agent to exit and force-kills after the grace period.
func (a *Adapter) shutdown(h *process.Handle) {
	if err := writeOp(h, newRequestID(), shutdownOp{Type: "shutdown"}); err != nil {
		log.Debug(log.CatCodex, "failed to send shutdown op", "error", err)
	}
	if stdin := h.Stdin(); stdin != nil {
		_ = stdin.Close()
	}
	select {
	case <-h.Done():
	case <-time.After(shutdownGrace):
		_ = h.Cancel()
	}
}

// buildInput renders the instruction text and image items. Base64 images are
// materialized as temp files and referenced in the text; the returned
// cleanup removes them once the turn is over.
func (a *Adapter) buildInput(req provider.Request) (string, []inputItem, func()) {
	text := req.Instruction
	if req.IsInitialPrompt {
		text += projectContext(a.deps.RepoFiles(req.ProjectPath))
	}

	var items []inputItem
	var tempFiles []string
	for i, img := range req.Images {
		path, temp, err := provider.TempImageFile(img)
		if err != nil {
			log.Warn(log.CatCodex, "dropping image attachment",
				"index", i, "error", err)
			continue
		}
		if temp {
			tempFiles = append(tempFiles, path)
			text += fmt.Sprintf("\n\n[Image #%d]", i+1)
		}
		items = append(items, localImageItem(path))
	}

	cleanup := func() {
		for _, f := range tempFiles {
			_ = os.Remove(f)
		}
	}
	return text, items, cleanup
}

// buildArgs assembles the codex proto invocation.
func (a *Adapter) buildArgs(ctx context.Context, req provider.Request, workDir string) []string {
	instructions, _ := json.Marshal(autoApprovalPreamble)
	args := []string{
		"--cd", workDir,
		"proto",
		"-c", "include_apply_patch_tool=true",
		"-c", "include_plan_tool=true",
		"-c", "tools.web_search_request=true",
		"-c", "use_experimental_streamable_shell_tool=true",
		"-c", "sandbox_mode=danger-full-access",
		"-c", "instructions=" + string(instructions),
	}
	if rollout := a.resumeRollout(ctx, req.ProjectID); rollout != "" {
		args = append(args, "-c", "experimental_resume="+rollout)
	}
	return args
}

// resumeRollout returns the rollout file to resume from. Resume is opt-in
// via CODEX_RESUME; the default is a fresh session because the rollout
// format is not something this side parses or validates.
func (a *Adapter) resumeRollout(ctx context.Context, projectID string) string {
	if !envTruthy(os.Getenv("CODEX_RESUME")) {
		return ""
	}

	if a.deps.Sessions != nil {
		hint, err := a.deps.Sessions.GetResumeHint(ctx, projectID, provider.Codex.String())
		if err != nil {
			log.Warn(log.CatCodex, "failed to read rollout hint",
				"projectID", projectID, "error", err)
		} else if hint != "" {
			if _, statErr := os.Stat(hint); statErr == nil {
				return hint
			}
		}
	}

	a.startRolloutTracker()
	return a.rollouts.Latest()
}

// persistRollout stores the newest rollout path so the next resume-enabled
// turn can pick up this session.
func (a *Adapter) persistRollout(ctx context.Context, projectID string) {
	if a.deps.Sessions == nil {
		return
	}
	a.startRolloutTracker()
	latest := a.rollouts.Latest()
	if latest == "" {
		return
	}
	if err := a.deps.Sessions.SetResumeHint(ctx, projectID, provider.Codex.String(), latest); err != nil {
		log.Warn(log.CatCodex, "failed to store rollout hint",
			"projectID", projectID, "error", err)
	}
}

func (a *Adapter) startRolloutTracker() {
	a.rolloutOnce.Do(func() {
		if err := a.rollouts.Start(); err != nil {
			log.Debug(log.CatCodex, "rollout tracker unavailable", "error", err)
		}
	})
}

// ensureAgentsFile seeds <workdir>/AGENTS.md with the system prompt. The
// codex CLI reads it at startup. DISABLE_AGENTS_MD is the kill switch.
func (a *Adapter) ensureAgentsFile(workDir string) {
	if envTruthy(os.Getenv("DISABLE_AGENTS_MD")) {
		return
	}
	content := "# AGENTS\n\n" + a.deps.SystemPromptText()
	if _, err := provider.EnsureMarkerFile(workDir, "AGENTS.md", content); err != nil {
		log.Warn(log.CatCodex, "failed to seed AGENTS.md",
			"workDir", workDir, "error", err)
	}
}

// projectContext renders the repo listing appended to initial prompts.
func projectContext(files []string) string {
	var b strings.Builder
	b.WriteString("\n\n<current_project_context>\n")
	if len(files) == 0 {
		b.WriteString("The project repository is currently empty.\n")
	} else {
		b.WriteString("Current project files:\n")
		for _, f := range files {
			b.WriteString("- " + f + "\n")
		}
	}
	b.WriteString("</current_project_context>")
	return b.String()
}

// writeOp sends one op envelope as a newline-terminated JSON frame.
func writeOp(h *process.Handle, id string, op any) error {
	stdin := h.Stdin()
	if stdin == nil {
		return fmt.Errorf("codex process has no stdin")
	}
	data, err := json.Marshal(opEnvelope{ID: id, Op: op})
	if err != nil {
		return fmt.Errorf("failed to marshal op: %w", err)
	}
	data = append(data, '\n')
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write op: %w", err)
	}
	return nil
}

// newRequestID mints a short unique op id.
func newRequestID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// envTruthy interprets an env toggle: anything but empty, "0", "false" or
// "no" counts as on.
func envTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

var _ provider.Adapter = (*Adapter)(nil)
