// Package cursor integrates the Cursor Agent CLI: one subprocess per turn
// speaking stream-json NDJSON on stdout. Cursor does not exit after its
// result event, so the adapter terminates the process itself.
package cursor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/provider/process"
)

func init() {
	provider.Register(provider.Cursor, func(deps provider.Deps) provider.Adapter {
		return New(deps)
	})
}

// cursorBin is the CLI binary name.
const cursorBin = "cursor-agent"

// Adapter drives the cursor-agent CLI.
type Adapter struct {
	deps provider.Deps
	*provider.Sessions
}

// New creates a cursor adapter.
func New(deps provider.Deps) *Adapter {
	return &Adapter{
		deps:     deps,
		Sessions: provider.NewSessions(provider.Cursor, deps.Sessions),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.Cursor }

// CheckAvailability probes `cursor-agent -h`.
func (a *Adapter) CheckAvailability(ctx context.Context) provider.Status {
	out, err := provider.Probe(ctx, a.deps.CommandFactory, cursorBin, "-h")
	if err != nil {
		if provider.IsNotFound(err) {
			return provider.Status{
				Error: "Cursor Agent CLI not found. Install with: curl https://cursor.com/install -fsS | bash",
			}
		}
		return provider.Status{
			Error: fmt.Sprintf("Cursor Agent CLI failed its probe: %v", err),
		}
	}
	if !strings.Contains(strings.ToLower(out), "cursor-agent") {
		return provider.Status{Error: "cursor-agent -h produced unexpected output"}
	}
	return provider.Status{
		Available:     true,
		Configured:    true,
		Models:        a.SupportedModels(),
		DefaultModels: []string{"gpt-5", "sonnet-4"},
	}
}

// SupportedModels lists every accepted alias and native name.
func (a *Adapter) SupportedModels() []string {
	return provider.SupportedModels(provider.Cursor)
}

// IsModelSupported reports whether the model is usable here.
func (a *Adapter) IsModelSupported(model string) bool {
	return provider.IsModelSupported(provider.Cursor, model)
}

// Stream runs one turn against the cursor-agent CLI.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		a.run(ctx, req, out)
	}()
	return out
}

// turn tracks per-turn parse state: the rolling assistant text buffer and
// whether the result sentinel arrived.
type turn struct {
	req      provider.Request
	text     strings.Builder
	terminal bool
}

func (a *Adapter) run(ctx context.Context, req provider.Request, out chan<- event.Event) {
	resume, err := a.resumeSession(ctx, req)
	if err != nil {
		log.Warn(log.CatCursor, "session lookup failed, starting fresh",
			"projectID", req.ProjectID, "error", err)
	}

	h, err := process.NewBuilder(ctx).
		WithExecutable(cursorBin, buildArgs(req, resume)).
		WithWorkDir(provider.WorkDir(req.ProjectPath)).
		WithName(provider.Cursor.String()).
		WithStderrCapture(true).
		WithCommandFactory(a.deps.CommandFactory).
		Build()
	if err != nil {
		provider.Emit(ctx, out, event.NewError(provider.Cursor.String(), req.SessionID,
			event.ReasonCLINotFound, fmt.Sprintf("Cursor: failed to start CLI: %v", err)))
		return
	}
	defer func() { _ = h.Cancel() }()

	t := &turn{req: req}
	for line := range h.Lines() {
		if !a.handleLine(ctx, t, line, out) {
			return
		}
		if t.terminal {
			// Cursor keeps the process alive after its result; stop it.
			_ = h.Cancel()
			return
		}
	}

	if !a.flushText(ctx, t, out) {
		return
	}
	a.finishWithout(ctx, req, h, out)
}

// handleLine dispatches one NDJSON line. Returns false when the stream
// consumer went away.
func (a *Adapter) handleLine(ctx context.Context, t *turn, line string, out chan<- event.Event) bool {
	m, err := parseLine(line)
	if err != nil {
		// Never abort on garbage: surface the raw line so nothing is lost.
		return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
			event.RoleAssistant, event.KindChat, line,
			event.Metadata{
				event.MetaEventType:  "raw",
				event.MetaParseError: err.Error(),
			}))
	}

	switch m.eventType() {
	case "assistant":
		t.text.WriteString(m.assistantText())
		return true

	case "user":
		// Echo of our own prompt; not surfaced.
		return true

	case "system":
		if !a.flushText(ctx, t, out) {
			return false
		}
		model := m.stringField("model")
		return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
			event.RoleSystem, event.KindSystem,
			fmt.Sprintf("🔧 Cursor Agent initialized (Model: %s)", model),
			event.Metadata{
				event.MetaHidden:    true,
				event.MetaEventType: "system",
				event.MetaModel:     model,
			}))

	case "tool_call":
		return a.handleToolCall(ctx, t, m, out)

	case "result":
		return a.handleResult(ctx, t, m, out)

	default:
		log.Debug(log.CatCursor, "ignoring event", "type", m.eventType())
		return true
	}
}

func (a *Adapter) handleToolCall(ctx context.Context, t *turn, m raw, out chan<- event.Event) bool {
	if !a.flushText(ctx, t, out) {
		return false
	}

	name, payload := m.toolCall()
	if name == "" {
		log.Debug(log.CatCursor, "tool_call without payload", "subtype", m.subtype())
		return true
	}

	switch m.subtype() {
	case "completed":
		return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
			event.RoleAssistant, event.KindToolResult, toolResult(payload),
			event.Metadata{
				event.MetaHidden:    true,
				event.MetaEventType: "tool_result",
				event.MetaToolName:  provider.NormalizeToolName(name),
			}))
	default: // started
		args := toolArgs(payload)
		return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
			event.RoleAssistant, event.KindChat,
			provider.ToolSummary(name, args),
			event.Metadata{
				event.MetaEventType: "tool_call",
				event.MetaToolName:  provider.NormalizeToolName(name),
				event.MetaToolInput: args,
			}))
	}
}

func (a *Adapter) handleResult(ctx context.Context, t *turn, m raw, out chan<- event.Event) bool {
	if !a.flushText(ctx, t, out) {
		return false
	}

	if id := m.sessionID(); id != "" {
		if err := a.SetSessionID(ctx, t.req.ProjectID, id); err != nil {
			log.Warn(log.CatCursor, "failed to store session",
				"projectID", t.req.ProjectID, "error", err)
		}
	}

	md := event.Metadata{
		event.MetaHidden:        true,
		event.MetaEventType:     "result",
		event.MetaOriginalEvent: map[string]any(m),
	}
	content := "Execution completed"
	if ms, ok := m.durationMS(); ok {
		md[event.MetaDurationMS] = ms
		content = fmt.Sprintf("Execution completed in %dms", ms)
	}

	t.terminal = true
	return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
		event.RoleSystem, event.KindResult, content, md))
}

// flushText emits the buffered assistant text as one chat event. A turn's
// prose often arrives split across many assistant events; the buffer
// reassembles it and flushes on the first non-assistant event or stream end.
func (a *Adapter) flushText(ctx context.Context, t *turn, out chan<- event.Event) bool {
	if t.text.Len() == 0 {
		return true
	}
	text := t.text.String()
	t.text.Reset()
	return provider.Emit(ctx, out, event.New(provider.Cursor.String(), t.req.SessionID,
		event.RoleAssistant, event.KindChat, text,
		event.Metadata{event.MetaEventType: "assistant_aggregated"}))
}

// finishWithout closes a stream that ended before cursor's result event.
func (a *Adapter) finishWithout(ctx context.Context, req provider.Request, h *process.Handle, out chan<- event.Event) {
	if ctx.Err() != nil {
		provider.Emit(context.Background(), out, event.NewError(provider.Cursor.String(), req.SessionID,
			event.ReasonCancelled, "Cursor: turn cancelled"))
		return
	}

	<-h.Done()
	if h.Status() == process.StatusFailed {
		msg := "Cursor: CLI exited before completing the turn"
		if tail := h.StderrTail(); len(tail) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, strings.Join(tail, "\n"))
		}
		provider.Emit(ctx, out, event.NewError(provider.Cursor.String(), req.SessionID,
			event.ReasonExecutionFailed, msg))
		return
	}

	provider.Emit(ctx, out, event.New(provider.Cursor.String(), req.SessionID,
		event.RoleSystem, event.KindResult, "Execution completed",
		event.Metadata{event.MetaHidden: true, event.MetaEventType: "result"}))
}

// resumeSession picks the session to resume: an explicit pin wins, else the
// stored session for the project.
func (a *Adapter) resumeSession(ctx context.Context, req provider.Request) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	return a.GetSessionID(ctx, req.ProjectID)
}

// buildArgs assembles the cursor-agent invocation for one turn.
func buildArgs(req provider.Request, resume string) []string {
	args := []string{
		"--force",
		"-p", req.Instruction,
		"--output-format", "stream-json",
	}
	if resume != "" {
		args = append(args, "--resume", resume)
	}
	if key := os.Getenv("CURSOR_API_KEY"); key != "" {
		args = append(args, "--api-key", key)
	}
	model := req.Model
	if model == "" {
		model = os.Getenv("CURSOR_MODEL")
	}
	if model != "" {
		args = append(args, "-m", provider.ResolveModel(provider.Cursor, model))
	}
	return args
}

var _ provider.Adapter = (*Adapter)(nil)
