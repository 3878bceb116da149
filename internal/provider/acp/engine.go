package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
)

// Engine runs instruction turns against one ACP agent. The qwen and gemini
// adapters are thin shells around it: all protocol handling, buffering, and
// session recovery lives here, parameterized by the Dialect.
type Engine struct {
	dialect  Dialect
	deps     provider.Deps
	sessions *provider.Sessions
	agent    *Agent
}

// NewEngine creates the turn engine for a dialect.
func NewEngine(dialect Dialect, deps provider.Deps, sessions *provider.Sessions) *Engine {
	return &Engine{
		dialect:  dialect,
		deps:     deps,
		sessions: sessions,
		agent:    NewAgent(dialect, deps.CommandFactory),
	}
}

// RunTurn executes one instruction turn, emitting normalized events on out.
// It always emits exactly one terminal event.
func (e *Engine) RunTurn(ctx context.Context, req provider.Request, out chan<- event.Event) {
	name := e.dialect.Name().String()

	workDir, err := filepath.Abs(provider.WorkDir(req.ProjectPath))
	if err != nil {
		workDir = provider.WorkDir(req.ProjectPath)
	}
	e.ensureMarker(workDir)

	client, err := e.agent.Connect(ctx)
	if err != nil {
		provider.Emit(ctx, out, event.NewError(name, req.SessionID,
			event.ReasonCLINotFound, fmt.Sprintf("%s: %v", titleCase(name), err)))
		return
	}

	sessionID, err := e.ensureSession(ctx, client, req, workDir)
	if err != nil {
		provider.Emit(ctx, out, event.NewError(name, req.SessionID,
			event.ReasonCLINotConfigured, fmt.Sprintf("%s: %v", titleCase(name), err)))
		return
	}

	prompt := e.buildPrompt(req)

	t := &acpTurn{engine: e, req: req, out: out}
	for attempt := 0; ; attempt++ {
		updates, unsubscribe := e.agent.Subscribe(sessionID)
		promptErr := e.runPrompt(ctx, client, sessionID, prompt, updates, t)
		unsubscribe()

		if promptErr == nil {
			break
		}
		if ctx.Err() != nil {
			provider.Emit(context.Background(), out, event.NewError(name, req.SessionID,
				event.ReasonCancelled, fmt.Sprintf("%s: turn cancelled", titleCase(name))))
			return
		}
		// An expired session gets exactly one silent retry on a fresh one.
		if attempt == 0 && isSessionNotFound(promptErr) {
			log.Info(log.CatACP, "session expired, creating a new one",
				"provider", name, "projectID", req.ProjectID)
			e.sessions.ClearSessionID(req.ProjectID)
			sessionID, err = e.newSession(ctx, client, req, workDir)
			if err != nil {
				provider.Emit(ctx, out, event.NewError(name, req.SessionID,
					event.ReasonSessionExpired, fmt.Sprintf("%s: %v", titleCase(name), err)))
				return
			}
			continue
		}
		provider.Emit(ctx, out, event.NewError(name, req.SessionID,
			event.ReasonProviderError, fmt.Sprintf("%s: %v", titleCase(name), promptErr)))
		return
	}

	if !t.flushChat(ctx) {
		return
	}
	provider.Emit(ctx, out, event.New(name, req.SessionID,
		event.RoleSystem, event.KindResult,
		fmt.Sprintf("%s turn completed", titleCase(name)),
		event.Metadata{event.MetaHidden: true, event.MetaEventType: "result"}))
}

// runPrompt starts session/prompt and drains session updates until the call
// resolves.
func (e *Engine) runPrompt(ctx context.Context, client *Client, sessionID string, prompt []ContentPart, updates <-chan Update, t *acpTurn) error {
	done := make(chan error, 1)
	go func() {
		done <- client.Call(ctx, "session/prompt", PromptParams{
			SessionID: sessionID,
			Prompt:    prompt,
		}, nil)
	}()

	for {
		select {
		case upd := <-updates:
			if !t.handleUpdate(ctx, upd) {
				// Consumer went away; wait out the call so the goroutine
				// does not leak, then report the context error.
				<-done
				return ctx.Err()
			}
		case err := <-done:
			// Updates dispatched before the response are already queued;
			// drain them so no tail of the turn is lost.
			for {
				select {
				case upd := <-updates:
					if !t.handleUpdate(ctx, upd) {
						return ctx.Err()
					}
				default:
					return err
				}
			}
		}
	}
}

// ensureSession returns the session to prompt: an explicit pin, the stored
// session, or a newly created one.
func (e *Engine) ensureSession(ctx context.Context, client *Client, req provider.Request, workDir string) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	stored, err := e.sessions.GetSessionID(ctx, req.ProjectID)
	if err != nil {
		log.Warn(log.CatACP, "session lookup failed, creating fresh",
			"provider", e.dialect.Name(), "projectID", req.ProjectID, "error", err)
	}
	if stored != "" {
		return stored, nil
	}
	return e.newSession(ctx, client, req, workDir)
}

// newSession creates a session, authenticating and retrying once when the
// agent refuses.
func (e *Engine) newSession(ctx context.Context, client *Client, req provider.Request, workDir string) (string, error) {
	params := NewSessionParams{Cwd: workDir, MCPServers: []any{}}

	var result NewSessionResult
	err := client.Call(ctx, "session/new", params, &result)
	if err != nil {
		log.Info(log.CatACP, "session/new failed, authenticating",
			"provider", e.dialect.Name(), "method", e.dialect.AuthMethod(), "error", err)
		if authErr := client.Call(ctx, "authenticate", AuthenticateParams{MethodID: e.dialect.AuthMethod()}, nil); authErr != nil {
			return "", fmt.Errorf("authentication failed: %w", authErr)
		}
		if err = client.Call(ctx, "session/new", params, &result); err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("agent returned an empty session id")
	}

	if err := e.sessions.SetSessionID(ctx, req.ProjectID, result.SessionID); err != nil {
		log.Warn(log.CatACP, "failed to persist session",
			"provider", e.dialect.Name(), "projectID", req.ProjectID, "error", err)
	}
	return result.SessionID, nil
}

// buildPrompt renders the prompt parts: instruction text plus inline images
// for dialects that take them.
func (e *Engine) buildPrompt(req provider.Request) []ContentPart {
	parts := []ContentPart{TextPart(req.Instruction)}

	if len(req.Images) == 0 {
		return parts
	}
	if !e.dialect.SupportsImages() {
		log.Warn(log.CatACP, "provider does not accept images, ignoring",
			"provider", e.dialect.Name(), "count", len(req.Images))
		return parts
	}

	for i, img := range req.Images {
		mime, data, err := provider.EncodeImage(img)
		if err != nil {
			log.Warn(log.CatACP, "dropping image attachment",
				"provider", e.dialect.Name(), "index", i, "error", err)
			continue
		}
		parts = append(parts, ImagePart(mime, data))
	}
	return parts
}

// ensureMarker seeds the provider instruction file in the repo.
func (e *Engine) ensureMarker(workDir string) {
	marker := e.dialect.MarkerFile()
	content := "# " + strings.TrimSuffix(marker, ".md") + "\n\n" + e.deps.SystemPromptText()
	if _, err := provider.EnsureMarkerFile(workDir, marker, content); err != nil {
		log.Warn(log.CatACP, "failed to seed instruction file",
			"provider", e.dialect.Name(), "workDir", workDir, "error", err)
	}
}

// acpTurn holds per-turn parse state: the thought and chat buffers.
type acpTurn struct {
	engine *Engine
	req    provider.Request
	out    chan<- event.Event

	thoughts strings.Builder
	text     strings.Builder
}

// handleUpdate processes one session/update. Returns false when the stream
// consumer went away.
func (t *acpTurn) handleUpdate(ctx context.Context, upd Update) bool {
	switch upd.UpdateKind() {
	case UpdateThoughtChunk:
		t.thoughts.WriteString(upd.ChunkText())
		return true

	case UpdateMessageChunk:
		// The thought block renders as soon as the answer starts, so the
		// UI shows reasoning before prose rather than after.
		if t.text.Len() == 0 && t.thoughts.Len() > 0 {
			thinking := composeThinking(t.thoughts.String())
			t.thoughts.Reset()
			if !t.emitChat(ctx, thinking, "thinking") {
				return false
			}
		}
		t.text.WriteString(upd.ChunkText())
		return true

	case UpdateToolCall, UpdateToolCallUpdate:
		return t.handleToolCall(ctx, upd)

	case UpdatePlan:
		if !t.flushChat(ctx) {
			return false
		}
		return t.emitChat(ctx, renderPlan(upd.Entries), "plan")

	default:
		log.Debug(log.CatACP, "ignoring update",
			"provider", t.engine.dialect.Name(), "update", upd.UpdateKind())
		return true
	}
}

func (t *acpTurn) handleToolCall(ctx context.Context, upd Update) bool {
	isUpdate := upd.UpdateKind() == UpdateToolCallUpdate
	rawName := toolNameFrom(upd)
	input := toolInputFrom(upd)
	summary := provider.ToolSummary(rawName, input)

	if !t.engine.dialect.ToolCallVisible(rawName, summary, isUpdate) {
		return true
	}
	if !t.flushChat(ctx) {
		return false
	}

	eventType := UpdateToolCall
	if isUpdate {
		eventType = UpdateToolCallUpdate
	}
	return provider.Emit(ctx, t.out, event.New(t.engine.dialect.Name().String(), t.req.SessionID,
		event.RoleAssistant, event.KindToolUse, summary,
		event.Metadata{
			event.MetaEventType: eventType,
			event.MetaToolName:  provider.NormalizeToolName(rawName),
			event.MetaToolInput: input,
		}))
}

// flushChat composes and emits the buffered thoughts and text as one chat
// event. No-op when both buffers are empty.
func (t *acpTurn) flushChat(ctx context.Context) bool {
	if t.thoughts.Len() == 0 && t.text.Len() == 0 {
		return true
	}

	var b strings.Builder
	if t.thoughts.Len() > 0 {
		b.WriteString(composeThinking(t.thoughts.String()))
	}
	b.WriteString(t.text.String())
	t.thoughts.Reset()
	t.text.Reset()

	content := t.engine.dialect.CleanChat(b.String())
	if strings.TrimSpace(content) == "" {
		return true
	}
	return t.emitChat(ctx, content, "agent_message")
}

func (t *acpTurn) emitChat(ctx context.Context, content, eventType string) bool {
	return provider.Emit(ctx, t.out, event.New(t.engine.dialect.Name().String(), t.req.SessionID,
		event.RoleAssistant, event.KindChat, content,
		event.Metadata{event.MetaEventType: eventType}))
}

// composeThinking wraps a thought buffer for chat display.
func composeThinking(thoughts string) string {
	return "<thinking>\n" + thoughts + "\n</thinking>\n"
}

// renderPlan renders up to six plan entries as bullet lines.
func renderPlan(entries []PlanEntry) string {
	if len(entries) == 0 {
		return "Planning…"
	}
	if len(entries) > 6 {
		entries = entries[:6]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Title == "" {
			continue
		}
		lines = append(lines, "• "+e.Title)
	}
	if len(lines) == 0 {
		return "Planning…"
	}
	return strings.Join(lines, "\n")
}

// opaqueToolNames are tool-call id prefixes that carry no information.
var opaqueToolNames = map[string]bool{
	"call": true, "tool": true, "toolcall": true,
}

// toolNameFrom extracts the raw tool name from an update: the kind field,
// else the first segment of the tool-call id, else the title.
func toolNameFrom(upd Update) string {
	if upd.Kind != "" {
		return upd.Kind
	}
	if id := upd.ToolCallID; id != "" {
		seg := id
		if idx := strings.IndexAny(id, "-_"); idx > 0 {
			seg = id[:idx]
		}
		if seg != "" && !opaqueToolNames[strings.ToLower(seg)] {
			return seg
		}
	}
	if upd.Title != "" {
		return upd.Title
	}
	return "tool"
}

// toolInputFrom extracts the file target of a tool call. Agents put it in
// locations first, then in assorted keys of the content list.
func toolInputFrom(upd Update) map[string]any {
	for _, loc := range upd.Locations {
		if p := loc.resolve(); p != "" {
			return map[string]any{"path": p}
		}
	}

	if len(upd.Content) > 0 {
		var entries []map[string]any
		if err := json.Unmarshal(upd.Content, &entries); err == nil {
			for _, entry := range entries {
				for _, key := range []string{"path", "file", "file_path"} {
					if s, ok := entry[key].(string); ok && s != "" {
						return map[string]any{"path": trimFileScheme(s)}
					}
				}
				if args, ok := entry["args"].(map[string]any); ok {
					if s, ok := args["path"].(string); ok && s != "" {
						return map[string]any{"path": s}
					}
				}
			}
		}
	}
	return map[string]any{}
}

// isSessionNotFound matches the agent's session-expiry error.
func isSessionNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Session not found")
}

// titleCase renders a provider name for user-facing messages.
func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
