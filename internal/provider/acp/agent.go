package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider/process"
)

// updateQueueSize bounds each turn's notification queue. Agents emit chunked
// text faster than a slow consumer can drain; on overflow the new update is
// dropped with a warning rather than blocking the reader loop.
const updateQueueSize = 256

// Agent owns the long-lived subprocess and JSON-RPC client for one ACP
// provider, shared by every project. Sessions are per-project; the process
// and its initialize handshake are not.
type Agent struct {
	dialect Dialect
	factory process.CommandFactoryFunc

	mu          sync.Mutex
	handle      *process.Handle
	client      *Client
	initialized bool

	submu sync.Mutex
	subs  map[string][]chan Update
}

// NewAgent creates the shared agent for a dialect. The process is spawned
// lazily on the first turn.
func NewAgent(dialect Dialect, factory process.CommandFactoryFunc) *Agent {
	return &Agent{
		dialect: dialect,
		factory: factory,
		subs:    make(map[string][]chan Update),
	}
}

// Connect returns the running client, spawning and initializing the agent
// process when needed. A previously exited process is respawned and
// re-initialized transparently.
func (a *Agent) Connect(ctx context.Context) (*Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		select {
		case <-a.client.Done():
			// Process died; fall through and respawn.
			log.Warn(log.CatACP, "agent process exited, respawning",
				"provider", a.dialect.Name())
			a.client = nil
			a.handle = nil
			a.initialized = false
		default:
			if !a.initialized {
				if err := a.initializeLocked(ctx); err != nil {
					return nil, err
				}
			}
			return a.client, nil
		}
	}

	if err := a.spawnLocked(); err != nil {
		return nil, err
	}
	if err := a.initializeLocked(ctx); err != nil {
		return nil, err
	}
	return a.client, nil
}

// spawnLocked starts the subprocess and its reader loop. The process is
// bound to the background context: it outlives any single turn.
func (a *Agent) spawnLocked() error {
	bin, args, env := a.dialect.Command()

	h, err := process.NewBuilder(context.Background()).
		WithExecutable(bin, args).
		WithEnv(append(env, "NO_BROWSER=1")).
		WithName(a.dialect.Name().String()).
		WithStdin(true).
		WithStderrFilter(a.dialect.StderrFilter).
		WithCommandFactory(a.factory).
		Build()
	if err != nil {
		return fmt.Errorf("failed to start %s agent: %w", a.dialect.Name(), err)
	}

	c := NewClient(a.dialect.Name().String(), h.Stdin())
	a.registerHandlers(c)
	go c.Run(h.Lines())

	a.handle = h
	a.client = c
	a.initialized = false
	return nil
}

// initializeLocked runs the one-time initialize handshake.
func (a *Agent) initializeLocked(ctx context.Context) error {
	err := a.client.Call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientCapabilities: ClientCapabilities{
			FS: FSCapability{ReadTextFile: false, WriteTextFile: false},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize %s agent: %w", a.dialect.Name(), err)
	}
	a.initialized = true
	return nil
}

// registerHandlers wires the agent-initiated traffic: permission prompts are
// auto-approved, file-system proxying is declined, and session updates are
// routed into per-session queues.
func (a *Agent) registerHandlers(c *Client) {
	c.OnRequest("session/request_permission", handlePermission)
	c.OnRequest("fs/read_text_file", func(json.RawMessage) (any, error) {
		// Conservative deny: agents read files themselves in the workdir.
		return FSReadResult{Content: ""}, nil
	})
	writeOK := func(json.RawMessage) (any, error) {
		return map[string]any{"success": true}, nil
	}
	c.OnRequest("fs/write_text_file", writeOK)
	for _, method := range a.dialect.ExtraRequestMethods() {
		c.OnRequest(method, writeOK)
	}

	c.OnNotification("session/update", func(params json.RawMessage) {
		var note SessionNotification
		if err := json.Unmarshal(params, &note); err != nil {
			log.Debug(log.CatACP, "malformed session/update",
				"provider", a.dialect.Name(), "error", err)
			return
		}
		var upd Update
		if err := json.Unmarshal(note.Update, &upd); err != nil {
			log.Debug(log.CatACP, "malformed update payload",
				"provider", a.dialect.Name(), "error", err)
			return
		}
		a.dispatch(note.SessionID, upd)
	})
}

// handlePermission auto-approves: allow_always wins, then allow_once, then
// the first option; no options means the request is cancelled.
func handlePermission(params json.RawMessage) (any, error) {
	var req PermissionRequest
	if err := json.Unmarshal(params, &req); err != nil || len(req.Options) == 0 {
		return PermissionOutcome{Outcome: PermissionDecision{Outcome: "cancelled"}}, nil
	}

	selected := req.Options[0]
	for _, kind := range []string{"allow_always", "allow_once"} {
		for _, opt := range req.Options {
			if opt.Kind == kind {
				return PermissionOutcome{Outcome: PermissionDecision{
					Outcome: "selected", OptionID: opt.OptionID,
				}}, nil
			}
		}
	}
	return PermissionOutcome{Outcome: PermissionDecision{
		Outcome: "selected", OptionID: selected.OptionID,
	}}, nil
}

// Subscribe registers a queue for one session's updates. The returned
// cancel must be called when the turn ends.
func (a *Agent) Subscribe(sessionID string) (<-chan Update, func()) {
	ch := make(chan Update, updateQueueSize)

	a.submu.Lock()
	a.subs[sessionID] = append(a.subs[sessionID], ch)
	a.submu.Unlock()

	cancel := func() {
		a.submu.Lock()
		defer a.submu.Unlock()
		queues := a.subs[sessionID]
		for i, q := range queues {
			if q == ch {
				a.subs[sessionID] = append(queues[:i], queues[i+1:]...)
				break
			}
		}
		if len(a.subs[sessionID]) == 0 {
			delete(a.subs, sessionID)
		}
	}
	return ch, cancel
}

// dispatch routes an update to its session's queues without ever blocking
// the reader loop.
func (a *Agent) dispatch(sessionID string, upd Update) {
	a.submu.Lock()
	queues := append([]chan Update(nil), a.subs[sessionID]...)
	a.submu.Unlock()

	if len(queues) == 0 {
		log.Debug(log.CatACP, "update for inactive session",
			"provider", a.dialect.Name(), "sessionID", sessionID,
			"update", upd.UpdateKind())
		return
	}
	for _, q := range queues {
		select {
		case q <- upd:
		default:
			log.Warn(log.CatACP, "update queue full, dropping update",
				"provider", a.dialect.Name(), "sessionID", sessionID,
				"update", upd.UpdateKind())
		}
	}
}
