// Package manager coordinates instruction turns: it selects a provider
// adapter, gates on availability, persists every streamed event, broadcasts
// the visible ones, and computes the turn outcome.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/chorus/internal/availability"
	"github.com/zjrosen/chorus/internal/event"
	"github.com/zjrosen/chorus/internal/git"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/store"
	"github.com/zjrosen/chorus/internal/tracing"
)

// Broadcaster fans visible events out to connected clients. Delivery is
// best-effort; implementations log failures and never return them.
type Broadcaster interface {
	Send(projectID string, ev event.Event)
}

// Request describes one instruction turn.
type Request struct {
	ProjectID       string           `json:"project_id"`
	ProjectPath     string           `json:"project_path"`
	SessionID       string           `json:"session_id"`
	ConversationID  string           `json:"conversation_id"`
	Provider        provider.Name    `json:"provider"`
	Instruction     string           `json:"instruction"`
	Images          []provider.Image `json:"images,omitempty"`
	Model           string           `json:"model,omitempty"`
	IsInitialPrompt bool             `json:"is_initial_prompt,omitempty"`
}

// Outcome is the result of one turn.
type Outcome struct {
	Success       bool          `json:"success"`
	Provider      provider.Name `json:"provider"`
	HasChanges    bool          `json:"has_changes"`
	MessagesCount int           `json:"messages_count"`
	Message       string        `json:"message,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Manager executes turns against the registered provider adapters.
type Manager struct {
	store       store.Store
	broadcaster Broadcaster
	checker     *availability.Checker
	adapters    map[provider.Name]provider.Adapter
	changes     git.Detector
	tracer      trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithTracer sets the tracer for turn span instrumentation.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithChangeDetector replaces the git-backed working-tree inspector.
func WithChangeDetector(d git.Detector) Option {
	return func(m *Manager) {
		if d != nil {
			m.changes = d
		}
	}
}

// New builds a manager over every registered provider adapter. broadcaster
// may be nil when no client fan-out is wired (tests, one-shot commands).
func New(st store.Store, broadcaster Broadcaster, checker *availability.Checker, deps provider.Deps, opts ...Option) *Manager {
	adapters := make(map[provider.Name]provider.Adapter)
	for _, name := range provider.Registered() {
		adapter, err := provider.New(name, deps)
		if err != nil {
			// Registered names always construct; keep the contract honest.
			log.Error(log.CatManager, "failed to construct adapter",
				"provider", name, "error", err)
			continue
		}
		adapters[name] = adapter
	}

	m := &Manager{
		store:       st,
		broadcaster: broadcaster,
		checker:     checker,
		adapters:    adapters,
		changes:     git.NewExec(),
		tracer:      noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Adapters returns every constructed adapter in display order.
func (m *Manager) Adapters() []provider.Adapter {
	adapters := make([]provider.Adapter, 0, len(m.adapters))
	for _, name := range provider.All() {
		if a, ok := m.adapters[name]; ok {
			adapters = append(adapters, a)
		}
	}
	return adapters
}

// Adapter returns the adapter for a provider, nil when not implemented.
func (m *Manager) Adapter(name provider.Name) provider.Adapter {
	return m.adapters[name]
}

// Execute runs one turn. Expected provider failures come back in the
// Outcome; Execute itself never returns an error to the caller.
func (m *Manager) Execute(ctx context.Context, req Request) Outcome {
	adapter, ok := m.adapters[req.Provider]
	if !ok {
		return Outcome{
			Provider: req.Provider,
			Error:    fmt.Sprintf("provider not implemented: %s", req.Provider),
		}
	}

	if status := m.checker.Check(ctx, adapter); !status.Available {
		errMsg := status.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("provider not available: %s", req.Provider)
		}
		return Outcome{Provider: req.Provider, Error: errMsg}
	}

	ctx, span := m.tracer.Start(ctx, tracing.SpanTurnExecute,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	turnID := uuid.NewString()
	span.SetAttributes(
		attribute.String(tracing.AttrProvider, req.Provider.String()),
		attribute.String(tracing.AttrProjectID, req.ProjectID),
		attribute.String(tracing.AttrTurnID, turnID),
		attribute.String(tracing.AttrSessionID, req.SessionID),
		attribute.String(tracing.AttrModel, req.Model),
		attribute.Bool(tracing.AttrInitial, req.IsInitialPrompt),
	)

	m.openTurn(ctx, turnID, req)
	outcome, eventCount := m.consume(ctx, adapter, req)
	m.closeTurn(ctx, turnID, outcome, eventCount)

	span.SetAttributes(
		attribute.Int(tracing.AttrEventCount, eventCount),
		attribute.Bool(tracing.AttrHasChanges, outcome.HasChanges),
		attribute.Bool(tracing.AttrHasError, !outcome.Success),
	)
	if outcome.Error != "" {
		span.SetAttributes(attribute.String(tracing.AttrErrMessage, outcome.Error))
	}
	return outcome
}

// consume drains the adapter stream: every event is persisted, visible ones
// are broadcast, and the provider-specific success rule is applied.
func (m *Manager) consume(ctx context.Context, adapter provider.Adapter, req Request) (Outcome, int) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanProviderStream)
	defer span.End()

	// Not every provider annotates its events with change metadata; diff
	// the working tree around the turn as a fallback signal.
	var beforeTree string
	treeTracked := req.ProjectPath != "" && m.changes.IsRepo(ctx, req.ProjectPath)
	if treeTracked {
		var err error
		if beforeTree, err = m.changes.Snapshot(ctx, req.ProjectPath); err != nil {
			log.Debug(log.CatManager, "pre-turn tree snapshot failed",
				"projectPath", req.ProjectPath, "error", err)
			treeTracked = false
		}
	}

	stream := adapter.Stream(ctx, provider.Request{
		ProjectID:       req.ProjectID,
		ProjectPath:     req.ProjectPath,
		SessionID:       req.SessionID,
		ConversationID:  req.ConversationID,
		Instruction:     req.Instruction,
		Images:          req.Images,
		Model:           req.Model,
		IsInitialPrompt: req.IsInitialPrompt,
	})

	var (
		count         int
		hasError      bool
		hasChanges    bool
		lastError     string
		resultSeen    bool
		resultSuccess bool
	)

	for ev := range stream {
		ev.ProjectID = req.ProjectID
		ev.ConversationID = req.ConversationID

		if err := m.store.AppendEvent(ctx, ev); err != nil {
			// Persistence trouble must not kill an in-flight turn.
			log.Error(log.CatManager, "failed to persist event",
				"projectID", req.ProjectID, "eventID", ev.ID, "error", err)
		}
		count++

		if ev.Kind == event.KindError {
			hasError = true
			lastError = ev.Content
		}
		if _, ok := ev.Metadata[event.MetaChangesMade]; ok {
			hasChanges = true
		}
		if req.Provider == provider.Cursor && ev.Kind == event.KindResult {
			resultSeen = true
			resultSuccess = cursorResultSuccess(ev)
		}

		if !ev.Hidden() && m.broadcaster != nil {
			m.broadcaster.Send(req.ProjectID, ev)
		}
	}

	if treeTracked && !hasChanges {
		// The turn context may already be cancelled; the snapshot still
		// has to run.
		afterTree, err := m.changes.Snapshot(context.WithoutCancel(ctx), req.ProjectPath)
		if err != nil {
			log.Debug(log.CatManager, "post-turn tree snapshot failed",
				"projectPath", req.ProjectPath, "error", err)
		} else if afterTree != beforeTree {
			hasChanges = true
		}
	}

	success := !hasError
	// Cursor reports failures inside its result event rather than by
	// emitting error events; trust the result when one arrived.
	if req.Provider == provider.Cursor && resultSeen {
		success = resultSuccess
	}

	if ctx.Err() != nil {
		return Outcome{Provider: req.Provider, Error: "cancelled", HasChanges: hasChanges, MessagesCount: count}, count
	}

	outcome := Outcome{
		Success:       success,
		Provider:      req.Provider,
		HasChanges:    hasChanges,
		MessagesCount: count,
	}
	if !success {
		outcome.Error = lastError
		if outcome.Error == "" {
			outcome.Error = fmt.Sprintf("%s turn failed", req.Provider)
		}
	}
	return outcome, count
}

// cursorResultSuccess applies cursor's result rule: an explicit success
// subtype wins, an error flag or subtype fails, anything else passes.
func cursorResultSuccess(ev event.Event) bool {
	original, _ := ev.Metadata[event.MetaOriginalEvent].(map[string]any)
	if original == nil {
		return true
	}
	if subtype, _ := original["subtype"].(string); subtype == "success" {
		return true
	} else if subtype == "error" {
		return false
	}
	if isErr, _ := original["is_error"].(bool); isErr {
		return false
	}
	return true
}

// openTurn records the turn row. Store failures are logged, never fatal.
func (m *Manager) openTurn(ctx context.Context, turnID string, req Request) {
	err := m.store.CreateTurn(ctx, store.Turn{
		ID:          turnID,
		ProjectID:   req.ProjectID,
		Provider:    req.Provider.String(),
		Model:       req.Model,
		Instruction: req.Instruction,
		Status:      store.TurnActive,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Error(log.CatManager, "failed to create turn row",
			"turnID", turnID, "error", err)
	}
}

// closeTurn finalizes the turn row with its outcome.
func (m *Manager) closeTurn(ctx context.Context, turnID string, outcome Outcome, eventCount int) {
	status := store.TurnCompleted
	if !outcome.Success {
		status = store.TurnFailed
	}
	if err := m.store.FinishTurn(ctx, turnID, status, eventCount, outcome.HasChanges, outcome.Error); err != nil {
		log.Error(log.CatManager, "failed to finish turn row",
			"turnID", turnID, "error", err)
	}
}
