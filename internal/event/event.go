// Package event defines the normalized event streamed by every provider
// adapter. Adapters translate their wire protocols into these records; the
// manager persists all of them and broadcasts the visible ones.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced an event.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Kind classifies an event. Result and error are terminal: an adapter stream
// yields exactly one of them, last.
type Kind string

const (
	KindSystem     Kind = "system"
	KindChat       Kind = "chat"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindThinking   Kind = "thinking"
	KindResult     Kind = "result"
	KindError      Kind = "error"
)

// Recognized metadata keys.
const (
	MetaToolName      = "tool_name"
	MetaToolInput     = "tool_input"
	MetaHidden        = "hidden_from_ui"
	MetaDurationMS    = "duration_ms"
	MetaModel         = "model"
	MetaEventType     = "event_type"
	MetaCLIType       = "cli_type"
	MetaReason        = "reason"
	MetaChangesMade   = "changes_made"
	MetaOriginalEvent = "original_event"
	MetaParseError    = "parse_error"
)

// Error reasons carried under MetaReason on kind=error events.
const (
	ReasonCLINotFound      = "cli_not_found"
	ReasonCLINotConfigured = "cli_not_configured"
	ReasonProtocolError    = "protocol_error"
	ReasonSessionExpired   = "session_expired"
	ReasonExecutionFailed  = "execution_failed"
	ReasonCancelled        = "cancelled"
	ReasonProviderError    = "provider_error"
)

// Metadata holds provider-specific annotations on an event.
type Metadata map[string]any

// Hidden reports whether the event must be kept out of the broadcast stream.
func (m Metadata) Hidden() bool {
	v, ok := m[MetaHidden].(bool)
	return ok && v
}

// ToolName returns the normalized tool name, if set.
func (m Metadata) ToolName() string {
	s, _ := m[MetaToolName].(string)
	return s
}

// Reason returns the error taxonomy reason, if set.
func (m Metadata) Reason() string {
	s, _ := m[MetaReason].(string)
	return s
}

// EventType returns the raw provider tag, if set.
func (m Metadata) EventType() string {
	s, _ := m[MetaEventType].(string)
	return s
}

// Event is the unit streamed from adapters to the manager.
// Equality is by ID. CreatedAt is UTC and non-decreasing within a turn.
type Event struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Provider       string    `json:"provider"`
	Role           Role      `json:"role"`
	Kind           Kind      `json:"message_type"`
	Content        string    `json:"content"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// New constructs an event with a server-assigned ID and timestamp.
// A nil metadata map is replaced so callers can always annotate the result.
func New(provider, sessionID string, role Role, kind Kind, content string, md Metadata) Event {
	if md == nil {
		md = Metadata{}
	}
	md[MetaCLIType] = provider
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Provider:  provider,
		Role:      role,
		Kind:      kind,
		Content:   content,
		Metadata:  md,
		CreatedAt: time.Now().UTC(),
	}
}

// NewError constructs a visible terminal error event with a taxonomy reason.
func NewError(provider, sessionID, reason, msg string) Event {
	return New(provider, sessionID, RoleSystem, KindError, msg, Metadata{
		MetaReason:    reason,
		MetaEventType: "error",
	})
}

// Hidden reports whether the event is persisted but never broadcast.
func (e Event) Hidden() bool {
	return e.Metadata.Hidden()
}

// Terminal reports whether the event ends an adapter stream.
func (e Event) Terminal() bool {
	return e.Kind == KindResult || e.Kind == KindError
}
