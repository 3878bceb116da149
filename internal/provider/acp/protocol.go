// Package acp implements the client side of the Agent Client Protocol:
// JSON-RPC 2.0 over newline-delimited JSON on the stdio of one long-lived
// agent subprocess. The qwen and gemini CLIs both speak it; their
// differences live behind the Dialect interface.
package acp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONRPCVersion is the JSON-RPC 2.0 version string.
const JSONRPCVersion = "2.0"

// ProtocolVersion is the ACP protocol version this client speaks.
const ProtocolVersion = 1

// message is the wire superset: requests carry id+method, responses carry
// id+result/error, notifications carry method only.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// request is an outbound client request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// response answers an agent-initiated request.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Error codes sent for agent-initiated requests.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeHandlerFailed  = -32000
)

// InitializeParams declares the client's capabilities. File-system
// capabilities are off: agents do their own file IO in the working
// directory and must not route it through us.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	FS FSCapability `json:"fs"`
}

// FSCapability declares file-system proxying support.
type FSCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// AuthenticateParams selects an authentication method.
type AuthenticateParams struct {
	MethodID string `json:"methodId"`
}

// NewSessionParams creates an agent session rooted at a working directory.
type NewSessionParams struct {
	Cwd        string `json:"cwd"`
	MCPServers []any  `json:"mcpServers"`
}

// NewSessionResult carries the agent-assigned session id.
type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// PromptParams runs one instruction turn in a session.
type PromptParams struct {
	SessionID string        `json:"sessionId"`
	Prompt    []ContentPart `json:"prompt"`
}

// ContentPart is one prompt part: text, or an inline base64 image.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an inline image content part.
func ImagePart(mimeType, data string) ContentPart {
	return ContentPart{Type: "image", MimeType: mimeType, Data: data}
}

// PermissionRequest is the params of session/request_permission.
type PermissionRequest struct {
	Options []PermissionOption `json:"options"`
}

// PermissionOption is one choice offered by the agent.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Kind     string `json:"kind"`
}

// PermissionOutcome is the session/request_permission result envelope.
type PermissionOutcome struct {
	Outcome PermissionDecision `json:"outcome"`
}

// PermissionDecision selects an option or cancels the request.
type PermissionDecision struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// FSReadResult answers fs/read_text_file.
type FSReadResult struct {
	Content string `json:"content"`
}

// SessionNotification is the params of a session/update notification.
type SessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// Update is one session/update payload. Field presence varies by kind, and
// Content is kept raw because message chunks carry an object while tool
// calls carry a list.
type Update struct {
	SessionUpdate string          `json:"sessionUpdate,omitempty"`
	Type          string          `json:"type,omitempty"`
	Text          string          `json:"text,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Locations     []Location      `json:"locations,omitempty"`
	Entries       []PlanEntry     `json:"entries,omitempty"`
}

// Update kinds the engine understands. Anything else is ignored.
const (
	UpdateMessageChunk   = "agent_message_chunk"
	UpdateThoughtChunk   = "agent_thought_chunk"
	UpdateToolCall       = "tool_call"
	UpdateToolCallUpdate = "tool_call_update"
	UpdatePlan           = "plan"
)

// UpdateKind returns the update discriminator. Newer agents send
// sessionUpdate; older ones send type.
func (u Update) UpdateKind() string {
	if u.SessionUpdate != "" {
		return u.SessionUpdate
	}
	return u.Type
}

// ChunkText extracts the text of a message or thought chunk, whichever of
// content.text and text the agent populated.
func (u Update) ChunkText() string {
	if len(u.Content) > 0 {
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(u.Content, &obj); err == nil && obj.Text != "" {
			return obj.Text
		}
	}
	return u.Text
}

// Location points a tool call at a file. Agents disagree on the key name,
// so every spelling seen in the wild gets a field.
type Location struct {
	Path          string `json:"path,omitempty"`
	File          string `json:"file,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	FilePathCamel string `json:"filePath,omitempty"`
	URI           string `json:"uri,omitempty"`
}

// resolve returns the first populated path field, with any file:// scheme
// stripped.
func (l Location) resolve() string {
	for _, p := range []string{l.Path, l.File, l.FilePath, l.FilePathCamel, l.URI} {
		if p != "" {
			return trimFileScheme(p)
		}
	}
	return ""
}

// PlanEntry is one step of a plan update. Some agents send bare strings
// instead of objects.
type PlanEntry struct {
	Title string `json:"title"`
}

func (p *PlanEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Title = s
		return nil
	}
	type entry PlanEntry
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	p.Title = e.Title
	return nil
}

func trimFileScheme(p string) string {
	return strings.TrimPrefix(p, "file://")
}
