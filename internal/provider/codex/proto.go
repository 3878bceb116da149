package codex

import (
	"encoding/json"
	"strings"
)

// Outbound envelope: one op per line on the agent's stdin.
type opEnvelope struct {
	ID string `json:"id"`
	Op any    `json:"op"`
}

// Inbound envelope: one msg per line on the agent's stdout. Msg payloads
// vary by type; fields stay raw until the type is known.
type msgEnvelope struct {
	ID  string   `json:"id"`
	Msg protoMsg `json:"msg"`
}

type protoMsg struct {
	Type string `json:"type"`

	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	Delta   string `json:"delta"`
	Message string `json:"message"`

	Command    json.RawMessage `json:"command"`
	Changes    map[string]any  `json:"changes"`
	Query      string          `json:"query"`
	Invocation *mcpInvocation  `json:"invocation"`
}

type mcpInvocation struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

// commandLine renders an exec_command_begin command, which arrives either as
// an argv list or a plain string.
func (m protoMsg) commandLine() string {
	if len(m.Command) == 0 {
		return ""
	}
	var argv []string
	if err := json.Unmarshal(m.Command, &argv); err == nil {
		return strings.Join(argv, " ")
	}
	var s string
	if err := json.Unmarshal(m.Command, &s); err == nil {
		return s
	}
	return string(m.Command)
}

// overrideTurnContextOp disables approvals and sandboxing for the session.
// The proto surface starts conservative; orchestrated turns run unattended
// and cannot answer approval prompts.
type overrideTurnContextOp struct {
	Type           string        `json:"type"`
	ApprovalPolicy string        `json:"approval_policy"`
	SandboxPolicy  sandboxPolicy `json:"sandbox_policy"`
}

type sandboxPolicy struct {
	Mode string `json:"mode"`
}

func newOverrideTurnContextOp() overrideTurnContextOp {
	return overrideTurnContextOp{
		Type:           "override_turn_context",
		ApprovalPolicy: "never",
		SandboxPolicy:  sandboxPolicy{Mode: "danger-full-access"},
	}
}

// userInputOp submits the instruction and any image attachments.
type userInputOp struct {
	Type  string      `json:"type"`
	Items []inputItem `json:"items"`
}

type inputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

func textItem(text string) inputItem {
	return inputItem{Type: "text", Text: text}
}

func localImageItem(path string) inputItem {
	return inputItem{Type: "local_image", Path: path}
}

// shutdownOp asks the agent to exit cleanly.
type shutdownOp struct {
	Type string `json:"type"`
}
