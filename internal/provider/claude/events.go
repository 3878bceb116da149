package claude

import "encoding/json"

// wireEvent is one line of claude's stream-json output. Field presence
// depends on type: system init carries session and model, assistant carries
// a message, result carries the turn accounting.
type wireEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	Model     string       `json:"model"`
	Message   *wireMessage `json:"message"`

	DurationMS   int64   `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	IsError      bool    `json:"is_error"`
}

// wireMessage is the assistant message envelope.
type wireMessage struct {
	Content []contentBlock `json:"content"`
}

// contentBlock is one block of assistant content: text or a tool use.
// Input stays raw until the block type is known.
type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// toolInput decodes a tool-use block's input into a generic map for the
// summary renderer. Undecodable input renders as an empty invocation rather
// than failing the turn.
func (b contentBlock) toolInput() map[string]any {
	if len(b.Input) == 0 {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal(b.Input, &input); err != nil {
		return map[string]any{}
	}
	return input
}
