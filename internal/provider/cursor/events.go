package cursor

import (
	"encoding/json"
	"sort"
	"strings"
)

// raw is one decoded NDJSON line. Cursor's stream mixes typed envelopes with
// free-form payloads (the tool_call object is keyed by the tool's own name),
// so lines are kept as generic maps.
type raw map[string]any

func parseLine(line string) (raw, error) {
	var m raw
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r raw) eventType() string {
	s, _ := r["type"].(string)
	return s
}

func (r raw) subtype() string {
	s, _ := r["subtype"].(string)
	return s
}

func (r raw) stringField(key string) string {
	s, _ := r[key].(string)
	return s
}

// assistantText concatenates the text parts of an assistant message.
func (r raw) assistantText() string {
	msg, _ := r["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].([]any)
	var b strings.Builder
	for _, part := range content {
		p, _ := part.(map[string]any)
		if p == nil {
			continue
		}
		if t, _ := p["type"].(string); t != "" && t != "text" {
			continue
		}
		if text, _ := p["text"].(string); text != "" {
			b.WriteString(text)
		}
	}
	return b.String()
}

// toolCall extracts the tool name and payload of a tool_call event. The
// payload sits under a key named after the tool ("readToolCall", …); the
// suffix is stripped and the remainder lowercased for normalization.
func (r raw) toolCall() (name string, payload map[string]any) {
	tc, _ := r["tool_call"].(map[string]any)
	if tc == nil {
		return "", nil
	}
	keys := make([]string, 0, len(tc))
	for k := range tc {
		keys = append(keys, k)
	}
	// Deterministic pick if the agent ever sends more than one key.
	sort.Strings(keys)
	for _, k := range keys {
		p, ok := tc[k].(map[string]any)
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSuffix(k, "ToolCall"))
		return name, p
	}
	return "", nil
}

// toolArgs returns the args object of a tool_call payload.
func toolArgs(payload map[string]any) map[string]any {
	args, _ := payload["args"].(map[string]any)
	if args == nil {
		return map[string]any{}
	}
	return args
}

// toolResult renders the result of a completed tool call as JSON: the
// success payload when present, else the error payload, else nothing.
func toolResult(payload map[string]any) string {
	result, _ := payload["result"].(map[string]any)
	if result == nil {
		return ""
	}
	for _, key := range []string{"success", "error"} {
		if v, ok := result[key]; ok {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(data)
		}
	}
	return ""
}

// sessionIDFallbacks are the spellings cursor has used for its session id.
var sessionIDFallbacks = []string{
	"sessionId", "chatId", "session_id", "chat_id", "threadId", "thread_id",
}

// sessionID extracts the session id from a result event: the session_id
// field is authoritative, then any known spelling at the top level, then the
// same spellings nested inside message.
func (r raw) sessionID() string {
	if id := r.stringField("session_id"); id != "" {
		return id
	}
	for _, key := range sessionIDFallbacks {
		if id := r.stringField(key); id != "" {
			return id
		}
	}
	if msg, _ := r["message"].(map[string]any); msg != nil {
		for _, key := range sessionIDFallbacks {
			if id, _ := msg[key].(string); id != "" {
				return id
			}
		}
	}
	return ""
}

// durationMS returns the result event's duration, when present.
func (r raw) durationMS() (int64, bool) {
	switch v := r["duration_ms"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
