package gemini

import "encoding/json"

// EventType is the value of the "type" field of a stream-json event.
type EventType string

const (
	EventInit       EventType = "init"
	EventMessage    EventType = "message"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// RoleAssistant is the message role whose content forms the answer.
const RoleAssistant = "assistant"

// StreamEvent is one decoded line of Gemini CLI stream-json output.
//
// Gemini CLI emits a flat record per line:
//   - init: session_id, timestamp and model
//   - message: role, content and delta (content is appended, never replaced)
//   - tool_use / tool_result: tool invocation and its outcome
//   - result: status, stats and total_cost_usd
//   - error: error message and optional code
//
// Unknown types decode successfully and are carried through unchanged.
type StreamEvent struct {
	Type EventType `json:"type"`

	// init
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Model     string `json:"model,omitempty"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Delta   bool   `json:"delta,omitempty"`

	// tool_use / tool_result
	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Output     string          `json:"output,omitempty"`

	// result (status is shared with tool_result)
	Status       string   `json:"status,omitempty"`
	Stats        *Stats   `json:"stats,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`

	Error *StreamError `json:"error,omitempty"`

	// Raw is the trimmed source line the event was decoded from.
	Raw string `json:"-"`
}

// Stats is the usage summary carried by a result event.
type Stats struct {
	TotalTokens  int   `json:"total_tokens,omitempty"`
	InputTokens  int   `json:"input_tokens,omitempty"`
	OutputTokens int   `json:"output_tokens,omitempty"`
	DurationMs   int64 `json:"duration_ms,omitempty"`
	ToolCalls    int   `json:"tool_calls,omitempty"`
}

// StreamError is the payload of an error event.
type StreamError struct {
	Message string `json:"message,omitempty"`
	// Code is a string or a number depending on the failing layer.
	Code any `json:"code,omitempty"`
}

// IsAssistantText reports whether the event contributes to the answer text.
func (e StreamEvent) IsAssistantText() bool {
	return e.Type == EventMessage && e.Role == RoleAssistant && e.Content != ""
}

// TaskOutcome is the consolidated result of one invocation.
type TaskOutcome struct {
	Result       string   `json:"result"`
	SessionID    string   `json:"session_id,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
}
