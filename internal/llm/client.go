package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation. An empty Content on an assistant
// message that carries ToolCalls is sent to the provider as null.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
}

type ToolCall struct {
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text, assembled from stream fragments
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Delta is one fragment of a streamed model response.
type Delta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta is a slice of a tool call request. Empty fields were absent
// from the fragment.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type Request struct {
	Messages []Message
	Tools    []Tool
}

// Stream yields the deltas of one model response in arrival order.
type Stream interface {
	Next() bool
	Current() Delta
	Err() error
	Close() error
}

// Client is safe for concurrent use; it holds no per-conversation state.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
