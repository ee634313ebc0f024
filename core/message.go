package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolStatus tracks the lifecycle of a tool call. Transitions are driven
// solely by the orchestrator; the stream accumulator only ever produces
// calls in StatusPending.
type ToolStatus string

const (
	StatusPending   ToolStatus = "pending"
	StatusRunning   ToolStatus = "running"
	StatusCompleted ToolStatus = "completed"
	StatusError     ToolStatus = "error"
)

// ToolCall is a single tool invocation requested by the model.
//
// Arguments holds the parsed argument document once the stream has been
// finalized; RawArguments preserves the concatenated argument chunks as
// delivered. When the raw payload did not parse, Arguments is nil and
// ArgumentsError carries the parse failure — the call is still surfaced so
// the orchestrator can report it as a per-call execution error rather than
// dropping it.
type ToolCall struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	RawArguments   string         `json:"raw_arguments,omitempty"`
	ArgumentsError string         `json:"arguments_error,omitempty"`
	Status         ToolStatus     `json:"status"`
	Output         Value          `json:"output,omitempty"`
}

// Message is one conversational turn. A message is immutable once appended
// to the transcript handed to the next model request; the only sanctioned
// in-place mutation is the orchestrator updating ToolCall status/output on
// the assistant message it is currently executing.
//
// Invariant: a RoleTool message always carries a ToolCallID referencing a
// prior assistant ToolCall id in the same transcript.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewID generates a unique identifier for messages, tool calls and runs.
func NewID() string { return uuid.NewString() }

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}
}

// NewSystemMessage creates a system instruction message.
func NewSystemMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Content: text, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message. Content may be empty
// when the turn consists only of tool calls.
func NewAssistantMessage(text string, calls []ToolCall) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
		ToolCalls: calls,
	}
}

// NewToolMessage creates a tool-result message referencing the originating
// tool call.
func NewToolMessage(toolCallID, content string) Message {
	return Message{
		ID:         NewID(),
		Role:       RoleTool,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		ToolCallID: toolCallID,
	}
}

// HasToolCalls reports whether the message requests any tool executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
