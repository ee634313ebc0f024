// Package provider declares the boundary contracts the loopkit engine
// depends on: the streaming model provider, the remote tool-execution
// provider, the connection-management collaborator and the transcript
// persistence collaborator. Implementations live outside the core; the
// openai and anthropic subpackages supply model adapters, and ScriptedModel
// offers a deterministic double for tests and examples.
package provider

import (
	"context"
	"time"

	"github.com/loopkit/loopkit/core"
)

// ToolSchema declaratively exposes a callable tool to the model. Parameters
// is a JSON Schema object (minimal subset).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ExecutionResult is the structured payload returned by the tool provider
// for one call. MemoryUpdate carries new facts the engine should fold into
// its MemoryMap; DiscoveredTools announces definitions the model may call in
// subsequent turns of the same conversation.
type ExecutionResult struct {
	Data            core.Value          `json:"data"`
	MemoryUpdate    map[string][]string `json:"memory_update,omitempty"`
	DiscoveredTools []ToolSchema        `json:"discovered_tools,omitempty"`
}

// ConnectedAccount describes a completed capability authorization.
type ConnectedAccount struct {
	ID      string `json:"id"`
	Toolkit string `json:"toolkit"`
	Status  string `json:"status"`
}

// ModelProvider streams chat completions. StreamComplete must deliver deltas
// in stream order and honor ctx cancellation mid-stream; the error channel
// carries at most one terminal error and both channels close when the stream
// ends.
type ModelProvider interface {
	StreamComplete(ctx context.Context, transcript []core.Message, tools []ToolSchema) (<-chan core.StreamDelta, <-chan error)
	ListModels(ctx context.Context) ([]string, error)
}

// ToolProvider executes tool calls against session-scoped remote
// capabilities. Errors are returned opaque; classification belongs to the
// recovery package.
type ToolProvider interface {
	CreateSession(ctx context.Context, userID, conversationID string) (*core.Session, error)
	ExecuteMeta(ctx context.Context, sessionID, name string, args map[string]any) (*ExecutionResult, error)
	ExecuteTool(ctx context.Context, sessionID, name string, args map[string]any) (*ExecutionResult, error)
	CreateConnectionLink(ctx context.Context, sessionID, toolkit string) (string, error)
	WaitForConnection(ctx context.Context, accountID string, timeout time.Duration) (*ConnectedAccount, error)
}

// ConnectionResolver detects from an execution error whether a named
// capability still requires user authorization. It is the sole input for
// credential-missing classification.
type ConnectionResolver interface {
	// RequiredToolkit returns the implicated toolkit name and true when err
	// signals a missing connection.
	RequiredToolkit(err error) (string, bool)
}

// TranscriptStore persists conversation history and the memory snapshot.
// The engine treats Append as fire-and-forget and Load as a precondition
// loader; no transactional coordination happens here.
type TranscriptStore interface {
	Append(ctx context.Context, conversationID string, messages ...core.Message) error
	Load(ctx context.Context, conversationID string) ([]core.Message, map[string][]string, error)
	SaveMemory(ctx context.Context, conversationID string, snapshot map[string][]string) error
}
