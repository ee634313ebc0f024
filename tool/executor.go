// Package tool provides the execution facade between the orchestrator and a
// tool provider. It routes meta-tools and concrete tools, injects the
// conversation memory snapshot where the provider expects it, and normalizes
// provider failures into typed errors.
package tool

import (
	"context"
	"fmt"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/logging"
	"github.com/loopkit/loopkit/provider"
)

// Error codes carried by ExecError.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
	CodeNotConnected = "NOT_CONNECTED"
)

// ExecError describes a tool execution failure with enough structure for the
// recovery policy to act on.
type ExecError struct {
	Tool    string
	Message string
	Code    string
	Err     error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool %s: %s (%s)", e.Tool, e.Message, e.Code)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error { return e.Err }

// NewExecError creates an ExecError.
func NewExecError(tool, message, code string) *ExecError {
	return &ExecError{Tool: tool, Message: message, Code: code}
}

// Options configure an Executor.
type Options struct {
	Logger logging.Logger
}

// Executor dispatches tool calls against a provider session. It is
// stateless; the memory snapshot to inject is passed per call because memory
// belongs to the conversation, not the executor.
type Executor struct {
	provider provider.ToolProvider
	logger   logging.Logger
}

// NewExecutor creates an Executor over tp.
func NewExecutor(tp provider.ToolProvider, optFns ...func(o *Options)) *Executor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{provider: tp, logger: opts.Logger}
}

// Execute runs one tool call within the given session. Meta-tools go through
// the provider's meta endpoint, everything else through direct execution.
// For multi-execute calls the conversation memory snapshot is injected under
// MemoryArgKey so tools can resolve references like "the repo I starred".
// The caller's argument map is never mutated.
func (e *Executor) Execute(ctx context.Context, sessionID string, call core.ToolCall, mem *core.MemoryMap) (*provider.ExecutionResult, error) {
	if call.Name == "" {
		return nil, &ExecError{Message: "tool call has no name", Code: CodeValidation, Err: core.ErrUnknownTool}
	}
	if call.ArgumentsError != "" {
		return nil, &ExecError{
			Tool:    call.Name,
			Message: "arguments are not valid JSON: " + call.ArgumentsError,
			Code:    CodeValidation,
			Err:     core.ErrMalformedArguments,
		}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if call.Name == MetaMultiExecute && mem != nil && mem.Len() > 0 {
		args = withMemory(args, mem)
	}

	e.logger.Debug("tool.execute", "tool", call.Name, "session_id", sessionID, "meta", IsMeta(call.Name))

	var (
		result *provider.ExecutionResult
		err    error
	)
	if IsMeta(call.Name) {
		result, err = e.provider.ExecuteMeta(ctx, sessionID, call.Name, args)
	} else {
		result, err = e.provider.ExecuteTool(ctx, sessionID, call.Name, args)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &provider.ExecutionResult{}
	}
	return result, nil
}

// ConnectionLink asks the provider for an authorization URL for the given
// toolkit, used when execution fails because an account is not connected.
func (e *Executor) ConnectionLink(ctx context.Context, sessionID, toolkit string) (string, error) {
	link, err := e.provider.CreateConnectionLink(ctx, sessionID, toolkit)
	if err != nil {
		return "", fmt.Errorf("create connection link for %s: %w", toolkit, err)
	}
	return link, nil
}

// withMemory returns a copy of args with the memory snapshot added under the
// reserved key.
func withMemory(args map[string]any, mem *core.MemoryMap) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	snapshot := mem.Snapshot()
	converted := make(map[string]any, len(snapshot))
	for domain, facts := range snapshot {
		items := make([]any, len(facts))
		for i, f := range facts {
			items[i] = f
		}
		converted[domain] = items
	}
	out[MemoryArgKey] = converted
	return out
}
