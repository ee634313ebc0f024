package core

import "errors"

// Sentinel errors shared across the engine. Callers match with errors.Is.
var (
	// ErrUnknownTool marks a tool call whose name is empty or was never
	// announced to the model. Terminal for that call only.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMalformedArguments marks a tool call whose accumulated argument
	// payload failed to parse. Terminal for that call only, never for the
	// whole turn.
	ErrMalformedArguments = errors.New("malformed tool arguments")

	// ErrSessionInvalid is reported by tool providers when a cached session
	// handle is no longer honored and must be invalidated and recreated.
	ErrSessionInvalid = errors.New("session no longer valid")
)
