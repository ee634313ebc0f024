package tool

import "github.com/loopkit/loopkit/provider"

// Meta-tool names understood by the tool provider. These are the only tools
// exposed to the model by default; concrete tools are discovered at runtime
// through SearchTools.
const (
	MetaSearchTools       = "SEARCH_TOOLS"
	MetaMultiExecute      = "MULTI_EXECUTE_TOOL"
	MetaManageConnections = "MANAGE_CONNECTIONS"
)

// NameRequestUserInput is the reserved tool the model calls to hand the turn
// back to the user. It is never sent to the provider; the orchestrator
// intercepts it.
const NameRequestUserInput = "REQUEST_USER_INPUT"

// MemoryArgKey is the reserved argument key under which the conversation
// memory snapshot is injected into multi-execute calls. User-supplied
// arguments never use this key.
const MemoryArgKey = "_memory"

// IsMeta reports whether name is one of the meta-tools.
func IsMeta(name string) bool {
	switch name {
	case MetaSearchTools, MetaMultiExecute, MetaManageConnections:
		return true
	}
	return false
}

// MetaSchemas returns the schemas for the meta-tools plus the reserved
// user-input tool, in the order they are advertised to the model.
func MetaSchemas() []provider.ToolSchema {
	return []provider.ToolSchema{
		{
			Name:        MetaSearchTools,
			Description: "Search the tool catalog for tools matching a natural-language description of the task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What you want to accomplish.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        MetaMultiExecute,
			Description: "Execute one or more previously discovered tools with concrete arguments.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tools": map[string]any{
						"type":        "array",
						"description": "Tool invocations to run, in order.",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"tool_name": map[string]any{"type": "string"},
								"arguments": map[string]any{"type": "object"},
							},
							"required": []string{"tool_name"},
						},
					},
				},
				"required": []string{"tools"},
			},
		},
		{
			Name:        MetaManageConnections,
			Description: "List, create or check account connections for external services.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"list", "initiate", "status"},
					},
					"toolkit": map[string]any{"type": "string"},
				},
				"required": []string{"action"},
			},
		},
		{
			Name:        NameRequestUserInput,
			Description: "Ask the user a clarifying question and wait for their reply before continuing.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to put to the user.",
					},
				},
				"required": []string{"question"},
			},
		},
	}
}
