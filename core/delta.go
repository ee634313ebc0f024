package core

// DeltaType discriminates the two kinds of incremental model output.
type DeltaType string

const (
	// DeltaText is a fragment of assistant text.
	DeltaText DeltaType = "text"
	// DeltaToolCall is a fragment of a tool call identified by Index.
	DeltaToolCall DeltaType = "tool_call"
)

// StreamDelta is one incremental unit of a model response. Transient, never
// persisted. For DeltaToolCall fragments, ID and Name are only guaranteed
// present on the first fragment for a given Index; ArgsChunk fragments for
// the same Index concatenate in arrival order.
type StreamDelta struct {
	Type      DeltaType `json:"type"`
	Text      string    `json:"text,omitempty"`
	Index     int       `json:"index,omitempty"`
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	ArgsChunk string    `json:"args_chunk,omitempty"`
}

// TextDelta builds a text fragment.
func TextDelta(text string) StreamDelta {
	return StreamDelta{Type: DeltaText, Text: text}
}

// ToolCallDelta builds a tool-call fragment for the given index.
func ToolCallDelta(index int, id, name, argsChunk string) StreamDelta {
	return StreamDelta{Type: DeltaToolCall, Index: index, ID: id, Name: name, ArgsChunk: argsChunk}
}
