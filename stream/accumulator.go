// Package stream reassembles a model response delivered as incremental
// deltas. Text fragments build a running content buffer; tool-call fragments
// are grouped by index and concatenated until Finalize parses them into
// complete core.ToolCall values.
package stream

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/loopkit/loopkit/core"
)

// partial aggregates the fragments seen so far for one tool-call index.
type partial struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator collects the deltas of one model turn. It is stateless across
// turns: create a fresh Accumulator per request. Add is called once per
// fragment in stream order, single-threaded; Finalize exactly once after the
// stream ends.
type Accumulator struct {
	text  strings.Builder
	calls map[int]*partial
}

// New creates an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{calls: map[int]*partial{}}
}

// Add folds one delta into the accumulator. Fragments with an ArgsChunk but
// no prior id/name for their index are buffered regardless; a call whose
// name never arrives finalizes with an empty name, which the orchestrator
// treats as unexecutable.
func (a *Accumulator) Add(d core.StreamDelta) {
	switch d.Type {
	case core.DeltaText:
		a.text.WriteString(d.Text)
	case core.DeltaToolCall:
		p, ok := a.calls[d.Index]
		if !ok {
			p = &partial{}
			a.calls[d.Index] = p
		}
		if d.ID != "" {
			p.id = d.ID
		}
		if d.Name != "" {
			p.name = d.Name
		}
		if d.ArgsChunk != "" {
			p.args.WriteString(d.ArgsChunk)
		}
	}
}

// Text returns the assistant text accumulated so far. Safe to call between
// Adds for live display.
func (a *Accumulator) Text() string { return a.text.String() }

// HasToolCalls reports whether any tool-call fragment has arrived.
func (a *Accumulator) HasToolCalls() bool { return len(a.calls) > 0 }

// Finalize parses each accumulated argument payload and returns one
// ToolCall per distinct index, ordered by index. A parse failure is not
// fatal: the call is returned with nil Arguments and ArgumentsError set so
// the failure surfaces as a per-call execution error downstream.
func (a *Accumulator) Finalize() []core.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]core.ToolCall, 0, len(indices))
	for _, idx := range indices {
		p := a.calls[idx]
		call := core.ToolCall{
			ID:           p.id,
			Name:         p.name,
			RawArguments: p.args.String(),
			Status:       core.StatusPending,
		}
		call.Arguments, call.ArgumentsError = parseArguments(call.RawArguments)
		out = append(out, call)
	}
	return out
}

// parseArguments decodes the concatenated argument payload. An empty payload
// is a valid empty argument map.
func parseArguments(raw string) (map[string]any, string) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err.Error()
	}
	return args, ""
}
