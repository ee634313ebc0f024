package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopkit/loopkit/core"
)

// ScriptedModel is a deterministic in-memory ModelProvider for tests and
// examples. Each call to StreamComplete pops the next scripted turn and
// replays its deltas; once the script is exhausted it emits a fixed fallback
// text so loops always terminate.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    [][]core.StreamDelta
	streamed []error // optional per-turn stream error, emitted after the deltas
	calls    int
	surfaces [][]ToolSchema
	fallback string
}

// NewScriptedModel creates an empty scripted model with a generic fallback
// response.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{fallback: "Done."}
}

// AddTurn schedules the deltas for the next model request.
func (m *ScriptedModel) AddTurn(deltas ...core.StreamDelta) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, deltas)
	m.streamed = append(m.streamed, nil)
	return m
}

// AddFailingTurn schedules a turn that replays deltas then fails the stream.
func (m *ScriptedModel) AddFailingTurn(err error, deltas ...core.StreamDelta) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, deltas)
	m.streamed = append(m.streamed, err)
	return m
}

// SetFallback overrides the text emitted once the script is exhausted.
func (m *ScriptedModel) SetFallback(text string) { m.fallback = text }

// Calls returns how many requests have been issued.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ToolsAt returns the tool surface advertised on the i-th request.
func (m *ScriptedModel) ToolsAt(i int) []ToolSchema {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.surfaces) {
		return nil
	}
	return m.surfaces[i]
}

// StreamComplete implements ModelProvider.
func (m *ScriptedModel) StreamComplete(
	ctx context.Context,
	transcript []core.Message,
	tools []ToolSchema,
) (<-chan core.StreamDelta, <-chan error) {
	out := make(chan core.StreamDelta, 32)
	errCh := make(chan error, 1)

	m.mu.Lock()
	var deltas []core.StreamDelta
	var streamErr error
	if m.calls < len(m.turns) {
		deltas = m.turns[m.calls]
		streamErr = m.streamed[m.calls]
	} else {
		deltas = []core.StreamDelta{core.TextDelta(m.fallback)}
	}
	m.calls++
	m.surfaces = append(m.surfaces, tools)
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		for _, d := range deltas {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- d:
			}
		}
		if streamErr != nil {
			errCh <- streamErr
		}
	}()

	return out, errCh
}

// ListModels implements ModelProvider.
func (m *ScriptedModel) ListModels(ctx context.Context) ([]string, error) {
	return []string{"scripted-1"}, nil
}

// ScriptError builds a stream error carrying the given text, for scripting
// classification scenarios.
func ScriptError(format string, args ...any) error { return fmt.Errorf(format, args...) }
