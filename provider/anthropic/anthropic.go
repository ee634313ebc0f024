// Package anthropic adapts the Anthropic Messages streaming API to the
// engine's delta stream. Tool-use blocks announce their identity in a
// content_block_start event and stream their arguments as partial JSON;
// both are forwarded as raw deltas keyed by the block index.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/provider"
)

// Options configure the Anthropic adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic client behind provider.ModelProvider.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates an adapter using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates an adapter from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// StreamComplete implements provider.ModelProvider.
func (m *Model) StreamComplete(ctx context.Context, transcript []core.Message, tools []provider.ToolSchema) (<-chan core.StreamDelta, <-chan error) {
	out := make(chan core.StreamDelta, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(transcript),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if system := extractSystem(transcript); len(system) > 0 {
			params.System = system
		}
		if len(tools) > 0 {
			params.Tools = buildTools(tools)
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					out <- core.ToolCallDelta(int(ev.Index), block.ID, block.Name, "")
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- core.TextDelta(delta.Text)
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						out <- core.ToolCallDelta(int(ev.Index), "", "", delta.PartialJSON)
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming: %w", err)
		}
	}()

	return out, errCh
}

// ListModels implements provider.ModelProvider.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	iter := m.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		names = append(names, string(iter.Current().ID))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("anthropic list models: %w", err)
	}
	return names, nil
}

// buildMessages converts the transcript into Messages API turns. System
// messages are handled separately; tool results become tool_result blocks in
// a user turn, as the API requires.
func buildMessages(transcript []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range transcript {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case core.RoleUser:
			flushResults()
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case core.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc), tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flushResults()
	return messages
}

// toolInput recovers the structured input for a tool_use block, preferring
// the parsed arguments and falling back to the raw streamed JSON.
func toolInput(tc core.ToolCall) any {
	if tc.Arguments != nil {
		return tc.Arguments
	}
	if tc.RawArguments != "" {
		var input any
		if err := json.Unmarshal([]byte(tc.RawArguments), &input); err == nil {
			return input
		}
	}
	return map[string]any{}
}

func extractSystem(transcript []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range transcript {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

func buildTools(tools []provider.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if t.Parameters != nil {
			if properties, ok := t.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = requiredFields(t.Parameters["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
	}
	return out
}

func requiredFields(v any) []string {
	switch required := v.(type) {
	case []string:
		return required
	case []any:
		var fields []string
		for _, r := range required {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	}
	return nil
}
