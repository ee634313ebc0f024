// Package openai adapts the OpenAI Chat Completions streaming API to the
// engine's delta stream. Tool-call fragments are forwarded as raw deltas,
// keyed by the SDK's choice index; reassembly is the accumulator's job, not
// the adapter's.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/provider"
)

// Options configure the OpenAI adapter. Fields mirror a minimal subset of
// the Chat Completion parameters; extend via functional options.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI client behind provider.ModelProvider.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates an adapter using the default client (API key from the
// environment).
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates an adapter from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
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

		params := m.buildParams(transcript, tools)
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- core.TextDelta(choice.Delta.Content)
				}
				for _, tc := range choice.Delta.ToolCalls {
					out <- core.ToolCallDelta(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming: %w", err)
		}
	}()

	return out, errCh
}

// ListModels implements provider.ModelProvider.
func (m *Model) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	iter := m.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		names = append(names, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("openai list models: %w", err)
	}
	return names, nil
}

func (m *Model) buildParams(transcript []core.Message, tools []provider.ToolSchema) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(transcript),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(tools) == 0 {
		return params
	}
	defs := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		defs[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		}
	}
	params.Tools = defs
	return params
}

// buildMessages converts the transcript into chat messages. Tool messages in
// the transcript already follow the assistant message that issued the calls,
// so the order maps one to one.
func buildMessages(transcript []core.Message) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range transcript {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: rawArguments(tc),
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}
	return messages
}

// rawArguments prefers the original streamed JSON so round-tripping through
// the API preserves exactly what the model produced.
func rawArguments(tc core.ToolCall) string {
	if tc.RawArguments != "" {
		return tc.RawArguments
	}
	if tc.Arguments == nil {
		return "{}"
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}
