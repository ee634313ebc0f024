// Package loopkit provides a high-level façade over the chat orchestration
// loop and its services (sessions, tool execution, recovery, transcript
// persistence). Most applications interact with this package by:
//  1. Creating an Engine via New() with a model provider and a tool provider
//  2. Calling Chat() per user turn; the engine loads the conversation,
//     runs the model/tool loop and persists what it produced
//
// The façade delegates orchestration to chat.Orchestrator while keeping
// setup concise. All defaults are safe for local development and testing;
// production deployments typically supply a durable transcript store and a
// structured logger.
package loopkit

import (
	"context"
	"time"

	"github.com/loopkit/loopkit/chat"
	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/logging"
	"github.com/loopkit/loopkit/provider"
	"github.com/loopkit/loopkit/recovery"
	"github.com/loopkit/loopkit/session"
	"github.com/loopkit/loopkit/tool"
)

// Options configure the Engine.
type Options struct {
	// SystemPrompt, when set, is prepended to every model request.
	SystemPrompt string

	// SessionTTL bounds how long a tool-provider session is reused.
	SessionTTL time.Duration

	// MaxDepth bounds the model/tool iterations per user turn.
	MaxDepth int

	// Retry configures transient-failure retries around tool execution.
	Retry recovery.RetryConfig

	// Tools is the base tool surface advertised to the model. Defaults to
	// the meta-tool schemas.
	Tools []provider.ToolSchema

	// Resolver detects missing-connection errors. Defaults to a keyword
	// resolver with no known toolkits, i.e. credential detection off.
	Resolver provider.ConnectionResolver

	// Store persists transcripts and memory (defaults to in-memory).
	Store provider.TranscriptStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// OnText receives assistant text fragments as they stream.
	OnText func(text string)
}

// Engine is the high-level façade aggregating the orchestrator and services.
type Engine struct {
	opts         Options
	model        provider.ModelProvider
	sessions     *session.Manager
	orchestrator *chat.Orchestrator
	store        provider.TranscriptStore
	logger       logging.Logger
}

// New creates an Engine over the given model and tool providers with
// optional overrides. Any unset service is initialized with an in-memory
// implementation.
func New(model provider.ModelProvider, tools provider.ToolProvider, optFns ...func(o *Options)) *Engine {
	opts := Options{
		SessionTTL: session.DefaultTTL,
		MaxDepth:   chat.DefaultMaxDepth,
		Retry:      recovery.DefaultRetryConfig(),
		Tools:      tool.MetaSchemas(),
		Store:      provider.NewInMemoryStore(),
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sessions := session.NewManager(tools, func(o *session.Options) {
		o.TTL = opts.SessionTTL
		o.Logger = opts.Logger
	})
	executor := tool.NewExecutor(tools, func(o *tool.Options) {
		o.Logger = opts.Logger
	})
	orchestrator := chat.New(model, sessions, executor, func(o *chat.Options) {
		o.MaxDepth = opts.MaxDepth
		o.Retry = opts.Retry
		o.Tools = opts.Tools
		o.Resolver = opts.Resolver
		o.Store = opts.Store
		o.Logger = opts.Logger
		o.OnText = opts.OnText
	})

	return &Engine{
		opts:         opts,
		model:        model,
		sessions:     sessions,
		orchestrator: orchestrator,
		store:        opts.Store,
		logger:       opts.Logger,
	}
}

// Chat runs one user turn in the given conversation: it loads the persisted
// transcript and memory, appends the user message and drives the model/tool
// loop to completion. The returned Turn carries everything the turn
// produced; it has already been persisted.
func (e *Engine) Chat(ctx context.Context, userID, conversationID, text string) (*chat.Turn, error) {
	history, memSnapshot, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	mem := core.NewMemoryMapFrom(memSnapshot)

	userMsg := core.NewUserMessage(text)
	if err := e.store.Append(ctx, conversationID, userMsg); err != nil {
		e.logger.Error("transcript.append", "conversation_id", conversationID, "error", err)
	}

	transcript := make([]core.Message, 0, len(history)+2)
	if e.opts.SystemPrompt != "" {
		transcript = append(transcript, core.NewSystemMessage(e.opts.SystemPrompt))
	}
	transcript = append(transcript, history...)
	transcript = append(transcript, userMsg)

	turn, err := e.orchestrator.Run(ctx, userID, conversationID, transcript, mem)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveMemory(ctx, conversationID, mem.Snapshot()); err != nil {
		e.logger.Error("memory.save", "conversation_id", conversationID, "error", err)
	}
	return turn, nil
}

// Models lists the model identifiers the provider exposes.
func (e *Engine) Models(ctx context.Context) ([]string, error) {
	return e.model.ListModels(ctx)
}

// InvalidateSession drops the cached tool-provider session for the key.
func (e *Engine) InvalidateSession(userID, conversationID string) {
	e.sessions.Invalidate(userID, conversationID)
}

// SweepSessions prunes expired cached sessions and reports how many were
// removed. Useful on a periodic ticker in long-running deployments.
func (e *Engine) SweepSessions() int {
	return e.sessions.Sweep()
}
