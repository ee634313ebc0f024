// Package chat runs the conversational loop: stream a model response,
// execute the tool calls it requests, feed the results back, and repeat
// until the model answers in plain text, asks the user for input, or the
// depth bound is hit.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/internal/schema"
	"github.com/loopkit/loopkit/logging"
	"github.com/loopkit/loopkit/provider"
	"github.com/loopkit/loopkit/recovery"
	"github.com/loopkit/loopkit/session"
	"github.com/loopkit/loopkit/stream"
	"github.com/loopkit/loopkit/tool"
)

// DefaultMaxDepth bounds how many model requests one user turn may trigger.
const DefaultMaxDepth = 10

// DepthLimitMessage is the fixed text appended when the loop hits the depth
// bound while the model still wants to call tools.
const DepthLimitMessage = "I've reached the maximum number of tool steps for this request. Here is what I have so far; ask me to continue if you'd like me to keep going."

// Options configure an Orchestrator.
type Options struct {
	MaxDepth int
	Retry    recovery.RetryConfig
	// Tools is the base tool surface advertised to the model. Defaults to
	// the meta-tool schemas.
	Tools    []provider.ToolSchema
	Resolver provider.ConnectionResolver
	// Store, when set, receives every produced message fire-and-forget.
	Store  provider.TranscriptStore
	Logger logging.Logger
	// OnText receives each assistant text fragment as it streams.
	OnText func(text string)
}

// Turn is the outcome of one user turn.
type Turn struct {
	// Messages are the messages produced during the turn, in transcript
	// order: assistant messages interleaved with their tool results.
	Messages []core.Message
	// Final is the user-facing text the turn ended on.
	Final string
	// PendingInput is set when the model asked the user a question and the
	// loop halted waiting for the reply.
	PendingInput bool
}

// Orchestrator drives the model/tool loop for one engine instance. It is
// safe for concurrent use across conversations; per-conversation state
// (transcript, memory) is owned by the caller of Run.
type Orchestrator struct {
	model    provider.ModelProvider
	sessions *session.Manager
	executor *tool.Executor
	policy   *recovery.Policy
	opts     Options
}

// New creates an Orchestrator.
func New(model provider.ModelProvider, sessions *session.Manager, executor *tool.Executor, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxDepth: DefaultMaxDepth,
		Retry:    recovery.DefaultRetryConfig(),
		Tools:    tool.MetaSchemas(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxDepth < 1 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Orchestrator{
		model:    model,
		sessions: sessions,
		executor: executor,
		policy:   recovery.NewPolicy(opts.Resolver),
		opts:     opts,
	}
}

// Run executes one user turn. The transcript must already end with the new
// user message; mem carries the conversation's accumulated facts and may be
// nil. Run mutates mem and returns the messages it produced; the caller owns
// appending them to its transcript copy.
//
// A model stream failure aborts the turn with an error. Tool failures never
// do: they are retried, turned into a connection prompt, or degraded into a
// readable tool result, per the recovery policy.
func (o *Orchestrator) Run(ctx context.Context, userID, conversationID string, transcript []core.Message, mem *core.MemoryMap) (*Turn, error) {
	if mem == nil {
		mem = core.NewMemoryMap()
	}

	tools := make([]provider.ToolSchema, len(o.opts.Tools))
	copy(tools, o.opts.Tools)
	schemas := map[string]map[string]any{}
	for _, t := range tools {
		schemas[t.Name] = t.Parameters
	}

	turn := &Turn{}
	// Persistence is fire-and-forget and ordered: whatever the turn produced
	// is appended to the store in one batch, even when the turn aborts.
	defer func() { o.flush(ctx, conversationID, turn.Messages) }()

	for depth := 0; depth < o.opts.MaxDepth; depth++ {
		acc := stream.New()
		deltas, errs := o.model.StreamComplete(ctx, transcript, tools)
		for d := range deltas {
			acc.Add(d)
			if d.Type == core.DeltaText && o.opts.OnText != nil {
				o.opts.OnText(d.Text)
			}
		}
		if err := <-errs; err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}

		calls := acc.Finalize()
		assistant := core.NewAssistantMessage(acc.Text(), calls)
		transcript = append(transcript, assistant)
		turn.Messages = append(turn.Messages, assistant)

		if len(calls) == 0 {
			turn.Final = assistant.Content
			return turn, nil
		}

		o.opts.Logger.Debug("turn.tool_calls", "conversation_id", conversationID, "depth", depth, "count", len(calls))

		// The manager does not retry creation itself; transient provider
		// failures are absorbed here.
		var sess *core.Session
		if err := o.policy.Retry(ctx, o.opts.Retry, func() error {
			s, err := o.sessions.Get(ctx, userID, conversationID)
			if err != nil {
				return err
			}
			sess = s
			return nil
		}); err != nil {
			// Creation failed for good. The batch cannot run, but every call
			// still gets a readable result so the transcript stays consistent
			// and the model can react on its next iteration.
			for i := range calls {
				call := &calls[i]
				outcome := o.failCall(ctx, "", call, err)
				transcript = append(transcript, o.emit(turn, core.NewToolMessage(call.ID, outcome.content)))
				if outcome.halt {
					o.skipRemaining(turn, calls[i+1:])
					o.emit(turn, core.NewAssistantMessage(outcome.content, nil))
					turn.Final = outcome.content
					return turn, nil
				}
			}
			continue
		}

		// Execute strictly in call order; each result message directly
		// follows the assistant message that requested it.
		var discovered []provider.ToolSchema
		for i := range calls {
			call := &calls[i]

			if call.Name == tool.NameRequestUserInput {
				call.Status = core.StatusCompleted
				o.emit(turn, core.NewToolMessage(call.ID, "Waiting for the user's reply."))
				o.skipRemaining(turn, calls[i+1:])
				question := questionArg(*call)
				o.emit(turn, core.NewAssistantMessage(question, nil))
				turn.PendingInput = true
				turn.Final = question
				return turn, nil
			}

			if s, declared := schemas[call.Name]; declared && call.Arguments != nil {
				if verr := schema.Validate(call.Arguments, s); verr != nil {
					call.Status = core.StatusError
					o.opts.Logger.Warn("tool.invalid_arguments", "tool", call.Name, "error", verr)
					transcript = append(transcript, o.emit(turn, core.NewToolMessage(call.ID, recovery.UserMessage(call.Name, verr))))
					continue
				}
			}

			outcome := o.executeCall(ctx, userID, conversationID, &sess, call, mem)
			transcript = append(transcript, o.emit(turn, core.NewToolMessage(call.ID, outcome.content)))

			if outcome.halt {
				o.skipRemaining(turn, calls[i+1:])
				o.emit(turn, core.NewAssistantMessage(outcome.content, nil))
				turn.Final = outcome.content
				return turn, nil
			}
			discovered = append(discovered, outcome.discovered...)
		}

		// Discovered tools become callable from the next model request on.
		for _, t := range discovered {
			if _, dup := schemas[t.Name]; dup {
				continue
			}
			schemas[t.Name] = t.Parameters
			tools = append(tools, t)
		}
	}

	final := core.NewAssistantMessage(DepthLimitMessage, nil)
	turn.Messages = append(turn.Messages, final)
	turn.Final = DepthLimitMessage
	o.opts.Logger.Warn("turn.depth_limit", "conversation_id", conversationID, "max_depth", o.opts.MaxDepth)
	return turn, nil
}

// callOutcome is the digested result of executing one tool call.
type callOutcome struct {
	content    string
	halt       bool
	discovered []provider.ToolSchema
}

// executeCall runs one call through the executor under the recovery policy
// and folds the outcome into the call's status and a result payload. A stale
// session is invalidated and recreated once before giving up.
func (o *Orchestrator) executeCall(ctx context.Context, userID, conversationID string, sess **core.Session, call *core.ToolCall, mem *core.MemoryMap) callOutcome {
	call.Status = core.StatusRunning

	var result *provider.ExecutionResult
	run := func() error {
		r, err := o.executor.Execute(ctx, (*sess).ID, *call, mem)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	err := o.policy.Retry(ctx, o.opts.Retry, run)
	if err != nil && errors.Is(err, core.ErrSessionInvalid) {
		o.sessions.Invalidate(userID, conversationID)
		fresh, serr := o.sessions.Get(ctx, userID, conversationID)
		if serr == nil {
			*sess = fresh
			err = o.policy.Retry(ctx, o.opts.Retry, run)
		}
	}

	if err != nil {
		return o.failCall(ctx, (*sess).ID, call, err)
	}

	call.Status = core.StatusCompleted
	call.Output = result.Data
	if added := mem.MergeAll(result.MemoryUpdate); added > 0 {
		o.opts.Logger.Debug("memory.merged", "conversation_id", conversationID, "facts", added)
	}
	return callOutcome{
		content:    result.Data.String(),
		discovered: result.DiscoveredTools,
	}
}

// failCall maps a post-retry failure onto the call and decides whether the
// loop continues. Credential-missing halts the turn with a connection link;
// everything else degrades into a readable result the model sees on its
// next iteration.
func (o *Orchestrator) failCall(ctx context.Context, sessionID string, call *core.ToolCall, err error) callOutcome {
	call.Status = core.StatusError

	c := o.policy.Classify(err)
	o.opts.Logger.Warn("tool.failed", "tool", call.Name, "class", c.Class.String(), "error", err)

	if c.Class == recovery.ClassCredentialMissing {
		link, linkErr := o.executor.ConnectionLink(ctx, sessionID, c.Toolkit)
		if linkErr != nil {
			return callOutcome{content: recovery.UserMessage(call.Name, err), halt: true}
		}
		return callOutcome{content: recovery.ConnectionMessage(c.Toolkit, link), halt: true}
	}
	return callOutcome{content: recovery.UserMessage(call.Name, err)}
}

// skipRemaining closes out calls that were never executed because an earlier
// call halted the turn, so every call id still has a result message and a
// status matching it.
func (o *Orchestrator) skipRemaining(turn *Turn, rest []core.ToolCall) {
	for i := range rest {
		rest[i].Status = core.StatusError
		o.emit(turn, core.NewToolMessage(rest[i].ID, "Not executed."))
	}
}

// emit records a produced message on the turn.
func (o *Orchestrator) emit(turn *Turn, msg core.Message) core.Message {
	turn.Messages = append(turn.Messages, msg)
	return msg
}

// flush appends the produced messages to the transcript store in the
// background; a storage failure never blocks or fails the turn.
func (o *Orchestrator) flush(ctx context.Context, conversationID string, msgs []core.Message) {
	if o.opts.Store == nil || len(msgs) == 0 {
		return
	}
	batch := make([]core.Message, len(msgs))
	copy(batch, msgs)
	go func(ctx context.Context) {
		if err := o.opts.Store.Append(ctx, conversationID, batch...); err != nil {
			o.opts.Logger.Error("transcript.append", "conversation_id", conversationID, "error", err)
		}
	}(context.WithoutCancel(ctx))
}

func questionArg(call core.ToolCall) string {
	if q, ok := call.Arguments["question"].(string); ok && q != "" {
		return q
	}
	return "Could you provide more details so I can continue?"
}
