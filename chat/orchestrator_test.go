package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/provider"
	"github.com/loopkit/loopkit/recovery"
	"github.com/loopkit/loopkit/session"
	"github.com/loopkit/loopkit/tool"
)

// execResponse scripts one tool execution outcome.
type execResponse struct {
	result *provider.ExecutionResult
	err    error
}

// scriptedToolProvider pops one execResponse per execution and records the
// calls it received.
type scriptedToolProvider struct {
	mu              sync.Mutex
	responses       []execResponse
	executed        []recordedExec
	sessionErr      error
	sessionAttempts int
}

type recordedExec struct {
	name string
	args map[string]any
}

func (p *scriptedToolProvider) respond(responses ...execResponse) {
	p.mu.Lock()
	p.responses = append(p.responses, responses...)
	p.mu.Unlock()
}

func (p *scriptedToolProvider) pop(name string, args map[string]any) (*provider.ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, recordedExec{name: name, args: args})
	if len(p.responses) == 0 {
		return &provider.ExecutionResult{Data: core.String("ok")}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r.result, r.err
}

func (p *scriptedToolProvider) execCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.executed)
}

func (p *scriptedToolProvider) executedAt(i int) recordedExec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed[i]
}

func (p *scriptedToolProvider) CreateSession(ctx context.Context, userID, conversationID string) (*core.Session, error) {
	p.mu.Lock()
	p.sessionAttempts++
	err := p.sessionErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &core.Session{ID: "sess-1", UserID: userID, ConversationID: conversationID}, nil
}

func (p *scriptedToolProvider) ExecuteMeta(ctx context.Context, sessionID, name string, args map[string]any) (*provider.ExecutionResult, error) {
	return p.pop(name, args)
}

func (p *scriptedToolProvider) ExecuteTool(ctx context.Context, sessionID, name string, args map[string]any) (*provider.ExecutionResult, error) {
	return p.pop(name, args)
}

func (p *scriptedToolProvider) CreateConnectionLink(ctx context.Context, sessionID, toolkit string) (string, error) {
	return "https://connect.example/" + toolkit, nil
}

func (p *scriptedToolProvider) WaitForConnection(ctx context.Context, accountID string, timeout time.Duration) (*provider.ConnectedAccount, error) {
	return &provider.ConnectedAccount{ID: accountID, Status: "ACTIVE"}, nil
}

func fastRetry() recovery.RetryConfig {
	cfg := recovery.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func newTestOrchestrator(model provider.ModelProvider, tp provider.ToolProvider, optFns ...func(o *Options)) *Orchestrator {
	base := func(o *Options) {
		o.Retry = fastRetry()
		o.Resolver = recovery.NewKeywordResolver("gmail", "github")
	}
	return New(model, session.NewManager(tp), tool.NewExecutor(tp), append([]func(o *Options){base}, optFns...)...)
}

func userTurn(text string) []core.Message {
	return []core.Message{core.NewUserMessage(text)}
}

func TestRun_ToolCallThenFinalAnswer(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(
		core.TextDelta("Starring it now."),
		core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"re`),
		core.ToolCallDelta(0, "", "", `po":"loopkit"}`),
	)
	model.AddTurn(core.TextDelta("Done, the repo is starred."))

	tp := &scriptedToolProvider{}
	tp.respond(execResponse{result: &provider.ExecutionResult{Data: core.String("starred")}})

	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star loopkit"), nil)
	require.NoError(t, err)

	// assistant(with call) + tool result + final assistant.
	require.Len(t, turn.Messages, 3)
	assert.Equal(t, core.RoleAssistant, turn.Messages[0].Role)
	assert.Equal(t, core.RoleTool, turn.Messages[1].Role)
	assert.Equal(t, core.RoleAssistant, turn.Messages[2].Role)

	call := turn.Messages[0].ToolCalls[0]
	assert.Equal(t, core.StatusCompleted, call.Status)
	assert.Equal(t, "loopkit", turn.Messages[0].ToolCalls[0].Arguments["repo"])
	assert.Equal(t, "tc-1", turn.Messages[1].ToolCallID)
	assert.Equal(t, "starred", turn.Messages[1].Content)
	assert.Equal(t, "Done, the repo is starred.", turn.Final)
	assert.False(t, turn.PendingInput)
	assert.Equal(t, 2, model.Calls())
}

func TestRun_PlainTextAnswerMakesOneModelCall(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.TextDelta("Hello!"))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("hi"), nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello!", turn.Final)
	assert.Equal(t, 1, model.Calls())
	assert.Equal(t, 0, tp.execCount())
}

func TestRun_MissingConnectionHaltsWithLink(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GMAIL_SEND_EMAIL", `{"to":"a@b.c"}`))

	tp := &scriptedToolProvider{}
	tp.respond(execResponse{err: errors.New("gmail account not connected for user")})

	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("email bob"), nil)
	require.NoError(t, err)

	assert.Contains(t, turn.Final, "https://connect.example/gmail")
	assert.Equal(t, 1, model.Calls(), "no further model call after a connection halt")
	assert.Equal(t, 1, tp.execCount(), "credential failures must not be retried")
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)

	last := turn.Messages[len(turn.Messages)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "connect")
}

func TestRun_HaltSkipsRemainingCallsAsErrors(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(
		core.ToolCallDelta(0, "tc-1", "GMAIL_SEND_EMAIL", `{"to":"a@b.c"}`),
		core.ToolCallDelta(1, "tc-2", "GITHUB_STAR_REPO", `{"repo":"x"}`),
	)

	tp := &scriptedToolProvider{}
	tp.respond(execResponse{err: errors.New("gmail account not connected")})

	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("email then star"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, tp.execCount(), "calls after the halt never run")
	calls := turn.Messages[0].ToolCalls
	assert.Equal(t, core.StatusError, calls[0].Status)
	assert.Equal(t, core.StatusError, calls[1].Status, "skipped calls are closed out, not left pending")
	assert.Equal(t, "tc-2", turn.Messages[2].ToolCallID, "the skipped call still gets a result message")
	assert.Equal(t, "Not executed.", turn.Messages[2].Content)
}

func TestRun_SessionFailureDegradesAndContinues(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":"x"}`))
	model.AddTurn(core.TextDelta("I couldn't reach your workspace."))

	tp := &scriptedToolProvider{sessionErr: errors.New("workspace quota check rejected the request")}
	store := provider.NewInMemoryStore()
	o := newTestOrchestrator(model, tp, func(o *Options) { o.Store = store })
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star x"), nil)
	require.NoError(t, err, "a dead session degrades into tool results, not a turn error")

	assert.Equal(t, 1, tp.sessionAttempts, "a non-transient creation failure is not retried")
	assert.Equal(t, 0, tp.execCount())
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)

	result := turn.Messages[1]
	require.Equal(t, core.RoleTool, result.Role)
	assert.Equal(t, "tc-1", result.ToolCallID, "every requested call keeps a result message")
	assert.NotContains(t, result.Content, "quota check", "raw provider text must not surface")

	assert.Equal(t, 2, model.Calls(), "the loop continues after the degraded batch")
	assert.Equal(t, "I couldn't reach your workspace.", turn.Final)

	// The persisted transcript carries the result too, so no stored
	// assistant message dangles a call without one.
	require.Eventually(t, func() bool {
		msgs, _, err := store.Load(context.Background(), "c1")
		return err == nil && len(msgs) == len(turn.Messages)
	}, time.Second, 5*time.Millisecond)
}

func TestRun_SessionFailureRetriedWhenTransient(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":"x"}`))
	model.AddTurn(core.TextDelta("The service was briefly down."))

	tp := &scriptedToolProvider{sessionErr: errors.New("503 Service Unavailable")}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star x"), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, tp.sessionAttempts, "transient creation failures use the retry budget")
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)
	assert.Equal(t, "The service was briefly down.", turn.Final)
}

func TestRun_TransientExhaustionDegradesAndContinues(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":"x"}`))
	model.AddTurn(core.TextDelta("I couldn't star the repo right now."))

	tp := &scriptedToolProvider{}
	boom := execResponse{err: errors.New("rate limit exceeded")}
	tp.respond(boom, boom, boom)

	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star x"), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, tp.execCount(), "transient failure retries twice then gives up")
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)

	result := turn.Messages[1]
	require.Equal(t, core.RoleTool, result.Role)
	assert.NotContains(t, result.Content, "rate limit exceeded", "raw provider text must not surface")
	assert.Contains(t, result.Content, "rate limited")

	// The loop continued: the model saw the failure and answered.
	assert.Equal(t, 2, model.Calls())
	assert.Equal(t, "I couldn't star the repo right now.", turn.Final)
}

func TestRun_TransientRecoversWithinBudget(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":"x"}`))
	model.AddTurn(core.TextDelta("Starred."))

	tp := &scriptedToolProvider{}
	tp.respond(
		execResponse{err: errors.New("request timeout")},
		execResponse{result: &provider.ExecutionResult{Data: core.String("ok")}},
	)

	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star x"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, tp.execCount())
	assert.Equal(t, core.StatusCompleted, turn.Messages[0].ToolCalls[0].Status)
}

func TestRun_DepthBound(t *testing.T) {
	model := provider.NewScriptedModel()
	for i := 0; i < 15; i++ {
		model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":"x"}`))
	}

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("loop forever"), nil)
	require.NoError(t, err, "hitting the depth bound is not an error")

	assert.Equal(t, DefaultMaxDepth, model.Calls(), "model is asked at most MaxDepth times")
	assert.Equal(t, DepthLimitMessage, turn.Final)

	last := turn.Messages[len(turn.Messages)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, DepthLimitMessage, last.Content)
}

func TestRun_RequestUserInputHaltsPending(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", tool.NameRequestUserInput, `{"question":"Which repo do you mean?"}`))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star it"), nil)
	require.NoError(t, err)

	assert.True(t, turn.PendingInput)
	assert.Equal(t, "Which repo do you mean?", turn.Final)
	assert.Equal(t, 0, tp.execCount(), "the reserved tool never reaches the provider")
	assert.Equal(t, 1, model.Calls())
}

func TestRun_DiscoveredToolsMergeForLaterIterations(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", tool.MetaSearchTools, `{"query":"star a repo"}`))
	model.AddTurn(core.TextDelta("Found it."))

	tp := &scriptedToolProvider{}
	tp.respond(execResponse{result: &provider.ExecutionResult{
		Data: core.String("1 tool found"),
		DiscoveredTools: []provider.ToolSchema{
			{Name: "GITHUB_STAR_REPO", Description: "Star a repository."},
		},
	}})

	o := newTestOrchestrator(model, tp)
	_, err := o.Run(context.Background(), "u1", "c1", userTurn("find a tool"), nil)
	require.NoError(t, err)

	first := toolNames(model.ToolsAt(0))
	second := toolNames(model.ToolsAt(1))
	assert.NotContains(t, first, "GITHUB_STAR_REPO", "discovery applies to later iterations only")
	assert.Contains(t, second, "GITHUB_STAR_REPO")
	assert.Contains(t, second, tool.MetaSearchTools, "base surface is retained")
}

func TestRun_MemoryUpdateInjectedIntoMultiExecute(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_GET_USER", `{}`))
	model.AddTurn(core.ToolCallDelta(0, "tc-2", tool.MetaMultiExecute, `{"tools":[]}`))
	model.AddTurn(core.TextDelta("All done."))

	tp := &scriptedToolProvider{}
	tp.respond(
		execResponse{result: &provider.ExecutionResult{
			Data:         core.String("ada"),
			MemoryUpdate: map[string][]string{"github": {"login is ada"}},
		}},
		execResponse{result: &provider.ExecutionResult{Data: core.String("ok")}},
	)

	o := newTestOrchestrator(model, tp)
	mem := core.NewMemoryMap()
	_, err := o.Run(context.Background(), "u1", "c1", userTurn("who am I, then act"), mem)
	require.NoError(t, err)

	require.Equal(t, 2, tp.execCount())
	assert.NotContains(t, tp.executedAt(0).args, tool.MemoryArgKey)
	injected, ok := tp.executedAt(1).args[tool.MemoryArgKey].(map[string]any)
	require.True(t, ok, "multi-execute must carry the memory snapshot")
	assert.Contains(t, injected, "github")
	assert.Equal(t, []string{"login is ada"}, mem.Snapshot()["github"])
}

func TestRun_MalformedArgumentsBecomeToolError(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.ToolCallDelta(0, "tc-1", "GITHUB_STAR_REPO", `{"repo":`))
	model.AddTurn(core.TextDelta("Something went wrong with that call."))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("star"), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, tp.execCount(), "unparseable calls never reach the provider")
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)
	assert.Equal(t, core.RoleTool, turn.Messages[1].Role)
	assert.Equal(t, "Something went wrong with that call.", turn.Final)
}

func TestRun_DeclaredSchemaRejectsBadArguments(t *testing.T) {
	model := provider.NewScriptedModel()
	// SEARCH_TOOLS declares "query" as required; call it without.
	model.AddTurn(core.ToolCallDelta(0, "tc-1", tool.MetaSearchTools, `{}`))
	model.AddTurn(core.TextDelta("I need a search query."))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("search"), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, tp.execCount(), "schema violations never reach the provider")
	assert.Equal(t, core.StatusError, turn.Messages[0].ToolCalls[0].Status)
	assert.True(t, strings.Contains(turn.Messages[1].Content, "input"), "result should read as an input problem: %s", turn.Messages[1].Content)
	assert.Equal(t, 2, model.Calls(), "the loop continues after a validation failure")
}

func TestRun_StreamErrorAbortsTurn(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddFailingTurn(provider.ScriptError("upstream hung up"), core.TextDelta("partial"))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	_, err := o.Run(context.Background(), "u1", "c1", userTurn("hi"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model stream")
}

func TestRun_OnTextSeesIncrementalFragments(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(core.TextDelta("Hel"), core.TextDelta("lo"))

	var got []string
	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp, func(o *Options) {
		o.OnText = func(text string) { got = append(got, text) }
	})
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("hi"), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", turn.Final)
}

func TestRun_ToolResultsFollowCallOrder(t *testing.T) {
	model := provider.NewScriptedModel()
	model.AddTurn(
		core.ToolCallDelta(1, "tc-b", "GMAIL_LIST_LABELS", `{}`),
		core.ToolCallDelta(0, "tc-a", "GITHUB_STAR_REPO", `{"repo":"x"}`),
	)
	model.AddTurn(core.TextDelta("Both done."))

	tp := &scriptedToolProvider{}
	o := newTestOrchestrator(model, tp)
	turn, err := o.Run(context.Background(), "u1", "c1", userTurn("do both"), nil)
	require.NoError(t, err)

	require.Equal(t, 2, tp.execCount())
	assert.Equal(t, "GITHUB_STAR_REPO", tp.executedAt(0).name)
	assert.Equal(t, "GMAIL_LIST_LABELS", tp.executedAt(1).name)
	assert.Equal(t, "tc-a", turn.Messages[1].ToolCallID)
	assert.Equal(t, "tc-b", turn.Messages[2].ToolCallID)
}

func toolNames(schemas []provider.ToolSchema) []string {
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	return names
}
