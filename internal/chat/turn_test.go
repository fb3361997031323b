package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/persist"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

const lookupCall = `<tool_call>{"server":"web","tool":"lookup","args":{"q":"go"}}</tool_call>`

type invocation struct {
	Server string
	Tool   string
	Args   map[string]any
}

type fakeInvoker struct {
	mu      sync.Mutex
	tools   map[string][]mcp.ToolInfo
	results map[string]any
	errs    map[string]error
	calls   []invocation
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		tools: map[string][]mcp.ToolInfo{
			"web": {{ServerName: "web", Name: "lookup", Description: "Look things up"}},
		},
		results: map[string]any{"web.lookup": map[string]any{"answer": "go"}},
		errs:    map[string]error{},
	}
}

func (f *fakeInvoker) ServerTools(_ context.Context, server string) ([]mcp.ToolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tools, ok := f.tools[server]
	if !ok {
		return nil, fmt.Errorf("server %s is not running", server)
	}
	return tools, nil
}

func (f *fakeInvoker) Invoke(_ context.Context, server, tool string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{Server: server, Tool: tool, Args: args})
	key := server + "." + tool
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.results[key], nil
}

func (f *fakeInvoker) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

func testPipeline() config.PipelineConfig {
	return config.PipelineConfig{
		AutoSaveInterval:      200 * time.Millisecond,
		UpdateDebounce:        10 * time.Millisecond,
		MaxToolRecursionDepth: 8,
		ResultTruncate:        2000,
	}
}

func newTestHandler(t *testing.T, client ai.Client, opts ...HandlerOption) (*Handler, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := []HandlerOption{
		WithLogger(log.New(io.Discard)),
		WithStore(st),
		WithPipeline(testPipeline()),
	}
	return NewHandler(client, append(base, opts...)...), st
}

func autoPolicy() *auth.Policy {
	p := auth.NewPolicy()
	p.SetDefaultAutoAuthorize(true)
	return p
}

func runTurn(t *testing.T, h *Handler, content string) (store.Message, *Turn) {
	t.Helper()
	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: content})
	require.NoError(t, err)
	msg, err := turn.Run(context.Background())
	require.NoError(t, err)
	return msg, turn
}

func cards(segs []segment.Segment) []segment.ToolCardSegment {
	var out []segment.ToolCardSegment
	for _, s := range segs {
		if c, ok := s.(segment.ToolCardSegment); ok {
			out = append(out, c)
		}
	}
	return out
}

func lastMessage(req ai.ChatRequest) ai.Message {
	return req.Messages[len(req.Messages)-1]
}

func TestTurn_PlainAnswerWithInlineThinking(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens("<thi", "nk>plan it</think>", "Hello ", "world"))
	h, st := newTestHandler(t, client)

	msg, turn := runTurn(t, h, "hi")

	assert.Equal(t, "Hello world", msg.Content)
	assert.Equal(t, store.StatusComplete, msg.Status)
	assert.Equal(t, segment.StateComplete, turn.Model().State)

	require.NotEmpty(t, msg.Segments)
	think, ok := msg.Segments[0].(segment.ThinkSegment)
	require.True(t, ok, "first segment should be thinking")
	assert.Equal(t, "plan it", think.Text)
	assert.False(t, think.Open())

	stored, err := st.LoadMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, stored.Status)
	assert.Equal(t, "Hello world", stored.Content)

	all, err := st.ListMessages(context.Background(), "conv")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	progress := turn.Progress()
	assert.Equal(t, "plan it", progress.ThinkingContent)
	assert.Equal(t, "Hello world", progress.RegularContent)
	assert.True(t, progress.IsFinished)
}

func TestTurn_OutOfBandReasoning(t *testing.T) {
	client := ai.NewScriptedClient([]ai.StreamEvent{
		{Kind: ai.EventThinkingToken, Text: "weighing "},
		{Kind: ai.EventThinkingToken, Text: "options"},
		{Kind: ai.EventThinkingEnd},
		{Kind: ai.EventToken, Text: "ok"},
		{Kind: ai.EventDone, FinishReason: "stop", Usage: &ai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
	})
	h, _ := newTestHandler(t, client)

	msg, turn := runTurn(t, h, "decide")

	require.Len(t, msg.Segments, 2)
	think, ok := msg.Segments[0].(segment.ThinkSegment)
	require.True(t, ok)
	assert.Equal(t, "weighing options", think.Text)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 5, turn.Usage().TotalTokens)
}

func TestTurn_ToolRoundTrip(t *testing.T) {
	client := ai.NewScriptedClient(
		ai.Tokens("Let me check. <tool_", `call>{"server":"web","tool":"lookup",`, `"args":{"q":"go"}}</tool_call>`),
		ai.Tokens("Go is ", "great."),
	)
	inv := newFakeInvoker()
	policy := autoPolicy()
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(policy))

	msg, turn := runTurn(t, h, "what is go")

	calls := inv.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, invocation{Server: "web", Tool: "lookup", Args: map[string]any{"q": "go"}}, calls[0])

	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusSuccess, cs[0].Status)
	assert.Equal(t, `{"answer":"go"}`, cs[0].ResultPreview)
	assert.Equal(t, msg.ID, cs[0].MessageID)
	assert.Equal(t, "Let me check. Go is great.", msg.Content)
	assert.NotContains(t, msg.Content, "<tool_call>")
	assert.Equal(t, segment.TextSegment{Text: "Let me check. "}, msg.Segments[0])
	assert.Equal(t, store.StatusComplete, msg.Status)
	assert.Equal(t, 2, turn.Rounds())

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	follow := reqs[1].Messages
	assert.Equal(t, ai.RoleSystem, follow[0].Role)
	assert.Equal(t, toolcall.FollowUpSystemPrompt("what is go"), follow[0].Content)
	assert.Contains(t, lastMessage(reqs[1]).Content, "Result of web.lookup")
	assert.Contains(t, lastMessage(reqs[1]).Content, `"answer":"go"`)
	for _, m := range follow {
		assert.False(t, m.Role == ai.RoleUser && m.Content == "what is go", "original question should not repeat verbatim")
	}
	assert.Equal(t, ai.RoleAssistant, follow[len(follow)-2].Role)
	assert.Contains(t, follow[len(follow)-2].Content, "Let me check.")
	assert.NotContains(t, follow[len(follow)-2].Content, "<tool_call>")

	history := policy.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Approved)
}

func TestTurn_RejectedByUser(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens(lookupCall), ai.Tokens("I could not look that up."))
	inv := newFakeInvoker()
	h, _ := newTestHandler(t, client, WithToolInvoker(inv))

	var prompted []auth.PendingAuthorization
	h.Gate().Subscribe(func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			prompted = append(prompted, ev.Auth)
			h.Gate().Reject(ev.Auth.ID)
		}
	})

	msg, _ := runTurn(t, h, "look it up")

	require.Len(t, prompted, 1)
	assert.Equal(t, "web", prompted[0].Server)
	assert.Equal(t, msg.ID, prompted[0].MessageID)
	assert.Empty(t, inv.invocations())
	assert.Empty(t, h.Gate().List())

	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusError, cs[0].Status)
	assert.Equal(t, "rejected by user", cs[0].ErrorMessage)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, lastMessage(reqs[1]).Content, CodeAuthorizationDenied)
	assert.Equal(t, store.StatusComplete, msg.Status)
}

func TestTurn_DeniedModeSkipsPrompt(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens(lookupCall), ai.Tokens("ok"))
	inv := newFakeInvoker()
	policy := auth.NewPolicy()
	policy.SetMode(auth.ApproveNone)
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(policy))

	prompts := 0
	h.Gate().Subscribe(func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			prompts++
		}
	})

	msg, _ := runTurn(t, h, "look it up")

	assert.Zero(t, prompts)
	assert.Empty(t, inv.invocations())
	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, "tool calls are disabled", cs[0].ErrorMessage)
	require.Len(t, policy.History(), 1)
	assert.False(t, policy.History()[0].Approved)
}

func TestTurn_FilesystemAliasNeedsApproval(t *testing.T) {
	client := ai.NewScriptedClient(
		ai.Tokens(`<tool_call>{"server":"filesystem","tool":"list","args":{"path":"C:\\tmp\\x"}}</tool_call>`),
		ai.Tokens("Found a.txt"),
	)
	inv := newFakeInvoker()
	inv.tools["filesystem"] = []mcp.ToolInfo{{ServerName: "filesystem", Name: "dir"}}
	inv.results["filesystem.dir"] = "a.txt"
	// auto-authorize does not cover sensitive servers
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(autoPolicy()))

	approvals := 0
	h.Gate().Subscribe(func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			approvals++
			h.Gate().Approve(ev.Auth.ID)
		}
	})

	msg, _ := runTurn(t, h, "list my files")

	assert.Equal(t, 1, approvals)
	calls := inv.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, "dir", calls[0].Tool)
	assert.Equal(t, "C:/tmp/x", calls[0].Args["path"])

	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusSuccess, cs[0].Status)
	assert.Equal(t, "a.txt", cs[0].ResultPreview)
}

func TestTurn_ToolNotFound(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens(lookupCall), ai.Tokens("Let me search instead."))
	inv := newFakeInvoker()
	inv.tools["web"] = []mcp.ToolInfo{{ServerName: "web", Name: "search"}}
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(autoPolicy()))

	msg, _ := runTurn(t, h, "look it up")

	assert.Empty(t, inv.invocations())
	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusError, cs[0].Status)
	assert.Contains(t, cs[0].ErrorMessage, "Available tools: search.")
	assert.Equal(t, cs[0].ErrorMessage, cs[0].SchemaHint)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, lastMessage(reqs[1]).Content, CodeToolNotFound)
}

func TestTurn_CallFailureCarriesSchemaHint(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens(lookupCall), ai.Tokens("retrying"))
	inv := newFakeInvoker()
	inv.tools["web"] = []mcp.ToolInfo{{
		ServerName: "web",
		Name:       "lookup",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}}
	inv.errs["web.lookup"] = errors.New("missing query")
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(autoPolicy()))

	msg, _ := runTurn(t, h, "look it up")

	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusError, cs[0].Status)
	assert.Equal(t, "missing query", cs[0].ErrorMessage)
	assert.Equal(t, "Arguments for lookup: query (string, required)", cs[0].SchemaHint)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, lastMessage(reqs[1]).Content, CodeCallFailed)
	assert.Equal(t, store.StatusComplete, msg.Status)
}

func TestTurn_RecursionLimit(t *testing.T) {
	client := ai.NewScriptedClient(
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
	)
	inv := newFakeInvoker()
	pipeline := testPipeline()
	pipeline.MaxToolRecursionDepth = 2
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(autoPolicy()), WithPipeline(pipeline))

	msg, _ := runTurn(t, h, "loop")

	assert.Len(t, client.Requests(), 3)
	assert.Len(t, inv.invocations(), 3)
	assert.Len(t, cards(msg.Segments), 3)
	assert.Equal(t, store.StatusComplete, msg.Status)
	assert.Empty(t, h.depths)
}

func TestTurn_ServerRecursionOverride(t *testing.T) {
	client := ai.NewScriptedClient(
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
		ai.Tokens(lookupCall),
	)
	inv := newFakeInvoker()
	policy := autoPolicy()
	two := 2
	policy.SetServer("web", auth.ServerPolicy{MaxRecursionDepth: &two})
	pipeline := testPipeline()
	pipeline.MaxToolRecursionDepth = 0
	h, _ := newTestHandler(t, client, WithToolInvoker(inv), WithPolicy(policy), WithPipeline(pipeline))

	runTurn(t, h, "loop")

	assert.Len(t, client.Requests(), 3)
}

func TestTurn_NudgeAfterEmptyFollowUp(t *testing.T) {
	client := ai.NewScriptedClient(
		ai.Tokens(lookupCall),
		ai.Tokens(),
		ai.Tokens("Final answer."),
	)
	h, _ := newTestHandler(t, client, WithToolInvoker(newFakeInvoker()), WithPolicy(autoPolicy()))

	msg, _ := runTurn(t, h, "ask")

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, NudgePrompt, lastMessage(reqs[2]).Content)
	assert.Contains(t, msg.Content, "Final answer.")
}

func TestTurn_Stop(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "word "
	}
	client := ai.NewScriptedClient(ai.Tokens(words...)).WithDelay(5 * time.Millisecond)
	h, st := newTestHandler(t, client)

	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: "ramble"})
	require.NoError(t, err)

	type result struct {
		msg store.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := turn.Run(context.Background())
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(segment.PlainText(turn.Model().Segments), "word")
	}, 2*time.Second, 5*time.Millisecond)
	turn.Stop()
	turn.Stop()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.NoError(t, res.err)
	assert.Equal(t, store.StatusComplete, res.msg.Status)
	assert.Equal(t, segment.StateComplete, turn.Model().State)
	assert.Less(t, len(res.msg.Content), len(strings.Join(words, "")))

	stored, err := st.LoadMessage(context.Background(), turn.ID())
	require.NoError(t, err)
	assert.Equal(t, res.msg.Content, stored.Content)
	assert.Len(t, client.Requests(), 1)
}

func TestTurn_StopWhileAwaitingApproval(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens(lookupCall), ai.Tokens("never sent"))
	inv := newFakeInvoker()
	h, _ := newTestHandler(t, client, WithToolInvoker(inv))

	waiting := make(chan struct{}, 1)
	h.Gate().Subscribe(func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			waiting <- struct{}{}
		}
	})

	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: "look"})
	require.NoError(t, err)
	done := make(chan store.Message, 1)
	go func() {
		msg, _ := turn.Run(context.Background())
		done <- msg
	}()

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("authorization was never requested")
	}
	turn.Stop()

	var msg store.Message
	select {
	case msg = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Empty(t, inv.invocations())
	assert.Empty(t, h.Gate().List())
	assert.Len(t, client.Requests(), 1)

	cs := cards(msg.Segments)
	require.Len(t, cs, 1)
	assert.Equal(t, segment.StatusError, cs[0].Status)
	assert.Equal(t, "stopped by user", cs[0].ErrorMessage)
}

func TestTurn_ProviderError(t *testing.T) {
	client := ai.NewScriptedClient()
	h, st := newTestHandler(t, client)

	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: "hello"})
	require.NoError(t, err)
	msg, err := turn.Run(context.Background())
	assert.ErrorIs(t, err, ai.ErrScriptExhausted)
	assert.Equal(t, store.StatusError, msg.Status)

	stored, err := st.LoadMessage(context.Background(), turn.ID())
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, stored.Status)
}

func TestTurn_RunTwice(t *testing.T) {
	h, _ := newTestHandler(t, ai.NewScriptedClient(ai.Tokens("once")))
	_, turn := runTurn(t, h, "hi")
	_, err := turn.Run(context.Background())
	assert.ErrorIs(t, err, ErrTurnStarted)
}

func TestTurn_ProgressAndEvents(t *testing.T) {
	updates := persist.NewUpdateManager(persist.WithDebounce(10*time.Millisecond), persist.WithManagerLogger(log.New(io.Discard)))
	var mu sync.Mutex
	var last []segment.Segment
	var events []string

	client := ai.NewScriptedClient(ai.Tokens("Hello ", "world"))
	h, _ := newTestHandler(t, client,
		WithUpdateManager(updates),
		WithProgress(func(_ string, segs []segment.Segment) {
			mu.Lock()
			defer mu.Unlock()
			last = segs
		}),
		WithEventHook(func(_ string, ev segment.Event, _ segment.Model) {
			events = append(events, fmt.Sprintf("%T", ev))
		}),
	)

	runTurn(t, h, "hi")

	mu.Lock()
	assert.Equal(t, "Hello world", segment.PlainText(last))
	mu.Unlock()
	assert.Equal(t, []string{"segment.TokenAppend", "segment.TokenAppend", "segment.StreamEnd"}, events)
	assert.Zero(t, updates.Stats().CallbackCount)
}

func TestHandler_Send(t *testing.T) {
	h, st := newTestHandler(t, ai.NewScriptedClient(ai.Tokens("first answer"), ai.Tokens("second answer")))

	_, err := h.Send(context.Background(), Request{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyInput)

	fresh, err := h.Send(context.Background(), Request{Content: "new"})
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.ConversationID())
	users, err := st.ListMessages(context.Background(), fresh.ConversationID())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, ai.RoleUser, users[0].Role)

	runTurn(t, h, "first question")
	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: "second question", Document: "notes"})
	require.NoError(t, err)
	_, err = turn.Run(context.Background())
	require.NoError(t, err)

	reqs := h.client.(*ai.ScriptedClient).Requests()
	require.Len(t, reqs, 2)
	var roles []string
	for _, m := range reqs[1].Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant, ai.RoleUser}, roles)
	assert.Equal(t, "first answer", reqs[1].Messages[2].Content)
	assert.Equal(t, "second question\n\nnotes", lastMessage(reqs[1]).Content)
}

func TestHandler_FromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.AI.Temperature = 0.5
	cfg.Authorization.Mode = "none"
	h := NewHandlerFromConfig(ai.NewScriptedClient(), cfg, WithLogger(log.New(io.Discard)))

	assert.Equal(t, cfg.AI.Model, h.model)
	assert.Equal(t, float32(0.5), h.params["temperature"])
	assert.True(t, h.Policy().Denied())
}

func TestHandler_NextDepth(t *testing.T) {
	h := NewHandler(ai.NewScriptedClient(), WithLogger(log.New(io.Discard)))

	for i := 0; i < 20; i++ {
		require.True(t, h.nextDepth("unlimited", 0))
	}

	assert.True(t, h.nextDepth("c", 2))
	assert.True(t, h.nextDepth("c", 2))
	assert.False(t, h.nextDepth("c", 2))
	// reaching the limit resets the count
	assert.True(t, h.nextDepth("c", 2))
}

func TestFollowUp(t *testing.T) {
	prev := []ai.Message{
		{Role: ai.RoleSystem, Content: toolcall.FollowUpSystemPrompt("q")},
		{Role: ai.RoleSystem, Content: "base"},
		{Role: ai.RoleUser, Content: "q"},
	}
	next := ai.Message{Role: ai.RoleUser, Content: "result"}

	got := followUp(prev, " called a tool ", "q", next)

	require.Len(t, got, 4)
	assert.Equal(t, toolcall.FollowUpSystemPrompt("q"), got[0].Content)
	assert.Equal(t, "base", got[1].Content)
	assert.Equal(t, ai.Message{Role: ai.RoleAssistant, Content: "called a tool"}, got[2])
	assert.Equal(t, next, got[3])
}

func TestTurn_ProgressWhileRunning(t *testing.T) {
	client := ai.NewScriptedClient(ai.Tokens("<think>hmm</think>", "one ", "two ", "three")).WithDelay(time.Millisecond)
	h, _ := newTestHandler(t, client)

	turn, err := h.Send(context.Background(), Request{ConversationID: "conv", Content: "count"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := turn.Run(context.Background())
		assert.NoError(t, err)
	}()

	for polling := true; polling; {
		select {
		case <-done:
			polling = false
		default:
			_ = turn.Progress()
		}
	}

	snap := turn.Progress()
	assert.True(t, snap.IsFinished)
	assert.Equal(t, "hmm", snap.ThinkingContent)
	assert.Equal(t, "one two three", snap.RegularContent)
}
