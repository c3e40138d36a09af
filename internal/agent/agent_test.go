package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WChain-Bubbles/internal/cache"
	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/events"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/knowledge"
	"WChain-Bubbles/internal/llm"
	"WChain-Bubbles/internal/observability/alerting"
	"WChain-Bubbles/internal/storage"
	"WChain-Bubbles/internal/storage/memory"
	"WChain-Bubbles/internal/tools"
)

// scriptedLLM 按调用顺序返回预置响应，超出后重复最后一个。
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	requests  []llm.ChatRequest
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type executorFunc func(ctx context.Context, name string, args json.RawMessage) tools.Payload

func (f executorFunc) Execute(ctx context.Context, name string, args json.RawMessage) tools.Payload {
	return f(ctx, name, args)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e events.TurnEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func okExecutor() executorFunc {
	return func(context.Context, string, json.RawMessage) tools.Payload {
		return tools.Payload{"result": "ok"}
	}
}

func krakenExecutor(t *testing.T) *tools.Executor {
	t.Helper()
	classifier := classify.New(classify.Overrides{})
	records := make([]classify.WalletRecord, 0, 8)
	for i := 0; i < 6; i++ {
		addr := fmt.Sprintf("0x%040x", 0xa0+i)
		records = append(records, classifier.Record(addr, decimal.NewFromInt(int64(5_000_000+i*1_000)), i))
	}
	records = append(records, classifier.Record(fmt.Sprintf("0x%040x", 0xb0), decimal.NewFromInt(10), 1))
	resolver := holders.NewResolver([]holders.Tier{
		holders.NewCacheTier(memory.NewWalletCache(records...), classifier),
	})
	return tools.NewExecutor(tools.Deps{
		Holders:    resolver,
		Classifier: classifier,
		Cache:      cache.NewMemoryStore(time.Minute),
	})
}

func TestTopHoldersTwoRoundTurnPersistsOneExchange(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "getTopHolders", `{"limit":5,"category":"Kraken"}`)}},
		{Content: "The five largest Kraken wallets hold just over 25M WCO."},
	}}
	store := memory.NewConversationStore()
	ag := New(model, krakenExecutor(t), store, WithIntents())

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "Show the top 5 Kraken wallets"})
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Rounds)
	assert.Equal(t, SourceModel, reply.Source)
	assert.Equal(t, 2, model.calls())

	msgs, err := store.RecentMessages(context.Background(), reply.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	assert.Equal(t, reply.MessageID, msgs[1].ID)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))

	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "getTopHolders", msgs[1].ToolCalls[0].Name)
	require.Len(t, msgs[1].ToolResults, 1)
	result := msgs[1].ToolResults[0]
	assert.Equal(t, "call_1", result.CallID)
	assert.False(t, result.IsError)

	var payload struct {
		Result []classify.WalletRecord `json:"result"`
		Source string                  `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &payload))
	assert.Equal(t, string(holders.SourceCache), payload.Source)
	require.Len(t, payload.Result, 5)
	for _, rec := range payload.Result {
		assert.Equal(t, classify.Kraken, rec.Category)
	}

	second := model.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assistant := second[len(second)-2]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
}

func TestRoundCeilingReturnsLastContent(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("a", "getNetworkStats", `{}`)}},
		{Content: "Looking at the stats so far", ToolCalls: []llm.ToolCall{toolCall("b", "getNetworkStats", `{}`)}},
		{ToolCalls: []llm.ToolCall{toolCall("c", "getNetworkStats", `{}`)}},
	}}
	var executed atomic.Int32
	exec := executorFunc(func(context.Context, string, json.RawMessage) tools.Payload {
		executed.Add(1)
		return tools.Payload{"result": map[string]any{"blocks": 1}}
	})
	ag := New(model, exec, memory.NewConversationStore(), WithIntents())

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "network stats please"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxToolRounds, model.calls())
	assert.Equal(t, DefaultMaxToolRounds, reply.Rounds)
	assert.Equal(t, SourceRoundCeiling, reply.Source)
	assert.Equal(t, "Looking at the stats so far", reply.Reply)
	assert.EqualValues(t, DefaultMaxToolRounds-1, executed.Load())
}

func TestRoundCeilingWithoutContentFallsBack(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("a", "getNetworkStats", `{}`)}},
	}}
	ag := New(model, okExecutor(), memory.NewConversationStore(), WithIntents(), WithMaxToolRounds(2))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "stats"})
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls())
	assert.Equal(t, fallbackReply, reply.Reply)
}

func TestToolFailureDoesNotCancelSiblings(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			toolCall("1", "getNetworkStats", `{}`),
			toolCall("2", "getTransactionChart", `{}`),
			toolCall("3", "getLatestBlocks", `{}`),
		}},
		{Content: "done"},
	}}

	var started sync.WaitGroup
	started.Add(3)
	exec := executorFunc(func(ctx context.Context, name string, _ json.RawMessage) tools.Payload {
		started.Done()
		if name == "getTransactionChart" {
			return tools.Payload{"error": "upstream api failure", "code": string(xerrors.CodeUpstreamFailure)}
		}
		// 三个调用都开始后才返回，顺序执行会在这里超时。
		all := make(chan struct{})
		go func() {
			started.Wait()
			close(all)
		}()
		select {
		case <-all:
			return tools.Payload{"result": name}
		case <-ctx.Done():
			return tools.Payload{"error": "timed out", "code": string(xerrors.CodeTimeout)}
		}
	})
	ag := New(model, exec, memory.NewConversationStore(), WithIntents(), WithToolTimeout(2*time.Second))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "overview"})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Reply)
	require.Len(t, reply.ToolResults, 3)
	assert.False(t, reply.ToolResults[0].IsError)
	assert.True(t, reply.ToolResults[1].IsError)
	assert.False(t, reply.ToolResults[2].IsError)
	assert.Contains(t, reply.ToolResults[2].Content, "getLatestBlocks")

	toolMsgs := 0
	for _, m := range model.requests[1].Messages {
		if m.Role == llm.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 3, toolMsgs)
}

func TestGarbledToolArgumentsStillPersist(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "getTopHolders", `{"limit":5,`)}},
		{Content: "I could not read those arguments."},
	}}
	store := memory.NewConversationStore()
	ag := New(model, krakenExecutor(t), store, WithIntents())

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "top holders"})
	require.NoError(t, err)
	require.Len(t, reply.ToolResults, 1)
	assert.True(t, reply.ToolResults[0].IsError)
	assert.Contains(t, reply.ToolResults[0].Content, string(xerrors.CodeInvalidArgument))

	_, err = json.Marshal(reply)
	require.NoError(t, err)

	msgs, err := store.RecentMessages(context.Background(), reply.ConversationID, 0)
	require.NoError(t, err)
	_, err = json.Marshal(msgs)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].ToolCalls, 1)
	var raw string
	require.NoError(t, json.Unmarshal(msgs[1].ToolCalls[0].Arguments, &raw))
	assert.Equal(t, `{"limit":5,`, raw)
}

func TestFatalProviderErrorAbortsTurn(t *testing.T) {
	model := &scriptedLLM{err: xerrors.New(xerrors.CodeRateLimited, "quota exhausted")}
	alerter := &recordingAlerter{}
	store := memory.NewConversationStore()
	ag := New(model, okExecutor(), store, WithIntents(), WithAlerter(alerter))

	_, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", ConversationID: "c1", Message: "top holders"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeRateLimited, xerrors.CodeOf(err))
	assert.True(t, xerrors.IsFatal(err))

	require.Len(t, alerter.events, 1)
	assert.Equal(t, xerrors.CodeRateLimited, alerter.events[0].Code)
	assert.Equal(t, "c1", alerter.events[0].ConversationID)

	msgs, err := store.RecentMessages(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLLMTimeoutBecomesTimeoutCode(t *testing.T) {
	slow := llm.ClientFunc(func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ag := New(slow, okExecutor(), memory.NewConversationStore(), WithIntents(), WithLLMTimeout(10*time.Millisecond))

	_, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "hello"})
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestIntentAnswersWithoutModel(t *testing.T) {
	classifier := classify.New(classify.Overrides{})
	resolver := holders.NewResolver([]holders.Tier{
		holders.NewCacheTier(memory.NewWalletCache(
			classifier.Record("0x00000000000000000000000000000000000000a1", decimal.NewFromInt(10), 1),
			classifier.Record("0x00000000000000000000000000000000000000a2", decimal.Zero, 0),
		), classifier),
	})
	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "unused"}}}
	store := memory.NewConversationStore()
	ag := New(model, okExecutor(), store, WithIntents(DefaultIntents(resolver)...))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "How many holders?"})
	require.NoError(t, err)
	assert.Zero(t, model.calls())
	assert.Equal(t, "intent:holder_count", reply.Source)
	assert.Contains(t, reply.Reply, "2 WCO holder addresses, 1 of them")

	msgs, err := store.RecentMessages(context.Background(), reply.ConversationID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestIntentFailureFallsThroughToModel(t *testing.T) {
	failing := Intent{
		Name:   "broken",
		Match:  func(string) bool { return true },
		Answer: func(context.Context) (string, error) { return "", xerrors.New(xerrors.CodeUnavailable, "") },
	}
	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "from the model"}}}
	ag := New(model, okExecutor(), memory.NewConversationStore(), WithIntents(failing))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "how many holders"})
	require.NoError(t, err)
	assert.Equal(t, "from the model", reply.Reply)
	assert.Equal(t, 1, model.calls())
}

func TestHistoryTrimmedToDepth(t *testing.T) {
	store := memory.NewConversationStore()
	ctx := context.Background()
	_, err := store.EnsureConversation(ctx, "c1", "s1")
	require.NoError(t, err)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var old []storage.Message
	for i := 0; i < 20; i++ {
		role := storage.RoleUser
		if i%2 == 1 {
			role = storage.RoleAssistant
		}
		old = append(old, storage.Message{Role: role, Content: fmt.Sprintf("m%02d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	require.NoError(t, store.AppendMessages(ctx, "c1", old))

	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "ok"}}}
	ag := New(model, okExecutor(), store, WithIntents())
	_, err = ag.Chat(ctx, ChatRequest{SessionID: "s1", ConversationID: "c1", Message: "next"})
	require.NoError(t, err)

	sent := model.requests[0].Messages
	require.Len(t, sent, 1+DefaultHistoryDepth+1)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Equal(t, "m08", sent[1].Content)
	assert.Equal(t, "m19", sent[len(sent)-2].Content)
	assert.Equal(t, "next", sent[len(sent)-1].Content)
}

func TestSamplingSettingsReachEveryRound(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("x", "getLatestBlocks", `{}`)}},
		{Content: "ok"},
	}}
	ag := New(model, okExecutor(), memory.NewConversationStore(), WithIntents(), WithTemperature(0.7), WithMaxTokens(512))

	_, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "blocks"})
	require.NoError(t, err)
	require.Len(t, model.requests, 2)
	for _, req := range model.requests {
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 512, req.MaxTokens)
	}

	defaults := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "ok"}}}
	ag = New(defaults, okExecutor(), memory.NewConversationStore(), WithIntents(), WithTemperature(3), WithMaxTokens(-1))
	_, err = ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, defaults.requests[0].Temperature)
	assert.Zero(t, defaults.requests[0].MaxTokens)
}

func TestToolResultsTruncated(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{toolCall("x", "getLatestBlocks", `{}`)}},
		{Content: "ok"},
	}}
	big := strings.Repeat("区块", 500)
	exec := executorFunc(func(context.Context, string, json.RawMessage) tools.Payload {
		return tools.Payload{"result": big}
	})
	ag := New(model, exec, memory.NewConversationStore(), WithIntents(), WithToolResultLimit(100))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "blocks"})
	require.NoError(t, err)
	content := reply.ToolResults[0].Content
	assert.Equal(t, 100, utf8.RuneCountInString(content))
	assert.True(t, strings.HasSuffix(content, truncationMarker))
}

func TestModelSelection(t *testing.T) {
	ag := New(nil, okExecutor(), memory.NewConversationStore(), WithModels(Models{Fast: "fast", Strong: "strong"}), WithReasoningThreshold(40))

	assert.Equal(t, "strong", ag.selectModel("Why did whales sell today?", true))
	assert.Equal(t, "strong", ag.selectModel(strings.Repeat("a", 41), true))
	assert.Equal(t, "fast", ag.selectModel("latest blocks", true))
	assert.Equal(t, "fast", ag.selectModel("explain gas", false))
}

func TestFeedbackMarksAssistantReply(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "Kraken means 5M WCO or more."}}}
	store := memory.NewConversationStore()
	ag := New(model, okExecutor(), store, WithIntents())
	ctx := context.Background()

	reply, err := ag.Chat(ctx, ChatRequest{SessionID: "s1", Message: "what is a kraken"})
	require.NoError(t, err)

	require.NoError(t, ag.Feedback(ctx, reply.ConversationID, reply.Reply, storage.FeedbackPositive))
	require.NoError(t, ag.Feedback(ctx, reply.ConversationID, reply.Reply, storage.FeedbackPositive))

	msgs, err := ag.History(ctx, reply.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.FeedbackPositive, msgs[1].Feedback)
	assert.Empty(t, msgs[0].Feedback)

	err = ag.Feedback(ctx, reply.ConversationID, "never said", storage.FeedbackNegative)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
	err = ag.Feedback(ctx, reply.ConversationID, reply.Reply, storage.Feedback("meh"))
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	err = ag.Feedback(ctx, "missing", reply.Reply, storage.FeedbackNegative)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestConversationBelongsToSession(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "hi"}}}
	ag := New(model, okExecutor(), memory.NewConversationStore(), WithIntents())
	ctx := context.Background()

	reply, err := ag.Chat(ctx, ChatRequest{SessionID: "alice", Message: "hello"})
	require.NoError(t, err)

	_, err = ag.Chat(ctx, ChatRequest{SessionID: "bob", ConversationID: reply.ConversationID, Message: "hello"})
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))

	_, err = ag.Chat(ctx, ChatRequest{Message: "hello"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = ag.Chat(ctx, ChatRequest{SessionID: "alice", Message: "   "})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestTurnEventPublishedAndKnowledgeInjected(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.ChatResponse{{Content: "hi", Model: "gpt-4o-mini-2024"}}}
	pub := &recordingPublisher{}
	kb := knowledge.NewStaticProvider([]storage.KnowledgeEntry{
		{Category: "faq", Title: "Fees", Content: "Gas is paid in WCO.", Priority: 1, IsActive: true},
	})
	ag := New(model, okExecutor(), memory.NewConversationStore(), WithIntents(), WithPublisher(pub), WithKnowledgeProvider(kb))

	reply, err := ag.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "fees?"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, reply.ConversationID, ev.ConversationID)
	assert.Equal(t, reply.MessageID, ev.MessageID)
	assert.Equal(t, "gpt-4o-mini-2024", ev.Model)
	assert.Equal(t, 1, ev.Rounds)

	system := model.requests[0].Messages[0]
	assert.Contains(t, system.Content, "## [faq] Fees")
	assert.True(t, strings.HasPrefix(system.Content, "You are Bubbles"))
}
