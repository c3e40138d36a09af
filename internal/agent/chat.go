package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/events"
	"WChain-Bubbles/internal/knowledge"
	"WChain-Bubbles/internal/llm"
	"WChain-Bubbles/internal/observability/alerting"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/internal/storage"
	"WChain-Bubbles/pkg/logger"
)

// 回复来源。
const (
	SourceModel        = "model"
	SourceRoundCeiling = "round_ceiling"
	sourceIntentPrefix = "intent:"
)

// fallbackReply 在达到轮次上限且模型没有给出任何文本时返回。
const fallbackReply = "I gathered some data but could not finish the answer in time. Please try asking a narrower question."

const truncationMarker = "\n...[truncated]"

// ChatRequest 是一轮用户输入。ConversationID 为空时创建新会话。
type ChatRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatReply 是一轮对话的结果。
type ChatReply struct {
	ConversationID string               `json:"conversation_id"`
	MessageID      string               `json:"message_id"`
	Reply          string               `json:"reply"`
	Model          string               `json:"model,omitempty"`
	Rounds         int                  `json:"rounds"`
	Source         string               `json:"source"`
	ToolCalls      []storage.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []storage.ToolResult `json:"tool_results,omitempty"`
}

// turn 是一轮对话在编排过程中的状态。
type turn struct {
	conversation storage.Conversation
	userMessage  string
	startedAt    time.Time

	model       string
	rounds      int
	source      string
	reply       string
	toolCalls   []storage.ToolCall
	toolResults []storage.ToolResult
}

// Chat 处理一条用户消息并返回助手回复。
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	// 验证必要的组件是否已配置。
	if a.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "conversation store not configured")
	}

	// 验证请求的合法性。
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	message := strings.TrimSpace(req.Message)
	if req.SessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "session_id is required")
	}
	if message == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message is required")
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("message exceeds %d characters", maxMessageLength))
	}

	conv, err := a.store.EnsureConversation(ctx, req.ConversationID, req.SessionID)
	if err != nil {
		return nil, storeError(err, "load conversation")
	}
	t := &turn{conversation: conv, userMessage: message, startedAt: a.now()}

	// 意图短路：命中即直接回答，不调用模型。
	if reply, name, ok := a.matchIntent(ctx, message); ok {
		t.reply = reply
		t.source = sourceIntentPrefix + name
	} else {
		if a.llmClient == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "language model not configured")
		}
		if err := a.converse(ctx, t); err != nil {
			a.alert(ctx, conv, err)
			return nil, err
		}
	}

	msgID, err := a.persist(ctx, t)
	if err != nil {
		return nil, err
	}
	a.finish(ctx, t, msgID)

	return &ChatReply{
		ConversationID: conv.ID,
		MessageID:      msgID,
		Reply:          t.reply,
		Model:          t.model,
		Rounds:         t.rounds,
		Source:         t.source,
		ToolCalls:      t.toolCalls,
		ToolResults:    t.toolResults,
	}, nil
}

// converse 驱动模型与工具的多轮交互，直到模型给出最终文本或达到轮次上限。
func (a *Agent) converse(ctx context.Context, t *turn) error {
	msgs, err := a.buildContext(ctx, t)
	if err != nil {
		return err
	}

	toolsRequested := false
	lastContent := ""
	for round := 1; round <= a.maxToolRounds; round++ {
		t.model = a.selectModel(t.userMessage, len(a.tools) > 0 || toolsRequested)
		resp, err := a.callModel(ctx, llm.ChatRequest{
			Model:       t.model,
			Messages:    msgs,
			Tools:       a.tools,
			ToolChoice:  toolChoice(a.tools),
			Temperature: a.temperature,
			MaxTokens:   a.maxTokens,
		})
		if err != nil {
			return err
		}
		t.rounds = round
		if resp.Model != "" {
			t.model = resp.Model
		}
		if content := strings.TrimSpace(resp.Content); content != "" {
			lastContent = content
		}
		if len(resp.ToolCalls) == 0 {
			t.reply = lastContent
			t.source = SourceModel
			if t.reply == "" {
				t.reply = fallbackReply
			}
			return nil
		}
		if round == a.maxToolRounds {
			break
		}

		toolsRequested = true
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		msgs = append(msgs, a.runTools(ctx, t, resp.ToolCalls)...)
	}

	a.log.Warn("tool round ceiling reached", "conversation_id", t.conversation.ID, "rounds", t.rounds)
	t.source = SourceRoundCeiling
	t.reply = lastContent
	if t.reply == "" {
		t.reply = fallbackReply
	}
	return nil
}

func jsonString(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func toolChoice(catalog []llm.Tool) string {
	if len(catalog) == 0 {
		return ""
	}
	return llm.ToolChoiceAuto
}

// buildContext 组装系统提示词、截断后的历史与本轮消息。
func (a *Agent) buildContext(ctx context.Context, t *turn) ([]llm.Message, error) {
	prompt := a.systemPrompt
	if a.knowledge != nil {
		entries, err := a.knowledge.Entries(ctx)
		if err != nil {
			a.log.Warn("knowledge base unavailable", "error", err)
		} else {
			prompt = knowledge.BuildPrompt(prompt, entries)
		}
	}

	history, err := a.store.RecentMessages(ctx, t.conversation.ID, a.historyDepth)
	if err != nil {
		return nil, storeError(err, "load history")
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case storage.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case storage.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.userMessage})
	return msgs, nil
}

func (a *Agent) callModel(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()

	resp, err := a.llmClient.Chat(callCtx, req)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "language model timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeProviderFailure, err, "")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeMalformed, "empty response from language model")
	}
	return resp, nil
}

// runTools 并发执行一轮内的全部工具调用，等待全部完成后按请求顺序返回工具消息。
// 单个工具失败不会取消其他调用。
func (a *Agent) runTools(ctx context.Context, t *turn, calls []llm.ToolCall) []llm.Message {
	results := make([]storage.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(maxToolConcurrency)
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
			calls[i].ID = call.ID
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
			defer cancel()

			payload := a.executor.Execute(callCtx, call.Name, call.Arguments)
			content, err := jsonString(payload)
			if err != nil {
				content = fmt.Sprintf(`{"error":%q,"code":%q}`, "unencodable tool result", xerrors.CodeMalformed)
			}
			results[i] = storage.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: truncate(content, a.toolResultLimit),
				IsError: payload.Failed(),
			}
			return nil
		})
	}
	_ = g.Wait()

	msgs := make([]llm.Message, 0, len(calls))
	for i, call := range calls {
		t.toolCalls = append(t.toolCalls, storage.ToolCall{ID: call.ID, Name: call.Name, Arguments: storage.NormalizeArguments(call.Arguments)})
		t.toolResults = append(t.toolResults, results[i])
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    results[i].Content,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return msgs
}

// truncate 把 s 截断到最多 limit 个字符。
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(truncationMarker)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + truncationMarker
}

// persist 按时间顺序写入用户消息与助手消息，并更新会话活跃时间。
func (a *Agent) persist(ctx context.Context, t *turn) (string, error) {
	replyAt := a.now()
	if !replyAt.After(t.startedAt) {
		replyAt = t.startedAt.Add(time.Millisecond)
	}
	assistant := storage.Message{
		ID:          uuid.NewString(),
		Role:        storage.RoleAssistant,
		Content:     t.reply,
		ToolCalls:   t.toolCalls,
		ToolResults: t.toolResults,
		Model:       t.model,
		CreatedAt:   replyAt,
	}
	msgs := []storage.Message{
		{ID: uuid.NewString(), Role: storage.RoleUser, Content: t.userMessage, CreatedAt: t.startedAt},
		assistant,
	}
	if err := a.store.AppendMessages(ctx, t.conversation.ID, msgs); err != nil {
		err = storeError(err, "persist turn")
		a.alert(ctx, t.conversation, err)
		return "", err
	}
	if err := a.store.Touch(ctx, t.conversation.ID, replyAt); err != nil {
		a.log.Warn("touch conversation failed", "conversation_id", t.conversation.ID, "error", err)
	}
	return assistant.ID, nil
}

// finish 记录指标、审计日志，并发布对话事件。发布失败只记录日志。
func (a *Agent) finish(ctx context.Context, t *turn, msgID string) {
	latency := a.now().Sub(t.startedAt)
	names := make([]string, 0, len(t.toolCalls))
	for _, c := range t.toolCalls {
		names = append(names, c.Name)
	}
	if t.rounds > 0 {
		metrics.ObserveRounds(t.model, t.rounds)
	}
	logger.Audit().Info("turn completed",
		"conversation_id", t.conversation.ID,
		"session_id", t.conversation.SessionID,
		"message_id", msgID,
		"model", t.model,
		"rounds", t.rounds,
		"source", t.source,
		"tools", names,
		"latency_ms", latency.Milliseconds(),
	)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := a.publisher.Publish(pubCtx, events.TurnEvent{
		ConversationID: t.conversation.ID,
		SessionID:      t.conversation.SessionID,
		MessageID:      msgID,
		Model:          t.model,
		Rounds:         t.rounds,
		Tools:          names,
		Source:         t.source,
		Latency:        latency,
		OccurredAt:     a.now(),
	})
	if err != nil {
		a.log.Warn("publish turn event failed", "conversation_id", t.conversation.ID, "error", err)
	}
}

func (a *Agent) alert(ctx context.Context, conv storage.Conversation, err error) {
	if a.alerter == nil || !(xerrors.IsFatal(err) || xerrors.ShouldAlert(err)) {
		return
	}
	event := alerting.FromError("agent", err)
	event.ConversationID = conv.ID
	event.SessionID = conv.SessionID
	if notifyErr := a.alerter.Notify(context.WithoutCancel(ctx), event); notifyErr != nil {
		a.log.Warn("alert dispatch failed", "code", event.Code, "error", notifyErr)
	}
}
