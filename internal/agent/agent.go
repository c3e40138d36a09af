package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"WChain-Bubbles/internal/events"
	"WChain-Bubbles/internal/knowledge"
	"WChain-Bubbles/internal/llm"
	"WChain-Bubbles/internal/observability/alerting"
	"WChain-Bubbles/internal/storage"
	"WChain-Bubbles/internal/tools"
	"WChain-Bubbles/pkg/logger"
)

// 编排器默认参数。
const (
	DefaultHistoryDepth       = 12
	DefaultMaxToolRounds      = 3
	DefaultToolResultLimit    = 12000
	DefaultReasoningThreshold = 280
	DefaultLLMTimeout         = 60 * time.Second
	DefaultToolTimeout        = 30 * time.Second
	DefaultTemperature        = 0.2
	maxMessageLength          = 4000
	maxToolConcurrency        = 8
)

// ToolExecutor 执行一次工具调用，失败以错误结果返回。
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) tools.Payload
}

// Models 是两档模型：Fast 用于普通问题，Strong 用于需要推理的问题。
type Models struct {
	Fast   string
	Strong string
}

// Agent 协调大模型、工具执行器与会话存储，是系统的业务核心。
type Agent struct {
	llmClient llm.Client
	executor  ToolExecutor
	store     storage.ConversationStore
	tools     []llm.Tool

	systemPrompt       string
	knowledge          knowledge.Provider
	intents            []Intent
	publisher          events.Publisher
	alerter            alerting.Dispatcher
	models             Models
	historyDepth       int
	maxToolRounds      int
	toolResultLimit    int
	reasoningThreshold int
	temperature        float64
	maxTokens          int
	llmTimeout         time.Duration
	toolTimeout        time.Duration
	now                func() time.Time
	log                *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithHistoryDepth 设置每轮携带的历史消息条数。
func WithHistoryDepth(depth int) Option {
	return func(a *Agent) {
		if depth > 0 {
			a.historyDepth = depth
		}
	}
}

// WithMaxToolRounds 设置单轮对话内调用模型的上限。
func WithMaxToolRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxToolRounds = n
		}
	}
}

// WithToolResultLimit 设置回传给模型的单个工具结果的字符上限。
func WithToolResultLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.toolResultLimit = n
		}
	}
}

// WithModels 设置快慢两档模型。
func WithModels(m Models) Option {
	return func(a *Agent) {
		if m.Fast != "" {
			a.models.Fast = m.Fast
		}
		if m.Strong != "" {
			a.models.Strong = m.Strong
		}
	}
}

// WithReasoningThreshold 设置触发推理模型的消息长度。
func WithReasoningThreshold(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.reasoningThreshold = n
		}
	}
}

// WithTemperature 设置采样温度，取值范围 [0, 2]，越界的值被忽略。
func WithTemperature(t float64) Option {
	return func(a *Agent) {
		if t >= 0 && t <= 2 {
			a.temperature = t
		}
	}
}

// WithMaxTokens 限制单次回复的 token 数，0 表示使用服务商默认值。
func WithMaxTokens(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxTokens = n
		}
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.llmTimeout = timeout
		}
	}
}

// WithToolTimeout 设置单个工具调用的超时时间。
func WithToolTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.toolTimeout = timeout
		}
	}
}

// WithKnowledgeProvider 配置知识库，其内容拼接在系统提示词之后。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithSystemPrompt 替换基础系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if prompt != "" {
			a.systemPrompt = prompt
		}
	}
}

// WithIntents 替换意图短路列表，传入空列表即关闭短路。
func WithIntents(intents ...Intent) Option {
	return func(a *Agent) {
		a.intents = append([]Intent(nil), intents...)
	}
}

// WithTools 替换提供给模型的工具目录。
func WithTools(catalog []llm.Tool) Option {
	return func(a *Agent) {
		a.tools = append([]llm.Tool(nil), catalog...)
	}
}

// WithPublisher 配置对话事件发布器。
func WithPublisher(p events.Publisher) Option {
	return func(a *Agent) {
		if p != nil {
			a.publisher = p
		}
	}
}

// WithAlerter 配置告警分发器。
func WithAlerter(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = d
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。工具目录默认为 tools.Catalog()。
func New(llmClient llm.Client, executor ToolExecutor, store storage.ConversationStore, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:          llmClient,
		executor:           executor,
		store:              store,
		tools:              tools.Catalog(),
		systemPrompt:       DefaultSystemPrompt,
		publisher:          events.Nop{},
		models:             Models{Fast: "gpt-4o-mini", Strong: "gpt-4o"},
		historyDepth:       DefaultHistoryDepth,
		maxToolRounds:      DefaultMaxToolRounds,
		toolResultLimit:    DefaultToolResultLimit,
		reasoningThreshold: DefaultReasoningThreshold,
		temperature:        DefaultTemperature,
		llmTimeout:         DefaultLLMTimeout,
		toolTimeout:        DefaultToolTimeout,
		now:                time.Now,
		log:                logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.executor == nil {
		ag.tools = nil
	}
	return ag
}

// DefaultSystemPrompt 是助手的基础系统提示词。
const DefaultSystemPrompt = `You are Bubbles, the assistant of the WChain block explorer.
Answer questions about WCO holders, wallets, transactions, blocks, tokens and contracts.
Use the tools to fetch live data instead of guessing, and say so when a tool fails.
Wallets are grouped into ocean-creature categories by WCO balance: Kraken (5M+), Whale (1M+),
Shark (500K+), Dolphin (100K+), Fish (10K+), Octopus (1K+), Crab (100+), Shrimp (above zero)
and Plankton (zero). Flagship, Harbor (exchange) and Bridge (wrapped) addresses are labelled
regardless of balance. Keep answers short and quote the numbers the tools return.`
