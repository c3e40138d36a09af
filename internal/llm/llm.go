package llm

import (
	"context"
	"encoding/json"
)

// Role 表示消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 是模型请求执行的一次工具调用，Arguments 为 JSON 对象。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message 是对话中的一条消息。工具结果消息通过 ToolCallID 关联到对应调用。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Tool 描述一个可供模型调用的工具，Parameters 为 JSON Schema。
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// 工具选择策略。
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ChatRequest 是一次模型调用的输入。
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string
	Temperature float64
	MaxTokens   int
}

// Usage 记录 token 用量。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse 是模型的输出：最终文本，或一组待执行的工具调用。
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	Usage        Usage
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ClientFunc 允许以函数实现 Client。
type ClientFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

// Chat 实现 Client。
func (f ClientFunc) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}
