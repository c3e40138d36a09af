package storage

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role 表示消息发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Feedback 是用户对助手回复的评价。
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// Valid 判断评价取值是否合法。
func (f Feedback) Valid() bool {
	return f == FeedbackPositive || f == FeedbackNegative
}

// Conversation 是一次会话的元数据，按 SessionID 隔离。
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCall 记录模型请求的一次工具调用。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NormalizeArguments 保证工具参数可以被序列化：空参数记为 {}，
// 非法 JSON 以字符串形式原样保存。
func NormalizeArguments(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// ToolResult 记录工具调用的（已截断）结果。
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message 是会话中的一条消息。
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	Feedback       Feedback     `json:"feedback,omitempty"`
	Model          string       `json:"model,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// KnowledgeEntry 是注入系统提示词的知识库条目。
type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}
