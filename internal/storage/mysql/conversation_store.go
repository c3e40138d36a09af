package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"WChain-Bubbles/internal/storage"
)

const (
	insertConversationSQL = `INSERT INTO conversations (id, session_id, created_at, updated_at) VALUES (?, ?, ?, ?)`
	selectConversationSQL = `SELECT id, session_id, created_at, updated_at FROM conversations WHERE id = ?`
	insertMessageSQL      = `INSERT INTO conversation_messages
    (id, conversation_id, role, content, tool_calls, tool_results, feedback, model, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecentMessagesSQL = `SELECT id, conversation_id, role, content, tool_calls, tool_results, feedback, model, created_at
    FROM conversation_messages WHERE conversation_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`
	touchConversationSQL = `UPDATE conversations SET updated_at = ? WHERE id = ?`
	selectFeedbackTarget = `SELECT seq FROM conversation_messages
    WHERE conversation_id = ? AND role = ? AND content = ? ORDER BY created_at DESC, seq DESC LIMIT 1`
	updateFeedbackSQL = `UPDATE conversation_messages SET feedback = ? WHERE seq = ?`
)

// EnsureConversation 返回会话，不存在时为 sessionID 创建。
func (s *Store) EnsureConversation(ctx context.Context, id, sessionID string) (storage.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.Conversation{}, storage.ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, insertConversationSQL, id, sessionID, now, now); err != nil && !isDuplicateEntry(err) {
		return storage.Conversation{}, fmt.Errorf("创建会话失败: %w", err)
	}

	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return storage.Conversation{}, err
	}
	if conv.SessionID != sessionID {
		return storage.Conversation{}, storage.ErrConflict
	}
	return conv, nil
}

// GetConversation 按 ID 查询会话。
func (s *Store) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	var (
		conv               storage.Conversation
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx, selectConversationSQL, id).Scan(&conv.ID, &conv.SessionID, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Conversation{}, storage.ErrNotFound
		}
		return storage.Conversation{}, fmt.Errorf("查询会话失败: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updated).UTC()
	return conv, nil
}

// AppendMessages 在一个事务内按顺序写入消息。
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs []storage.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		toolCalls, err := encodeJSON(msg.ToolCalls)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		toolResults, err := encodeJSON(msg.ToolResults)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, insertMessageSQL,
			msg.ID, conversationID, string(msg.Role), msg.Content, toolCalls, toolResults,
			string(msg.Feedback), msg.Model, msg.CreatedAt.UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("写入消息失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交消息事务失败: %w", err)
	}
	return nil
}

// RecentMessages 返回最近 limit 条消息，按时间升序排列。
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, selectRecentMessagesSQL, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		var (
			msg                    storage.Message
			role, feedback         string
			toolCalls, toolResults sql.NullString
			createdAt              int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &toolCalls, &toolResults, &feedback, &msg.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("解析消息失败: %w", err)
		}
		msg.Role = storage.Role(role)
		msg.Feedback = storage.Feedback(feedback)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := decodeJSON(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
		if err := decodeJSON(toolResults, &msg.ToolResults); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历消息失败: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Touch 更新会话最后活跃时间。
func (s *Store) Touch(ctx context.Context, conversationID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, touchConversationSQL, at.UnixMilli(), conversationID); err != nil {
		return fmt.Errorf("更新会话时间失败: %w", err)
	}
	return nil
}

// SetFeedback 标记最近一条角色与内容都匹配的消息。
func (s *Store) SetFeedback(ctx context.Context, conversationID string, role storage.Role, content string, feedback storage.Feedback) (bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, selectFeedbackTarget, conversationID, string(role), content).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("查询反馈目标失败: %w", err)
	}
	// 按主键更新；重复提交相同评价时 MySQL 报告 0 行变更，但仍视为成功。
	if _, err := s.db.ExecContext(ctx, updateFeedbackSQL, string(feedback), seq); err != nil {
		return false, fmt.Errorf("写入反馈失败: %w", err)
	}
	return true, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch typed := v.(type) {
	case []storage.ToolCall:
		if len(typed) == 0 {
			return sql.NullString{}, nil
		}
	case []storage.ToolResult:
		if len(typed) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("序列化工具调用失败: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(raw sql.NullString, out any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), out); err != nil {
		return fmt.Errorf("解析工具调用失败: %w", err)
	}
	return nil
}
