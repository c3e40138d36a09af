package agent

import (
	"context"
	stdErrors "errors"
	"strings"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Feedback 为助手回复标记正面或负面评价。按角色与内容匹配，重复提交结果相同。
func (a *Agent) Feedback(ctx context.Context, conversationID, content string, feedback storage.Feedback) error {
	if a.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "conversation store not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || strings.TrimSpace(content) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "conversation_id and content are required")
	}
	if !feedback.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "feedback must be positive or negative")
	}
	if _, err := a.store.GetConversation(ctx, conversationID); err != nil {
		return storeError(err, "load conversation")
	}
	matched, err := a.store.SetFeedback(ctx, conversationID, storage.RoleAssistant, content, feedback)
	if err != nil {
		return storeError(err, "save feedback")
	}
	if !matched {
		return xerrors.New(xerrors.CodeNotFound, "no assistant message matches content")
	}
	return nil
}

// History 返回会话最近的消息，按时间升序。
func (a *Agent) History(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	if a.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "conversation store not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "conversation_id is required")
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	if _, err := a.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError(err, "load conversation")
	}
	msgs, err := a.store.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, storeError(err, "load history")
	}
	return msgs, nil
}

// storeError 把存储层错误映射为统一错误码。
func storeError(err error, msg string) error {
	switch {
	case stdErrors.Is(err, storage.ErrNotFound):
		return xerrors.Wrap(xerrors.CodeNotFound, err, "conversation not found")
	case stdErrors.Is(err, storage.ErrConflict):
		return xerrors.Wrap(xerrors.CodeConflict, err, "conversation belongs to another session")
	case stdErrors.Is(err, storage.ErrInvalidInput):
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
	}
}
