package storage

import (
	"context"
	"time"

	"WChain-Bubbles/internal/classify"
)

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// EnsureConversation returns the conversation, creating it for sessionID
	// when it does not exist. Returns ErrConflict if it belongs to another session.
	EnsureConversation(ctx context.Context, id, sessionID string) (Conversation, error)

	// GetConversation returns ErrNotFound if the conversation does not exist.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// AppendMessages stores msgs in order. Either all are stored or none.
	AppendMessages(ctx context.Context, conversationID string, msgs []Message) error

	// RecentMessages returns the most recent limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Touch updates the conversation's last-activity timestamp.
	Touch(ctx context.Context, conversationID string, at time.Time) error

	// SetFeedback marks the latest message matching role and content.
	// Reports whether a message matched.
	SetFeedback(ctx context.Context, conversationID string, role Role, content string, feedback Feedback) (bool, error)
}

// WalletCache reads the wallet snapshot refreshed by an external batch job.
type WalletCache interface {
	// ListWallets returns all cached rows ordered by balance descending.
	ListWallets(ctx context.Context) ([]classify.WalletRecord, error)
}

// KnowledgeStore reads knowledge base entries.
type KnowledgeStore interface {
	// ListActive returns active entries ordered by priority desc, updated_at desc.
	ListActive(ctx context.Context) ([]KnowledgeEntry, error)
}
