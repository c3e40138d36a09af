// Package memory provides in-process store implementations for development
// and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"WChain-Bubbles/internal/storage"
)

// ConversationStore keeps conversations in memory, partitioned by id.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]storage.Conversation
	messages      map[string][]storage.Message
	now           func() time.Time
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]storage.Conversation),
		messages:      make(map[string][]storage.Message),
		now:           time.Now,
	}
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// EnsureConversation returns or creates the conversation.
func (s *ConversationStore) EnsureConversation(_ context.Context, id, sessionID string) (storage.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.Conversation{}, storage.ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[id]; ok {
		if conv.SessionID != sessionID {
			return storage.Conversation{}, storage.ErrConflict
		}
		return conv, nil
	}
	now := s.now().UTC()
	conv := storage.Conversation{ID: id, SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	s.conversations[id] = conv
	return conv, nil
}

// GetConversation returns a conversation by id.
func (s *ConversationStore) GetConversation(_ context.Context, id string) (storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return storage.Conversation{}, storage.ErrNotFound
	}
	return conv, nil
}

// AppendMessages stores msgs in order.
func (s *ConversationStore) AppendMessages(_ context.Context, conversationID string, msgs []storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return storage.ErrNotFound
	}
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = s.now().UTC()
		}
		msg.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], msg)
	}
	// Stable so equal timestamps keep insertion order.
	list := s.messages[conversationID]
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return nil
}

// RecentMessages returns the latest limit messages, oldest first.
func (s *ConversationStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]storage.Message, limit)
	copy(out, list[len(list)-limit:])
	return out, nil
}

// Touch updates the last-activity timestamp.
func (s *ConversationStore) Touch(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	conv.UpdatedAt = at.UTC()
	s.conversations[conversationID] = conv
	return nil
}

// SetFeedback marks the latest message matching role and content.
func (s *ConversationStore) SetFeedback(_ context.Context, conversationID string, role storage.Role, content string, feedback storage.Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Role == role && list[i].Content == content {
			list[i].Feedback = feedback
			return true, nil
		}
	}
	return false, nil
}
