package memory

import (
	"context"
	"sort"
	"sync"

	"WChain-Bubbles/internal/storage"
)

// KnowledgeStore keeps knowledge base rows in memory.
type KnowledgeStore struct {
	mu      sync.RWMutex
	entries []storage.KnowledgeEntry
}

// NewKnowledgeStore creates a store seeded with entries.
func NewKnowledgeStore(entries ...storage.KnowledgeEntry) *KnowledgeStore {
	return &KnowledgeStore{entries: append([]storage.KnowledgeEntry(nil), entries...)}
}

var _ storage.KnowledgeStore = (*KnowledgeStore)(nil)

// ListActive returns active entries ordered by priority desc, updated_at desc.
func (s *KnowledgeStore) ListActive(context.Context) ([]storage.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.KnowledgeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.IsActive {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
