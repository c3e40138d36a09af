package postgres

import (
	"context"
	"fmt"

	"WChain-Bubbles/internal/storage"
)

// KnowledgeStore implements storage.KnowledgeStore using PostgreSQL.
type KnowledgeStore struct {
	pool *Pool
}

// NewKnowledgeStore creates a new KnowledgeStore.
func NewKnowledgeStore(pool *Pool) *KnowledgeStore {
	return &KnowledgeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KnowledgeStore = (*KnowledgeStore)(nil)

// ListActive returns active entries ordered by priority desc, updated_at desc.
func (s *KnowledgeStore) ListActive(ctx context.Context) ([]storage.KnowledgeEntry, error) {
	query := `
		SELECT id, category, title, content, priority, is_active, updated_at
		FROM knowledge_base
		WHERE is_active
		ORDER BY priority DESC, updated_at DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query knowledge base: %w", err)
	}
	defer rows.Close()

	var out []storage.KnowledgeEntry
	for rows.Next() {
		var e storage.KnowledgeEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.Title, &e.Content, &e.Priority, &e.IsActive, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge base: %w", err)
	}
	return out, nil
}

// Insert adds an entry and returns its id. Used by seeding and tests.
func (s *KnowledgeStore) Insert(ctx context.Context, e storage.KnowledgeEntry) (int64, error) {
	query := `
		INSERT INTO knowledge_base (category, title, content, priority, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, e.Category, e.Title, e.Content, e.Priority, e.IsActive, e.UpdatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert knowledge entry: %w", err)
	}
	return id, nil
}
