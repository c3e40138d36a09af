package mysql

import (
	"context"
	"fmt"
	"time"

	"WChain-Bubbles/internal/storage"
)

const selectActiveKnowledgeSQL = `SELECT id, category, title, content, priority, is_active, updated_at
    FROM knowledge_base WHERE is_active = 1 ORDER BY priority DESC, updated_at DESC`

// ListActive 返回启用的知识库条目。
func (s *Store) ListActive(ctx context.Context) ([]storage.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectActiveKnowledgeSQL)
	if err != nil {
		return nil, fmt.Errorf("查询知识库失败: %w", err)
	}
	defer rows.Close()

	var out []storage.KnowledgeEntry
	for rows.Next() {
		var (
			entry     storage.KnowledgeEntry
			updatedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Category, &entry.Title, &entry.Content, &entry.Priority, &entry.IsActive, &updatedAt); err != nil {
			return nil, fmt.Errorf("解析知识库失败: %w", err)
		}
		entry.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历知识库失败: %w", err)
	}
	return out, nil
}
