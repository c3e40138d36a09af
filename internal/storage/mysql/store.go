package mysql

import (
	"context"
	"database/sql"

	"WChain-Bubbles/internal/storage"
)

// Store 基于 MySQL 实现会话存储、钱包缓存读取与知识库读取。
type Store struct {
	db *sql.DB
}

var (
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.WalletCache       = (*Store)(nil)
	_ storage.KnowledgeStore    = (*Store)(nil)
)

// Open 建立连接并执行尚未应用的迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore 包装一个已建立的连接池，不执行迁移。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close 释放连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
