package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"WChain-Bubbles/internal/cache"
	"WChain-Bubbles/internal/storage"
)

// Provider 返回当前生效的知识库条目。
type Provider interface {
	Entries(ctx context.Context) ([]storage.KnowledgeEntry, error)
}

// StaticProvider 提供从 JSON 文件加载的固定条目。
type StaticProvider struct {
	entries []storage.KnowledgeEntry
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(entries []storage.KnowledgeEntry) *StaticProvider {
	return &StaticProvider{entries: append([]storage.KnowledgeEntry(nil), entries...)}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []storage.KnowledgeEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries), nil
}

// Entries 返回生效条目，按优先级降序、更新时间降序排列。
func (p *StaticProvider) Entries(context.Context) ([]storage.KnowledgeEntry, error) {
	if p == nil {
		return nil, nil
	}
	return Active(p.entries), nil
}

// StoreProvider 从数据库读取知识条目。
type StoreProvider struct {
	store storage.KnowledgeStore
}

// NewStoreProvider 包装一个 KnowledgeStore。
func NewStoreProvider(store storage.KnowledgeStore) *StoreProvider {
	return &StoreProvider{store: store}
}

// Entries 实现 Provider。
func (p *StoreProvider) Entries(ctx context.Context) ([]storage.KnowledgeEntry, error) {
	entries, err := p.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return Active(entries), nil
}

// CachedProvider 在 TTL 内复用上一次读取的条目。
type CachedProvider struct {
	next  Provider
	store cache.Store
	ttl   time.Duration
}

// NewCachedProvider 创建带缓存的 Provider。ttl <= 0 时每次都读取 next。
func NewCachedProvider(next Provider, store cache.Store, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, store: store, ttl: ttl}
}

// Entries 实现 Provider。
func (p *CachedProvider) Entries(ctx context.Context) ([]storage.KnowledgeEntry, error) {
	if p.ttl <= 0 || p.store == nil {
		return p.next.Entries(ctx)
	}
	return cache.Remember(ctx, p.store, "knowledge:active", p.ttl, p.next.Entries)
}

// Active 过滤未启用的条目并排序，不修改入参。
func Active(entries []storage.KnowledgeEntry) []storage.KnowledgeEntry {
	out := make([]storage.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
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
	return out
}

// BuildPrompt 把基础提示词和知识条目拼接为系统提示词。
func BuildPrompt(base string, entries []storage.KnowledgeEntry) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	active := Active(entries)
	if len(active) == 0 {
		return b.String()
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("# Knowledge base\n")
	for _, e := range active {
		fmt.Fprintf(&b, "\n## [%s] %s\n%s\n", e.Category, e.Title, strings.TrimSpace(e.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	_ Provider = (*StaticProvider)(nil)
	_ Provider = (*StoreProvider)(nil)
	_ Provider = (*CachedProvider)(nil)
)
