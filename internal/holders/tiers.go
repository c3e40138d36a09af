package holders

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/explorer"
	"WChain-Bubbles/internal/storage"
)

// Source 标识结果来自哪一层。
type Source string

const (
	SourceCache Source = "fast_cache"
	SourceQuery Source = "secondary_api"
	SourceScan  Source = "paginated_scan"
)

// 层级默认值。
const (
	DefaultQueryLimit    = 5000
	DefaultScanPageSize  = 50
	DefaultScanDelay     = 75 * time.Millisecond
	DefaultScanMaxPages  = 100
	DefaultScanMaxRecord = 5000
)

// Tier 是一个可以独立失败的数据源。
type Tier interface {
	Source() Source
	Fetch(ctx context.Context) ([]classify.WalletRecord, error)
}

// CacheTier 读取外部刷新的钱包缓存表，不访问网络。
type CacheTier struct {
	store      storage.WalletCache
	classifier *classify.Classifier
}

// NewCacheTier 创建缓存层。
func NewCacheTier(store storage.WalletCache, classifier *classify.Classifier) *CacheTier {
	return &CacheTier{store: store, classifier: classifier}
}

// Source 实现 Tier。
func (t *CacheTier) Source() Source { return SourceCache }

// Fetch 读取缓存行并用共享分类器重新分类，缓存中的分类列不被信任。
func (t *CacheTier) Fetch(ctx context.Context) ([]classify.WalletRecord, error) {
	rows, err := t.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	return t.classifier.Reclassify(rows), nil
}

// TopAddressAPI 是结构化查询接口所需的能力。
type TopAddressAPI interface {
	Probe(ctx context.Context) error
	TopAddresses(ctx context.Context, limit int) ([]explorer.HolderItem, error)
}

// QueryTier 先做轻量探活，再一次性批量查询余额最高的地址。
type QueryTier struct {
	api        TopAddressAPI
	classifier *classify.Classifier
	limit      int
}

// NewQueryTier 创建结构化查询层。limit <= 0 时使用 DefaultQueryLimit。
func NewQueryTier(api TopAddressAPI, classifier *classify.Classifier, limit int) *QueryTier {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return &QueryTier{api: api, classifier: classifier, limit: limit}
}

// Source 实现 Tier。
func (t *QueryTier) Source() Source { return SourceQuery }

// Fetch 实现 Tier。
func (t *QueryTier) Fetch(ctx context.Context) ([]classify.WalletRecord, error) {
	if err := t.api.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	items, err := t.api.TopAddresses(ctx, t.limit)
	if err != nil {
		return nil, err
	}
	records := make([]classify.WalletRecord, 0, len(items))
	for _, item := range items {
		balance, err := item.Balance()
		if err != nil {
			return nil, err
		}
		records = append(records, t.classifier.Record(item.Hash, balance, int(item.TransactionsCount)))
	}
	return records, nil
}

// AddressPager 是分页扫描所需的能力。
type AddressPager interface {
	AddressesPage(ctx context.Context, pageSize int, cursor explorer.PageParams) (explorer.AddressPage, error)
}

// ScanTier 顺序翻页读取地址列表，页间等待固定间隔。
type ScanTier struct {
	pager      AddressPager
	classifier *classify.Classifier
	pageSize   int
	delay      time.Duration
	maxPages   int
	maxRecords int
}

// ScanOption 调整分页扫描参数。
type ScanOption func(*ScanTier)

// WithPageSize 设置每页条数，限制在 50 到 100 之间。
func WithPageSize(n int) ScanOption {
	return func(t *ScanTier) {
		switch {
		case n <= 0:
		case n < 50:
			t.pageSize = 50
		case n > 100:
			t.pageSize = 100
		default:
			t.pageSize = n
		}
	}
}

// WithPageDelay 设置页间间隔。
func WithPageDelay(d time.Duration) ScanOption {
	return func(t *ScanTier) {
		if d >= 0 {
			t.delay = d
		}
	}
}

// WithScanCeilings 设置页数与记录数上限。
func WithScanCeilings(maxPages, maxRecords int) ScanOption {
	return func(t *ScanTier) {
		if maxPages > 0 {
			t.maxPages = maxPages
		}
		if maxRecords > 0 {
			t.maxRecords = maxRecords
		}
	}
}

// NewScanTier 创建分页扫描层。
func NewScanTier(pager AddressPager, classifier *classify.Classifier, opts ...ScanOption) *ScanTier {
	t := &ScanTier{
		pager:      pager,
		classifier: classifier,
		pageSize:   DefaultScanPageSize,
		delay:      DefaultScanDelay,
		maxPages:   DefaultScanMaxPages,
		maxRecords: DefaultScanMaxRecord,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Source 实现 Tier。
func (t *ScanTier) Source() Source { return SourceScan }

// Fetch 按顺序翻页，遇到空页、缺少下一页游标、页数上限或记录数上限时停止。
// 中途任一页失败则整层失败，不返回部分结果。
func (t *ScanTier) Fetch(ctx context.Context) ([]classify.WalletRecord, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if t.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(t.delay), 1)
	}

	var (
		records []classify.WalletRecord
		cursor  explorer.PageParams
	)
	for page := 0; page < t.maxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		result, err := t.pager.AddressesPage(ctx, t.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}
		if len(result.Items) == 0 {
			break
		}
		for _, item := range result.Items {
			balance, err := item.Balance()
			if err != nil {
				return nil, err
			}
			records = append(records, t.classifier.Record(item.Hash, balance, int(item.TransactionsCount)))
			if len(records) >= t.maxRecords {
				return records, nil
			}
		}
		if len(result.NextPageParams) == 0 {
			break
		}
		cursor = result.NextPageParams
	}
	return records, nil
}
