package classify

import (
	"github.com/shopspring/decimal"
)

// WalletRecord 是分类后的钱包快照。Category/Emoji/标记位始终由 Classifier 推导。
type WalletRecord struct {
	Address          string          `json:"address"`
	Balance          decimal.Decimal `json:"balance"`
	TransactionCount int             `json:"transaction_count"`
	Category         Label           `json:"category"`
	Emoji            string          `json:"emoji"`
	Label            *string         `json:"label,omitempty"`
	IsFlagship       bool            `json:"is_flagship"`
	IsExchange       bool            `json:"is_exchange"`
	IsWrapped        bool            `json:"is_wrapped"`
}

// Classifier 持有档位表与覆盖表，构造一次后注入所有数据路径。
type Classifier struct {
	overrides Overrides
	threshold decimal.Decimal
}

// Option 定义 Classifier 的可选配置。
type Option func(*Classifier)

// WithLargeHolderThreshold 调整"大户"阈值，默认为最高档位下限。
func WithLargeHolderThreshold(threshold decimal.Decimal) Option {
	return func(c *Classifier) {
		if threshold.IsPositive() {
			c.threshold = threshold
		}
	}
}

// New 创建分类器。
func New(overrides Overrides, opts ...Option) *Classifier {
	c := &Classifier{
		overrides: overrides.normalize(),
		threshold: balanceTiers[0].Min,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// LargeHolderThreshold 返回大户阈值。
func (c *Classifier) LargeHolderThreshold() decimal.Decimal {
	return c.threshold
}

// Exchanges 返回交易所地址集合。
func (c *Classifier) Exchanges() AddressSet {
	return c.overrides.ExchangeSet()
}

// ClassifyWallet 先匹配覆盖表，再自高向低扫描余额档位；不会失败。
func (c *Classifier) ClassifyWallet(balance decimal.Decimal, address string) Tier {
	if tier, _, ok := c.override(address); ok {
		return tier
	}
	if !balance.IsPositive() {
		return lowest()
	}
	for _, tier := range balanceTiers {
		if balance.GreaterThanOrEqual(tier.Min) {
			return tier
		}
	}
	return lowest()
}

func (c *Classifier) override(address string) (Tier, string, bool) {
	addr := normalizeAddress(address)
	if addr == "" {
		return Tier{}, "", false
	}
	tables := []map[string]string{c.overrides.Flagship, c.overrides.Exchange, c.overrides.Wrapped}
	for i, table := range tables {
		if label, ok := table[addr]; ok {
			return overrideTiers[i], label, true
		}
	}
	return Tier{}, "", false
}

// Record 构造一条分类后的钱包记录。
func (c *Classifier) Record(address string, balance decimal.Decimal, txCount int) WalletRecord {
	addr := normalizeAddress(address)
	tier := c.ClassifyWallet(balance, addr)
	rec := WalletRecord{
		Address:          addr,
		Balance:          balance,
		TransactionCount: txCount,
		Category:         tier.Name,
		Emoji:            tier.Emoji,
	}
	if _, label, ok := c.override(addr); ok && label != "" {
		rec.Label = &label
	}
	_, rec.IsFlagship = c.overrides.Flagship[addr]
	_, rec.IsExchange = c.overrides.Exchange[addr]
	_, rec.IsWrapped = c.overrides.Wrapped[addr]
	return rec
}

// Reclassify 对缓存读取的记录重新计算分类，缓存中存储的分类列被忽略。
func (c *Classifier) Reclassify(records []WalletRecord) []WalletRecord {
	out := make([]WalletRecord, 0, len(records))
	for _, rec := range records {
		fresh := c.Record(rec.Address, rec.Balance, rec.TransactionCount)
		if fresh.Label == nil && rec.Label != nil {
			fresh.Label = rec.Label
		}
		out = append(out, fresh)
	}
	return out
}
