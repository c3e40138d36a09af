package holders

import (
	"sort"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/classify"
)

// 榜单数量限制。
const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
	categoryTopSize = 5
)

// HolderCount 是持有人数量统计。
type HolderCount struct {
	Total       int `json:"total"`
	WithBalance int `json:"with_balance"`
}

// Count 统计地址总数以及余额为正的地址数。
func Count(records []classify.WalletRecord) HolderCount {
	out := HolderCount{Total: len(records)}
	for _, rec := range records {
		if rec.Balance.IsPositive() {
			out.WithBalance++
		}
	}
	return out
}

// TopN 返回按余额降序排列的前 limit 条记录，category 非空时只保留该分类。
func TopN(limit int, category classify.Label) Aggregator[[]classify.WalletRecord] {
	limit = clampLimit(limit)
	return func(records []classify.WalletRecord) []classify.WalletRecord {
		out := make([]classify.WalletRecord, 0, limit)
		for _, rec := range sortedByBalance(records) {
			if category != "" && rec.Category != category {
				continue
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
		return out
	}
}

// Bucket 是分布中的一个分类。
type Bucket struct {
	Category classify.Label  `json:"category"`
	Emoji    string          `json:"emoji"`
	Count    int             `json:"count"`
	Balance  decimal.Decimal `json:"total_balance"`
	// Share 为该分类地址数占比，百分数，保留两位小数。
	Share float64 `json:"share"`
}

// Distribution 汇总每个分类的地址数与余额，覆盖分类在前，余额档位自高向低。
func Distribution(records []classify.WalletRecord) []Bucket {
	order := append(classify.OverrideTiers(), classify.Tiers()...)
	index := make(map[classify.Label]int, len(order))
	buckets := make([]Bucket, len(order))
	for i, tier := range order {
		index[tier.Name] = i
		buckets[i] = Bucket{Category: tier.Name, Emoji: tier.Emoji, Balance: decimal.Zero}
	}
	for _, rec := range records {
		i, ok := index[rec.Category]
		if !ok {
			continue
		}
		buckets[i].Count++
		buckets[i].Balance = buckets[i].Balance.Add(rec.Balance)
	}
	if total := len(records); total > 0 {
		for i := range buckets {
			buckets[i].Share = decimal.NewFromInt(int64(buckets[i].Count)).
				Mul(decimal.NewFromInt(100)).
				DivRound(decimal.NewFromInt(int64(total)), 2).
				InexactFloat64()
		}
	}
	return buckets
}

// CategoryStat 是单个分类的统计。
type CategoryStat struct {
	Category classify.Label          `json:"category"`
	Emoji    string                  `json:"emoji"`
	Count    int                     `json:"count"`
	Total    decimal.Decimal         `json:"total_balance"`
	Average  decimal.Decimal         `json:"average_balance"`
	Min      decimal.Decimal         `json:"min_balance"`
	Max      decimal.Decimal         `json:"max_balance"`
	Top      []classify.WalletRecord `json:"top"`
}

// CategoryStats 统计 tier 分类。tier 应来自 classify.Lookup。
func CategoryStats(tier classify.Tier) Aggregator[CategoryStat] {
	return func(records []classify.WalletRecord) CategoryStat {
		stat := CategoryStat{Category: tier.Name, Emoji: tier.Emoji, Total: decimal.Zero, Average: decimal.Zero, Min: decimal.Zero, Max: decimal.Zero}
		for _, rec := range sortedByBalance(records) {
			if rec.Category != tier.Name {
				continue
			}
			if stat.Count == 0 {
				stat.Max = rec.Balance
			}
			stat.Min = rec.Balance
			stat.Count++
			stat.Total = stat.Total.Add(rec.Balance)
			if len(stat.Top) < categoryTopSize {
				stat.Top = append(stat.Top, rec)
			}
		}
		if stat.Count > 0 {
			stat.Average = stat.Total.DivRound(decimal.NewFromInt(int64(stat.Count)), 18)
		}
		return stat
	}
}

// LargeHolders 返回余额不低于 threshold 的地址，按余额降序，最多 limit 条。
func LargeHolders(threshold decimal.Decimal, limit int) Aggregator[[]classify.WalletRecord] {
	limit = clampLimit(limit)
	return func(records []classify.WalletRecord) []classify.WalletRecord {
		var out []classify.WalletRecord
		for _, rec := range sortedByBalance(records) {
			if rec.Balance.LessThan(threshold) {
				break
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
		return out
	}
}

// LargeHolderSet 返回全部大户地址集合，供转账压力分类的前置过滤使用。
func LargeHolderSet(threshold decimal.Decimal) Aggregator[classify.AddressSet] {
	return func(records []classify.WalletRecord) classify.AddressSet {
		return classify.LargeHolderSet(records, threshold)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	if limit > MaxTopLimit {
		return MaxTopLimit
	}
	return limit
}

func sortedByBalance(records []classify.WalletRecord) []classify.WalletRecord {
	out := append([]classify.WalletRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Balance.GreaterThan(out[j].Balance) })
	return out
}
