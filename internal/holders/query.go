package holders

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
)

// Kind 是持有人查询的类型。
type Kind string

const (
	KindCount         Kind = "count"
	KindTopN          Kind = "topN"
	KindDistribution  Kind = "distribution"
	KindCategoryStats Kind = "categoryStats"
	KindLargeHolders  Kind = "largeHolders"
)

// Params 是查询参数，不同 Kind 使用其中不同字段。
type Params struct {
	Limit     int
	Category  string
	Threshold *decimal.Decimal
}

// QueryResult 是 Query 的返回值。
type QueryResult struct {
	Kind    Kind   `json:"kind"`
	Result  any    `json:"result"`
	Source  Source `json:"source"`
	Records int    `json:"records"`
}

// Query 按类型解析持有人数据。参数非法时在访问任何数据源之前返回 INVALID_ARGUMENT。
func (r *Resolver) Query(ctx context.Context, kind Kind, p Params) (QueryResult, error) {
	switch kind {
	case KindCount:
		res, err := Resolve(ctx, r, kind, Count)
		return erase(kind, res, err)
	case KindDistribution:
		res, err := Resolve(ctx, r, kind, Distribution)
		return erase(kind, res, err)
	case KindTopN:
		var category classify.Label
		if strings.TrimSpace(p.Category) != "" {
			tier, err := lookupCategory(p.Category)
			if err != nil {
				return QueryResult{}, err
			}
			category = tier.Name
		}
		res, err := Resolve(ctx, r, kind, TopN(p.Limit, category))
		return erase(kind, res, err)
	case KindCategoryStats:
		tier, err := lookupCategory(p.Category)
		if err != nil {
			return QueryResult{}, err
		}
		res, err := Resolve(ctx, r, kind, CategoryStats(tier))
		return erase(kind, res, err)
	case KindLargeHolders:
		threshold := r.threshold
		if p.Threshold != nil {
			if !p.Threshold.IsPositive() {
				return QueryResult{}, xerrors.New(xerrors.CodeInvalidArgument, "threshold must be positive")
			}
			threshold = *p.Threshold
		}
		res, err := Resolve(ctx, r, kind, LargeHolders(threshold, p.Limit))
		return erase(kind, res, err)
	default:
		return QueryResult{}, xerrors.New(xerrors.CodeInvalidArgument, "unknown holder query kind "+string(kind))
	}
}

func lookupCategory(name string) (classify.Tier, error) {
	tier, ok := classify.Lookup(name)
	if !ok {
		return classify.Tier{}, xerrors.New(xerrors.CodeInvalidArgument, "unknown category "+name,
			xerrors.WithMetadata("category", name))
	}
	return tier, nil
}

func erase[T any](kind Kind, res Result[T], err error) (QueryResult, error) {
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Kind: kind, Result: res.Value, Source: res.Source, Records: res.Records}, nil
}
