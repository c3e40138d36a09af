package holders

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/observability/alerting"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/pkg/logger"
)

// DefaultTierTimeout 限制单个层级的总耗时。
const DefaultTierTimeout = 2 * time.Minute

// Result 是一次解析的结果以及数据来源。
type Result[T any] struct {
	Value   T      `json:"result"`
	Source  Source `json:"source"`
	Records int    `json:"records"`
}

// Resolver 按顺序尝试各个层级。
type Resolver struct {
	tiers       []Tier
	tierTimeout time.Duration
	threshold   decimal.Decimal
	alerter     alerting.Dispatcher
	log         *slog.Logger
}

// Option 定义 Resolver 的可选配置。
type Option func(*Resolver)

// WithTierTimeout 设置单层超时。
func WithTierTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.tierTimeout = d
		}
	}
}

// WithAlerter 在所有层级都失败时发送告警。
func WithAlerter(d alerting.Dispatcher) Option {
	return func(r *Resolver) {
		r.alerter = d
	}
}

// WithLargeHolderThreshold 设置 largeHolders 查询未指定阈值时使用的默认值，
// 应与分类器的大户阈值一致。
func WithLargeHolderThreshold(threshold decimal.Decimal) Option {
	return func(r *Resolver) {
		if threshold.IsPositive() {
			r.threshold = threshold
		}
	}
}

// NewResolver 创建解析器，tiers 的顺序即尝试顺序。
func NewResolver(tiers []Tier, opts ...Option) *Resolver {
	r := &Resolver{
		tiers:       append([]Tier(nil), tiers...),
		tierTimeout: DefaultTierTimeout,
		threshold:   classify.Tiers()[0].Min,
		log:         logger.Named("holders"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Sources 返回层级顺序。
func (r *Resolver) Sources() []Source {
	out := make([]Source, 0, len(r.tiers))
	for _, t := range r.tiers {
		out = append(out, t.Source())
	}
	return out
}

// Aggregator 把一组已分类的记录归约为查询结果。
type Aggregator[T any] func(records []classify.WalletRecord) T

// Resolve 依次尝试各层级，对第一个非空结果执行 agg。
func Resolve[T any](ctx context.Context, r *Resolver, kind Kind, agg Aggregator[T]) (Result[T], error) {
	records, source, err := r.records(ctx, kind)
	if err != nil {
		metrics.ObserveResolution(string(kind), "none")
		return Result[T]{}, err
	}
	metrics.ObserveResolution(string(kind), string(source))
	return Result[T]{Value: agg(records), Source: source, Records: len(records)}, nil
}

// records 返回第一个成功且非空的层级的记录。层级的错误与空结果只记录日志。
func (r *Resolver) records(ctx context.Context, kind Kind) ([]classify.WalletRecord, Source, error) {
	for _, tier := range r.tiers {
		if err := ctx.Err(); err != nil {
			return nil, "", xerrors.Wrap(xerrors.CodeTimeout, err, "")
		}
		started := time.Now()
		records, err := r.fetch(ctx, tier)
		switch {
		case err != nil:
			r.log.Warn("holder tier failed", "kind", kind, "source", tier.Source(), "code", xerrors.CodeOf(err), "error", err, "elapsed", time.Since(started))
		case len(records) == 0:
			r.log.Info("holder tier returned no records", "kind", kind, "source", tier.Source())
		default:
			r.log.Debug("holder tier resolved", "kind", kind, "source", tier.Source(), "records", len(records), "elapsed", time.Since(started))
			return records, tier.Source(), nil
		}
	}

	err := xerrors.New(xerrors.CodeUnavailable, "", xerrors.WithMetadata("kind", string(kind)))
	if r.alerter != nil {
		if alertErr := r.alerter.Notify(ctx, alerting.FromError("holders", err)); alertErr != nil {
			r.log.Warn("dispatch alert failed", "error", alertErr)
		}
	}
	return nil, "", err
}

func (r *Resolver) fetch(ctx context.Context, tier Tier) (records []classify.WalletRecord, err error) {
	tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = xerrors.New(xerrors.CodeUnknown, "holder tier panicked", xerrors.WithMetadata("source", string(tier.Source())))
			r.log.Error("holder tier panicked", "source", tier.Source(), "panic", p)
		}
	}()
	return tier.Fetch(tierCtx)
}
