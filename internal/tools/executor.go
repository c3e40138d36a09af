package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/cache"
	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/explorer"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/internal/web3"
	"WChain-Bubbles/pkg/logger"
)

// 单次工具调用的默认超时。持有人类工具可能触发分页扫描，单独放宽。
const (
	DefaultCallTimeout    = 20 * time.Second
	DefaultHoldersTimeout = 3 * time.Minute
)

// Payload 是返回给模型的工具结果。成功时包含 result，失败时包含 error 与 code。
type Payload map[string]any

// Failed 判断结果是否为错误。
func (p Payload) Failed() bool {
	_, ok := p["error"]
	return ok
}

// Code 返回错误码，成功时为空。
func (p Payload) Code() string {
	code, _ := p["code"].(string)
	return code
}

// ExplorerAPI 是执行器用到的区块浏览器调用。
type ExplorerAPI interface {
	Address(ctx context.Context, address string) (any, error)
	AddressCounters(ctx context.Context, address string) (any, error)
	AddressTransactions(ctx context.Context, address string) (any, error)
	AddressTokenBalances(ctx context.Context, address string) (any, error)
	AddressTokenTransfers(ctx context.Context, address string) (any, error)
	Transaction(ctx context.Context, hash string) (any, error)
	TransactionLogs(ctx context.Context, hash string) (any, error)
	LatestTransactions(ctx context.Context) ([]explorer.TransferItem, error)
	PendingTransactions(ctx context.Context) (any, error)
	LatestBlocks(ctx context.Context) (any, error)
	Block(ctx context.Context, id string) (any, error)
	Token(ctx context.Context, address string) (any, error)
	TokenHolders(ctx context.Context, address string) (any, error)
	SmartContract(ctx context.Context, address string) (any, error)
	Stats(ctx context.Context) (any, error)
	TransactionChart(ctx context.Context) (any, error)
	Search(ctx context.Context, query string) (any, error)
	Etherscan(ctx context.Context, module, action string, params url.Values) (any, error)
}

// ChainReader 通过 RPC 端点读取链上数据。
type ChainReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	ChainInfo(ctx context.Context) (web3.ChainSnapshot, error)
}

// Deps 是执行器依赖的组件。Cache 为空时不缓存。
type Deps struct {
	Holders    *holders.Resolver
	Classifier *classify.Classifier
	Explorer   ExplorerAPI
	Chain      ChainReader
	Cache      cache.Store
}

// Executor 执行模型请求的工具调用。
type Executor struct {
	deps           Deps
	callTimeout    time.Duration
	holdersTimeout time.Duration
	log            *slog.Logger
}

// Option 定义执行器的可选配置。
type Option func(*Executor)

// WithCallTimeout 设置普通工具的超时。
func WithCallTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithHoldersTimeout 设置持有人类工具的超时。
func WithHoldersTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.holdersTimeout = d
		}
	}
}

// NewExecutor 创建执行器。
func NewExecutor(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:           deps,
		callTimeout:    DefaultCallTimeout,
		holdersTimeout: DefaultHoldersTimeout,
		log:            logger.Named("tools"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 解码并执行一次工具调用。它从不返回 error，失败与 panic 都会转换为错误结果。
func (e *Executor) Execute(ctx context.Context, name string, raw json.RawMessage) (payload Payload) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool panicked", "tool", name, "panic", fmt.Sprint(r))
			payload = errorPayload(xerrors.New(xerrors.CodeUnknown, "tool failed unexpectedly"))
		}
		e.record(name, payload, time.Since(start))
	}()

	inv, err := Decode(name, raw)
	if err != nil {
		return errorPayload(err)
	}
	spec, _ := lookupSpec(name)

	timeout := e.callTimeout
	if isHolderTool(inv) {
		timeout = e.holdersTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key, err := cacheKey(inv)
	if err != nil {
		return errorPayload(err)
	}
	result, err := cache.Remember(callCtx, e.deps.Cache, key, spec.ttl, func(ctx context.Context) (Payload, error) {
		return e.dispatch(ctx, inv)
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && xerrors.CodeOf(err) != xerrors.CodeTimeout {
			err = xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("%s timed out after %s", name, timeout))
		}
		return errorPayload(err)
	}
	return result
}

func (e *Executor) record(name string, payload Payload, elapsed time.Duration) {
	outcome := "ok"
	if payload.Failed() {
		outcome = "error"
	}
	metrics.ObserveToolCall(name, outcome, elapsed)
	logger.Audit().Info("tool invoked",
		"tool", name,
		"outcome", outcome,
		"code", payload.Code(),
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (e *Executor) dispatch(ctx context.Context, inv Invocation) (Payload, error) {
	x := e.deps.Explorer
	switch v := inv.(type) {
	case *GetHolderCount:
		return e.holderQuery(ctx, holders.KindCount, holders.Params{})
	case *GetTopHolders:
		return e.holderQuery(ctx, holders.KindTopN, holders.Params{Limit: v.Limit, Category: v.Category})
	case *GetTierDistribution:
		return e.holderQuery(ctx, holders.KindDistribution, holders.Params{})
	case *GetCategoryStats:
		return e.holderQuery(ctx, holders.KindCategoryStats, holders.Params{Category: v.Category})
	case *GetLargeHolders:
		threshold := e.largeHolderThreshold()
		return e.holderQuery(ctx, holders.KindLargeHolders, holders.Params{Limit: v.Limit, Threshold: &threshold})
	case *GetWhaleTransactions:
		return e.whaleTransactions(ctx, v.Limit)
	case *GetWalletTier:
		return e.walletTier(ctx, v.Address)
	case *GetTierDefinitions:
		return tierDefinitions(e.largeHolderThreshold()), nil

	case *GetAddressInfo:
		return passthrough(x.Address(ctx, v.Address))
	case *GetAddressCounters:
		return passthrough(x.AddressCounters(ctx, v.Address))
	case *GetAddressTransactions:
		return limited(v.Limit)(x.AddressTransactions(ctx, v.Address))
	case *GetAddressTokenBalances:
		return passthrough(x.AddressTokenBalances(ctx, v.Address))
	case *GetAddressTokenTransfers:
		return limited(v.Limit)(x.AddressTokenTransfers(ctx, v.Address))

	case *GetTransaction:
		return passthrough(x.Transaction(ctx, v.Hash))
	case *GetTransactionLogs:
		return passthrough(x.TransactionLogs(ctx, v.Hash))
	case *GetLatestTransactions:
		items, err := x.LatestTransactions(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) > v.Limit {
			items = items[:v.Limit]
		}
		return Payload{"result": items}, nil
	case *GetPendingTransactions:
		return limited(v.Limit)(x.PendingTransactions(ctx))

	case *GetLatestBlocks:
		return limited(v.Limit)(x.LatestBlocks(ctx))
	case *GetBlock:
		return passthrough(x.Block(ctx, string(v.Number)))

	case *GetTokenInfo:
		return passthrough(x.Token(ctx, v.Address))
	case *GetTokenHolders:
		return limited(v.Limit)(x.TokenHolders(ctx, v.Address))
	case *GetCoinSupply:
		return e.coinSupply(ctx)

	case *GetContract:
		return passthrough(x.SmartContract(ctx, v.Address))
	case *GetContractABI:
		return e.contractABI(ctx, v.Address)

	case *GetNetworkStats:
		return passthrough(x.Stats(ctx))
	case *GetTransactionChart:
		return passthrough(x.TransactionChart(ctx))
	case *GetChainInfo:
		if e.deps.Chain == nil {
			return nil, xerrors.New(xerrors.CodeUnavailable, "no rpc endpoint configured")
		}
		snap, err := e.deps.Chain.ChainInfo(ctx)
		if err != nil {
			return nil, err
		}
		return Payload{"result": snap}, nil
	case *Search:
		return passthrough(x.Search(ctx, v.Query))
	default:
		return nil, xerrors.New(xerrors.CodeUnknownTool, "", xerrors.WithMetadata("tool", inv.ToolName()))
	}
}

func (e *Executor) holderQuery(ctx context.Context, kind holders.Kind, p holders.Params) (Payload, error) {
	if e.deps.Holders == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "")
	}
	res, err := e.deps.Holders.Query(ctx, kind, p)
	if err != nil {
		return nil, err
	}
	return Payload{"result": res.Result, "source": res.Source, "records": res.Records}, nil
}

func (e *Executor) largeHolderThreshold() decimal.Decimal {
	if e.deps.Classifier == nil {
		return classify.Tiers()[0].Min
	}
	return e.deps.Classifier.LargeHolderThreshold()
}

// whaleTx 是一笔带压力分类的大户交易。
type whaleTx struct {
	Hash      string           `json:"hash"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Value     string           `json:"value_wco"`
	Class     classify.TxClass `json:"classification"`
	Timestamp string           `json:"timestamp,omitempty"`
}

func (e *Executor) whaleTransactions(ctx context.Context, limit int) (Payload, error) {
	if e.deps.Holders == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "")
	}
	threshold := e.largeHolderThreshold()
	large, err := holders.Resolve(ctx, e.deps.Holders, holders.KindLargeHolders, holders.LargeHolderSet(threshold))
	if err != nil {
		return nil, err
	}
	items, err := e.deps.Explorer.LatestTransactions(ctx)
	if err != nil {
		return nil, err
	}
	var exchanges classify.AddressSet
	if e.deps.Classifier != nil {
		exchanges = e.deps.Classifier.Exchanges()
	}

	matched := make([]whaleTx, 0, limit)
	summary := make(map[classify.TxClass]int)
	for _, item := range items {
		from, to := item.From.Hash, item.Recipient()
		if !classify.InvolvesLargeHolder(from, to, large.Value) {
			continue
		}
		class, ok := classify.ClassifyTransaction(from, to, large.Value, exchanges)
		if !ok {
			continue
		}
		amount, err := item.Amount()
		if err != nil {
			e.log.Debug("skipping transfer with unparsable value", "hash", item.Hash, "error", err)
			continue
		}
		summary[class]++
		matched = append(matched, whaleTx{
			Hash:      item.Hash,
			From:      from,
			To:        to,
			Value:     amount.String(),
			Class:     class,
			Timestamp: item.Timestamp,
		})
		if len(matched) == limit {
			break
		}
	}
	return Payload{
		"result": map[string]any{
			"transactions": matched,
			"summary":      summary,
			"threshold":    threshold.String(),
			"scanned":      len(items),
		},
		"source":  large.Source,
		"records": large.Records,
	}, nil
}

func (e *Executor) walletTier(ctx context.Context, address string) (Payload, error) {
	if e.deps.Chain == nil || e.deps.Classifier == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "no rpc endpoint configured")
	}
	balance, err := e.deps.Chain.Balance(ctx, address)
	if err != nil {
		return nil, err
	}
	rec := e.deps.Classifier.Record(address, balance, 0)
	return Payload{"result": rec, "source": "rpc"}, nil
}

func tierDefinitions(threshold decimal.Decimal) Payload {
	return Payload{"result": map[string]any{
		"overrides":              classify.OverrideTiers(),
		"tiers":                  classify.Tiers(),
		"large_holder_threshold": threshold.String(),
		"unit":                   "WCO",
	}}
}

func (e *Executor) coinSupply(ctx context.Context) (Payload, error) {
	v, err := e.deps.Explorer.Etherscan(ctx, "stats", "coinsupply", nil)
	if err != nil {
		return nil, err
	}
	return Payload{"result": map[string]any{"supply": v, "unit": "WCO"}}, nil
}

func (e *Executor) contractABI(ctx context.Context, address string) (Payload, error) {
	v, err := e.deps.Explorer.Etherscan(ctx, "contract", "getabi", url.Values{"address": {address}})
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		var abi any
		if json.Unmarshal([]byte(s), &abi) == nil {
			v = abi
		}
	}
	return Payload{"result": v}, nil
}

func passthrough(v any, err error) (Payload, error) {
	if err != nil {
		return nil, err
	}
	return Payload{"result": v}, nil
}

// limited 截断列表结果。浏览器接口返回数组或带 items 的分页对象。
func limited(limit int) func(any, error) (Payload, error) {
	return func(v any, err error) (Payload, error) {
		if err != nil {
			return nil, err
		}
		return Payload{"result": truncate(v, limit)}, nil
	}
}

func truncate(v any, limit int) any {
	switch doc := v.(type) {
	case []any:
		if len(doc) > limit {
			return doc[:limit]
		}
	case map[string]any:
		if items, ok := doc["items"].([]any); ok && len(items) > limit {
			out := make(map[string]any, len(doc))
			for k, val := range doc {
				out[k] = val
			}
			out["items"] = items[:limit]
			return out
		}
	}
	return v
}

func isHolderTool(inv Invocation) bool {
	switch inv.(type) {
	case *GetHolderCount, *GetTopHolders, *GetTierDistribution, *GetCategoryStats,
		*GetLargeHolders, *GetWhaleTransactions:
		return true
	}
	return false
}

func cacheKey(inv Invocation) (string, error) {
	args, err := json.Marshal(inv)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode arguments")
	}
	return "tool:" + inv.ToolName() + ":" + string(args), nil
}

func errorPayload(err error) Payload {
	return Payload{
		"error": xerrors.MessageOf(err),
		"code":  string(xerrors.CodeOf(err)),
	}
}
