package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WChain-Bubbles/internal/cache"
	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/explorer"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/storage/memory"
	"WChain-Bubbles/internal/web3"
)

const (
	krakenAddr   = "0x00000000000000000000000000000000000000a1"
	whaleAddr    = "0x00000000000000000000000000000000000000a2"
	shrimpAddr   = "0x00000000000000000000000000000000000000a3"
	exchangeAddr = "0x00000000000000000000000000000000000000e1"
	strangerAddr = "0x00000000000000000000000000000000000000f1"
)

// fakeExplorer 返回预置文档，并记录调用次数。
type fakeExplorer struct {
	docs      map[string]any
	transfers []explorer.TransferItem
	calls     atomic.Int32
	block     bool
	panicOn   string
}

func (f *fakeExplorer) doc(ctx context.Context, key string) (any, error) {
	f.calls.Add(1)
	if f.panicOn == key {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	v, ok := f.docs[key]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, key)
	}
	return v, nil
}

func (f *fakeExplorer) Address(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "address")
}
func (f *fakeExplorer) AddressCounters(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "counters")
}
func (f *fakeExplorer) AddressTransactions(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "address_txs")
}
func (f *fakeExplorer) AddressTokenBalances(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "token_balances")
}
func (f *fakeExplorer) AddressTokenTransfers(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "token_transfers")
}
func (f *fakeExplorer) Transaction(ctx context.Context, h string) (any, error) {
	return f.doc(ctx, "tx")
}
func (f *fakeExplorer) TransactionLogs(ctx context.Context, h string) (any, error) {
	return f.doc(ctx, "logs")
}
func (f *fakeExplorer) LatestTransactions(ctx context.Context) ([]explorer.TransferItem, error) {
	f.calls.Add(1)
	return f.transfers, nil
}
func (f *fakeExplorer) PendingTransactions(ctx context.Context) (any, error) {
	return f.doc(ctx, "pending")
}
func (f *fakeExplorer) LatestBlocks(ctx context.Context) (any, error) { return f.doc(ctx, "blocks") }
func (f *fakeExplorer) Block(ctx context.Context, id string) (any, error) {
	return f.doc(ctx, "block:"+id)
}
func (f *fakeExplorer) Token(ctx context.Context, a string) (any, error) { return f.doc(ctx, "token") }
func (f *fakeExplorer) TokenHolders(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "token_holders")
}
func (f *fakeExplorer) SmartContract(ctx context.Context, a string) (any, error) {
	return f.doc(ctx, "contract")
}
func (f *fakeExplorer) Stats(ctx context.Context) (any, error) { return f.doc(ctx, "stats") }
func (f *fakeExplorer) TransactionChart(ctx context.Context) (any, error) {
	return f.doc(ctx, "chart")
}
func (f *fakeExplorer) Search(ctx context.Context, q string) (any, error) {
	return f.doc(ctx, "search")
}
func (f *fakeExplorer) Etherscan(ctx context.Context, module, action string, _ url.Values) (any, error) {
	return f.doc(ctx, module+"."+action)
}

type fakeChain struct {
	balance decimal.Decimal
	err     error
}

func (c fakeChain) Balance(context.Context, string) (decimal.Decimal, error) { return c.balance, c.err }
func (c fakeChain) ChainInfo(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "171717", BlockNumber: "42", Endpoint: "http://rpc"}, c.err
}

func transfer(t *testing.T, hash, from, to, wco string) explorer.TransferItem {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"hash":  hash,
		"value": decimal.RequireFromString(wco).Shift(18).String(),
		"from":  map[string]string{"hash": from},
		"to":    map[string]string{"hash": to},
	})
	require.NoError(t, err)
	var item explorer.TransferItem
	require.NoError(t, json.Unmarshal(raw, &item))
	return item
}

func newTestExecutor(t *testing.T, x *fakeExplorer, opts ...Option) *Executor {
	t.Helper()
	classifier := classify.New(classify.Overrides{Exchange: map[string]string{exchangeAddr: "Test Exchange"}})
	records := []classify.WalletRecord{
		classifier.Record(krakenAddr, decimal.NewFromInt(6_000_000), 10),
		classifier.Record(whaleAddr, decimal.NewFromInt(1_000_001), 5),
		classifier.Record(shrimpAddr, decimal.RequireFromString("0.5"), 1),
		classifier.Record(exchangeAddr, decimal.NewFromInt(8_000_000), 900),
	}
	resolver := holders.NewResolver([]holders.Tier{
		holders.NewCacheTier(memory.NewWalletCache(records...), classifier),
	})
	return NewExecutor(Deps{
		Holders:    resolver,
		Classifier: classifier,
		Explorer:   x,
		Chain:      fakeChain{balance: decimal.NewFromInt(1_000_001)},
		Cache:      cache.NewMemoryStore(time.Minute),
	}, opts...)
}

func TestUnknownToolReturnsStructuredError(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{})

	p := exec.Execute(context.Background(), "getEverything", nil)
	assert.Equal(t, "unknown tool", p["error"])
	assert.Equal(t, string(xerrors.CodeUnknownTool), p.Code())
}

func TestInvalidArgumentsNeverReachExplorer(t *testing.T) {
	x := &fakeExplorer{}
	exec := newTestExecutor(t, x)

	p := exec.Execute(context.Background(), "getAddressInfo", json.RawMessage(`{"address":"0x123"}`))
	assert.Equal(t, string(xerrors.CodeInvalidArgument), p.Code())

	p = exec.Execute(context.Background(), "getCategoryStats", json.RawMessage(`{"category":"Narwhal"}`))
	assert.Equal(t, string(xerrors.CodeInvalidArgument), p.Code())

	p = exec.Execute(context.Background(), "getTransaction", json.RawMessage(`not json`))
	assert.Equal(t, string(xerrors.CodeInvalidArgument), p.Code())

	assert.Zero(t, x.calls.Load())
}

func TestTopHoldersReportsSource(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{})

	p := exec.Execute(context.Background(), "getTopHolders", json.RawMessage(`{"limit":2}`))
	require.False(t, p.Failed(), p)
	assert.Equal(t, holders.SourceCache, p["source"])
	top, ok := p["result"].([]classify.WalletRecord)
	require.True(t, ok)
	require.Len(t, top, 2)
	assert.Equal(t, exchangeAddr, top[0].Address)
	assert.Equal(t, classify.Harbor, top[0].Category)
	assert.Equal(t, krakenAddr, top[1].Address)
}

func TestTopHoldersCategoryAlias(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{})

	p := exec.Execute(context.Background(), "getTopHolders", json.RawMessage(`{"category":"whale"}`))
	require.False(t, p.Failed(), p)
	top := p["result"].([]classify.WalletRecord)
	require.Len(t, top, 1)
	assert.Equal(t, whaleAddr, top[0].Address)
}

func TestWhaleTransactionsClassifiesOnlyLargeHolderTransfers(t *testing.T) {
	x := &fakeExplorer{transfers: []explorer.TransferItem{
		transfer(t, "0x01", krakenAddr, exchangeAddr, "1000"),
		transfer(t, "0x02", exchangeAddr, krakenAddr, "500"),
		transfer(t, "0x03", shrimpAddr, strangerAddr, "1"),
		transfer(t, "0x04", krakenAddr, strangerAddr, "42"),
		transfer(t, "0x05", strangerAddr, exchangeAddr, "7"),
	}}
	exec := newTestExecutor(t, x)

	p := exec.Execute(context.Background(), "getWhaleTransactions", nil)
	require.False(t, p.Failed(), p)

	result := p["result"].(map[string]any)
	txs := result["transactions"].([]whaleTx)
	require.Len(t, txs, 4)
	assert.Equal(t, classify.SellPressure, txs[0].Class)
	assert.Equal(t, classify.BuyPressure, txs[1].Class)
	assert.Equal(t, classify.Outflow, txs[2].Class)
	assert.Equal(t, classify.Inflow, txs[3].Class)
	assert.Equal(t, "1000", txs[0].Value)
	assert.Equal(t, 5, result["scanned"])
}

func TestWalletTierUsesLiveBalance(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{})

	p := exec.Execute(context.Background(), "getWalletTier", json.RawMessage(`{"address":"0x00000000000000000000000000000000000000B7"}`))
	require.False(t, p.Failed(), p)
	rec := p["result"].(classify.WalletRecord)
	assert.Equal(t, classify.Whale, rec.Category)
	assert.Equal(t, "0x00000000000000000000000000000000000000b7", rec.Address)
}

func TestRepeatedCallsServedFromCache(t *testing.T) {
	x := &fakeExplorer{docs: map[string]any{"stats": map[string]any{"total_blocks": "100"}}}
	exec := newTestExecutor(t, x)

	first := exec.Execute(context.Background(), "getNetworkStats", nil)
	second := exec.Execute(context.Background(), "getNetworkStats", nil)
	require.False(t, first.Failed())
	assert.Equal(t, first["result"], second["result"])
	assert.EqualValues(t, 1, x.calls.Load())
}

func TestErrorsAreNotCached(t *testing.T) {
	x := &fakeExplorer{docs: map[string]any{}}
	exec := newTestExecutor(t, x)

	exec.Execute(context.Background(), "getTransactionChart", nil)
	p := exec.Execute(context.Background(), "getTransactionChart", nil)
	assert.Equal(t, string(xerrors.CodeNotFound), p.Code())
	assert.EqualValues(t, 2, x.calls.Load())
}

func TestStuckExplorerBecomesTimeout(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{block: true}, WithCallTimeout(20*time.Millisecond))

	start := time.Now()
	p := exec.Execute(context.Background(), "getLatestBlocks", nil)
	assert.Equal(t, string(xerrors.CodeTimeout), p.Code())
	assert.Less(t, time.Since(start), time.Second)
}

func TestPanickingHandlerRecovered(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{panicOn: "search"})

	p := exec.Execute(context.Background(), "search", json.RawMessage(`{"query":"wco"}`))
	assert.Equal(t, string(xerrors.CodeUnknown), p.Code())
}

func TestListResultsTruncated(t *testing.T) {
	blocks := make([]any, 30)
	for i := range blocks {
		blocks[i] = map[string]any{"height": i}
	}
	pending := map[string]any{"items": blocks, "next_page_params": nil}
	exec := newTestExecutor(t, &fakeExplorer{docs: map[string]any{"blocks": blocks, "pending": pending}})

	p := exec.Execute(context.Background(), "getLatestBlocks", json.RawMessage(`{"limit":3}`))
	require.False(t, p.Failed(), p)
	assert.Len(t, p["result"], 3)

	p = exec.Execute(context.Background(), "getPendingTransactions", json.RawMessage(`{"limit":500}`))
	require.False(t, p.Failed(), p)
	items := p["result"].(map[string]any)["items"].([]any)
	assert.Len(t, items, 30)
	assert.Len(t, pending["items"], 30)
}

func TestGetBlockAcceptsNumberOrHash(t *testing.T) {
	x := &fakeExplorer{docs: map[string]any{"block:123": map[string]any{"height": 123}}}
	exec := newTestExecutor(t, x)

	p := exec.Execute(context.Background(), "getBlock", json.RawMessage(`{"number":123}`))
	require.False(t, p.Failed(), p)

	p = exec.Execute(context.Background(), "getBlock", json.RawMessage(`{"number":"latest"}`))
	assert.Equal(t, string(xerrors.CodeInvalidArgument), p.Code())
}

func TestContractABIDecoded(t *testing.T) {
	x := &fakeExplorer{docs: map[string]any{"contract.getabi": `[{"type":"function","name":"transfer"}]`}}
	exec := newTestExecutor(t, x)

	p := exec.Execute(context.Background(), "getContractABI", json.RawMessage(`{"address":"`+krakenAddr+`"}`))
	require.False(t, p.Failed(), p)
	abi, ok := p["result"].([]any)
	require.True(t, ok)
	assert.Len(t, abi, 1)
}

func TestChainReaderFailureSurfacesCode(t *testing.T) {
	exec := newTestExecutor(t, &fakeExplorer{})
	exec.deps.Chain = fakeChain{err: xerrors.Wrap(xerrors.CodeUnavailable, errors.New("all endpoints down"), "")}

	p := exec.Execute(context.Background(), "getChainInfo", nil)
	assert.Equal(t, string(xerrors.CodeUnavailable), p.Code())
}

func TestCatalogMatchesDecoder(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, len(Names()))

	seen := make(map[string]bool)
	for _, tool := range catalog {
		assert.False(t, seen[tool.Name], "duplicate tool %s", tool.Name)
		seen[tool.Name] = true
		assert.Equal(t, "object", tool.Parameters["type"])

		spec, ok := lookupSpec(tool.Name)
		require.True(t, ok)
		assert.Equal(t, tool.Name, spec.newArgs().ToolName())
	}
}
