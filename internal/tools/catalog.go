package tools

import (
	"time"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/llm"
)

// 各类数据的缓存时长。
const (
	ttlPending   = 5 * time.Second
	ttlLatest    = 15 * time.Second
	ttlStats     = 60 * time.Second
	ttlAddress   = 30 * time.Second
	ttlHolders   = 2 * time.Minute
	ttlToken     = 5 * time.Minute
	ttlFinalized = 10 * time.Minute
	ttlContract  = 30 * time.Minute
	ttlStatic    = 24 * time.Hour
)

type toolSpec struct {
	name        string
	description string
	parameters  map[string]any
	ttl         time.Duration
	newArgs     func() Invocation
}

func (*GetHolderCount) ToolName() string           { return "getHolderCount" }
func (*GetTopHolders) ToolName() string            { return "getTopHolders" }
func (*GetTierDistribution) ToolName() string      { return "getTierDistribution" }
func (*GetCategoryStats) ToolName() string         { return "getCategoryStats" }
func (*GetLargeHolders) ToolName() string          { return "getLargeHolders" }
func (*GetWhaleTransactions) ToolName() string     { return "getWhaleTransactions" }
func (*GetWalletTier) ToolName() string            { return "getWalletTier" }
func (*GetTierDefinitions) ToolName() string       { return "getTierDefinitions" }
func (*GetAddressInfo) ToolName() string           { return "getAddressInfo" }
func (*GetAddressCounters) ToolName() string       { return "getAddressCounters" }
func (*GetAddressTransactions) ToolName() string   { return "getAddressTransactions" }
func (*GetAddressTokenBalances) ToolName() string  { return "getAddressTokenBalances" }
func (*GetAddressTokenTransfers) ToolName() string { return "getAddressTokenTransfers" }
func (*GetTransaction) ToolName() string           { return "getTransaction" }
func (*GetTransactionLogs) ToolName() string       { return "getTransactionLogs" }
func (*GetLatestTransactions) ToolName() string    { return "getLatestTransactions" }
func (*GetPendingTransactions) ToolName() string   { return "getPendingTransactions" }
func (*GetLatestBlocks) ToolName() string          { return "getLatestBlocks" }
func (*GetBlock) ToolName() string                 { return "getBlock" }
func (*GetTokenInfo) ToolName() string             { return "getTokenInfo" }
func (*GetTokenHolders) ToolName() string          { return "getTokenHolders" }
func (*GetCoinSupply) ToolName() string            { return "getCoinSupply" }
func (*GetContract) ToolName() string              { return "getContract" }
func (*GetContractABI) ToolName() string           { return "getContractABI" }
func (*GetNetworkStats) ToolName() string          { return "getNetworkStats" }
func (*GetTransactionChart) ToolName() string      { return "getTransactionChart" }
func (*GetChainInfo) ToolName() string             { return "getChainInfo" }
func (*Search) ToolName() string                   { return "search" }

var specs = []toolSpec{
	{
		name:        "getHolderCount",
		description: "Number of WCO holder addresses, and how many hold a non-zero balance.",
		parameters:  object(nil),
		ttl:         ttlHolders,
		newArgs:     func() Invocation { return &GetHolderCount{} },
	},
	{
		name:        "getTopHolders",
		description: "Largest WCO holders ordered by balance, optionally restricted to one wallet category.",
		parameters: object(map[string]any{
			"limit":    integer("Number of holders to return (1-100, default 10).", 1, maxHolderLimit),
			"category": categoryEnum("Only return holders in this category."),
		}),
		ttl:     ttlHolders,
		newArgs: func() Invocation { return &GetTopHolders{} },
	},
	{
		name:        "getTierDistribution",
		description: "Holder count, total balance and share of holders for every wallet category.",
		parameters:  object(nil),
		ttl:         ttlHolders,
		newArgs:     func() Invocation { return &GetTierDistribution{} },
	},
	{
		name:        "getCategoryStats",
		description: "Count, total, average, min and max balance and top addresses of one wallet category.",
		parameters: object(map[string]any{
			"category": categoryEnum("Wallet category, e.g. Whale or Harbor."),
		}, "category"),
		ttl:     ttlHolders,
		newArgs: func() Invocation { return &GetCategoryStats{} },
	},
	{
		name:        "getLargeHolders",
		description: "Addresses at or above the large-holder threshold, ordered by balance.",
		parameters: object(map[string]any{
			"limit": integer("Number of holders to return (1-100, default 10).", 1, maxHolderLimit),
		}),
		ttl:     ttlHolders,
		newArgs: func() Invocation { return &GetLargeHolders{} },
	},
	{
		name:        "getWhaleTransactions",
		description: "Recent transfers involving large holders, labelled sell_pressure, buy_pressure, internal_move, outflow or inflow.",
		parameters: object(map[string]any{
			"limit": integer("Maximum transfers to return (1-50, default 10).", 1, maxListLimit),
		}),
		ttl:     ttlLatest,
		newArgs: func() Invocation { return &GetWhaleTransactions{} },
	},
	{
		name:        "getWalletTier",
		description: "Live balance of one address read from the chain, with its wallet category.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlAddress,
		newArgs:     func() Invocation { return &GetWalletTier{} },
	},
	{
		name:        "getTierDefinitions",
		description: "The wallet category table: names, emoji and balance ranges in WCO.",
		parameters:  object(nil),
		ttl:         ttlStatic,
		newArgs:     func() Invocation { return &GetTierDefinitions{} },
	},
	{
		name:        "getAddressInfo",
		description: "Explorer summary of an address: balance, contract flag, names.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlAddress,
		newArgs:     func() Invocation { return &GetAddressInfo{} },
	},
	{
		name:        "getAddressCounters",
		description: "Transaction, transfer and gas usage counters of an address.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlAddress,
		newArgs:     func() Invocation { return &GetAddressCounters{} },
	},
	{
		name:        "getAddressTransactions",
		description: "Most recent transactions sent or received by an address.",
		parameters: object(map[string]any{
			"address": address(),
			"limit":   integer("Maximum transactions to return (1-50, default 10).", 1, maxListLimit),
		}, "address"),
		ttl:     ttlAddress,
		newArgs: func() Invocation { return &GetAddressTransactions{} },
	},
	{
		name:        "getAddressTokenBalances",
		description: "Token balances held by an address.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlAddress,
		newArgs:     func() Invocation { return &GetAddressTokenBalances{} },
	},
	{
		name:        "getAddressTokenTransfers",
		description: "Most recent token transfers of an address.",
		parameters: object(map[string]any{
			"address": address(),
			"limit":   integer("Maximum transfers to return (1-50, default 10).", 1, maxListLimit),
		}, "address"),
		ttl:     ttlAddress,
		newArgs: func() Invocation { return &GetAddressTokenTransfers{} },
	},
	{
		name:        "getTransaction",
		description: "Details of one transaction by hash.",
		parameters:  object(map[string]any{"hash": hash()}, "hash"),
		ttl:         ttlFinalized,
		newArgs:     func() Invocation { return &GetTransaction{} },
	},
	{
		name:        "getTransactionLogs",
		description: "Event logs emitted by one transaction.",
		parameters:  object(map[string]any{"hash": hash()}, "hash"),
		ttl:         ttlFinalized,
		newArgs:     func() Invocation { return &GetTransactionLogs{} },
	},
	{
		name:        "getLatestTransactions",
		description: "Newest validated transactions on the network.",
		parameters: object(map[string]any{
			"limit": integer("Maximum transactions to return (1-50, default 10).", 1, maxListLimit),
		}),
		ttl:     ttlLatest,
		newArgs: func() Invocation { return &GetLatestTransactions{} },
	},
	{
		name:        "getPendingTransactions",
		description: "Transactions waiting in the mempool.",
		parameters: object(map[string]any{
			"limit": integer("Maximum transactions to return (1-50, default 10).", 1, maxListLimit),
		}),
		ttl:     ttlPending,
		newArgs: func() Invocation { return &GetPendingTransactions{} },
	},
	{
		name:        "getLatestBlocks",
		description: "Newest blocks with miner, gas and transaction counts.",
		parameters: object(map[string]any{
			"limit": integer("Maximum blocks to return (1-50, default 10).", 1, maxListLimit),
		}),
		ttl:     ttlLatest,
		newArgs: func() Invocation { return &GetLatestBlocks{} },
	},
	{
		name:        "getBlock",
		description: "One block by height or hash.",
		parameters: object(map[string]any{
			"number": map[string]any{"type": "string", "description": "Block height in decimal, or a 0x-prefixed block hash."},
		}, "number"),
		ttl:     ttlFinalized,
		newArgs: func() Invocation { return &GetBlock{} },
	},
	{
		name:        "getTokenInfo",
		description: "Token metadata: name, symbol, decimals, supply, holder count.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlToken,
		newArgs:     func() Invocation { return &GetTokenInfo{} },
	},
	{
		name:        "getTokenHolders",
		description: "Largest holders of a token.",
		parameters: object(map[string]any{
			"address": address(),
			"limit":   integer("Maximum holders to return (1-50, default 10).", 1, maxListLimit),
		}, "address"),
		ttl:     ttlToken,
		newArgs: func() Invocation { return &GetTokenHolders{} },
	},
	{
		name:        "getCoinSupply",
		description: "Total supply of the native WCO coin.",
		parameters:  object(nil),
		ttl:         ttlToken,
		newArgs:     func() Invocation { return &GetCoinSupply{} },
	},
	{
		name:        "getContract",
		description: "Verified source metadata of a smart contract.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlContract,
		newArgs:     func() Invocation { return &GetContract{} },
	},
	{
		name:        "getContractABI",
		description: "ABI of a verified smart contract.",
		parameters:  object(map[string]any{"address": address()}, "address"),
		ttl:         ttlContract,
		newArgs:     func() Invocation { return &GetContractABI{} },
	},
	{
		name:        "getNetworkStats",
		description: "Network statistics: block time, total addresses, transactions, gas prices.",
		parameters:  object(nil),
		ttl:         ttlStats,
		newArgs:     func() Invocation { return &GetNetworkStats{} },
	},
	{
		name:        "getTransactionChart",
		description: "Daily transaction counts for recent days.",
		parameters:  object(nil),
		ttl:         ttlStats,
		newArgs:     func() Invocation { return &GetTransactionChart{} },
	},
	{
		name:        "getChainInfo",
		description: "Chain id, head block and gas price from the active RPC endpoint.",
		parameters:  object(nil),
		ttl:         ttlLatest,
		newArgs:     func() Invocation { return &GetChainInfo{} },
	},
	{
		name:        "search",
		description: "Free-text search for addresses, tokens, blocks and transactions.",
		parameters: object(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search text."},
		}, "query"),
		ttl:     ttlAddress,
		newArgs: func() Invocation { return &Search{} },
	},
}

var specIndex = func() map[string]toolSpec {
	index := make(map[string]toolSpec, len(specs))
	for _, s := range specs {
		index[s.name] = s
	}
	return index
}()

func lookupSpec(name string) (toolSpec, bool) {
	s, ok := specIndex[name]
	return s, ok
}

// Names 返回全部工具名，按目录顺序排列。
func Names() []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.name)
	}
	return out
}

// Catalog 返回提供给模型的工具定义。
func Catalog() []llm.Tool {
	out := make([]llm.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, llm.Tool{Name: s.name, Description: s.description, Parameters: s.parameters})
	}
	return out
}

func object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func integer(desc string, min, max int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "minimum": min, "maximum": max}
}

func address() map[string]any {
	return map[string]any{"type": "string", "description": "0x-prefixed 20-byte address.", "pattern": "^0x[0-9a-fA-F]{40}$"}
}

func hash() map[string]any {
	return map[string]any{"type": "string", "description": "0x-prefixed 32-byte transaction hash.", "pattern": "^0x[0-9a-fA-F]{64}$"}
}

func categoryEnum(desc string) map[string]any {
	var names []string
	for _, t := range classify.OverrideTiers() {
		names = append(names, string(t.Name))
	}
	for _, t := range classify.Tiers() {
		names = append(names, string(t.Name))
	}
	return map[string]any{"type": "string", "description": desc, "enum": names}
}
