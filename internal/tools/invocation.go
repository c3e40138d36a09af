package tools

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"WChain-Bubbles/internal/classify"
	xerrors "WChain-Bubbles/internal/errors"
)

// Invocation 是一次已解码、已校验的工具调用。validate 未导出，
// 因此调用集合是封闭的，只能通过 Decode 构造。
type Invocation interface {
	ToolName() string
	validate() error
}

// 列表类工具的数量限制。
const (
	defaultListLimit = 10
	maxListLimit     = 50
	maxHolderLimit   = 100
)

// AddressArgs 是以地址为参数的工具的公共字段。
type AddressArgs struct {
	Address string `json:"address"`
}

func (a *AddressArgs) validate() error {
	a.Address = strings.TrimSpace(a.Address)
	if !common.IsHexAddress(a.Address) {
		return invalidArg("address must be a 0x-prefixed 20-byte hex address")
	}
	a.Address = strings.ToLower(a.Address)
	return nil
}

// LimitArgs 是列表类工具的公共字段。
type LimitArgs struct {
	Limit int `json:"limit,omitempty"`
}

func (l *LimitArgs) clamp(max int) {
	switch {
	case l.Limit <= 0:
		l.Limit = defaultListLimit
	case l.Limit > max:
		l.Limit = max
	}
}

// HashArgs 是以交易哈希为参数的工具的公共字段。
type HashArgs struct {
	Hash string `json:"hash"`
}

func (h *HashArgs) validate() error {
	h.Hash = strings.ToLower(strings.TrimSpace(h.Hash))
	raw, err := hexutil.Decode(h.Hash)
	if err != nil || len(raw) != common.HashLength {
		return invalidArg("hash must be a 0x-prefixed 32-byte hex string")
	}
	return nil
}

type noArgs struct{}

func (noArgs) validate() error { return nil }

// 持有人类工具。

type GetHolderCount struct{ noArgs }

type GetTopHolders struct {
	LimitArgs
	Category string `json:"category,omitempty"`
}

func (g *GetTopHolders) validate() error {
	g.LimitArgs.clamp(maxHolderLimit)
	return normalizeCategory(&g.Category, false)
}

type GetTierDistribution struct{ noArgs }

type GetCategoryStats struct {
	Category string `json:"category"`
}

func (g *GetCategoryStats) validate() error { return normalizeCategory(&g.Category, true) }

type GetLargeHolders struct{ LimitArgs }

func (g *GetLargeHolders) validate() error {
	g.clamp(maxHolderLimit)
	return nil
}

type GetWhaleTransactions struct{ LimitArgs }

func (g *GetWhaleTransactions) validate() error {
	g.clamp(maxListLimit)
	return nil
}

type GetWalletTier struct{ AddressArgs }

type GetTierDefinitions struct{ noArgs }

// 地址类工具。

type GetAddressInfo struct{ AddressArgs }

type GetAddressCounters struct{ AddressArgs }

type GetAddressTransactions struct {
	AddressArgs
	LimitArgs
}

func (g *GetAddressTransactions) validate() error {
	g.clamp(maxListLimit)
	return g.AddressArgs.validate()
}

type GetAddressTokenBalances struct{ AddressArgs }

type GetAddressTokenTransfers struct {
	AddressArgs
	LimitArgs
}

func (g *GetAddressTokenTransfers) validate() error {
	g.clamp(maxListLimit)
	return g.AddressArgs.validate()
}

// 交易类工具。

type GetTransaction struct{ HashArgs }

type GetTransactionLogs struct{ HashArgs }

type GetLatestTransactions struct{ LimitArgs }

func (g *GetLatestTransactions) validate() error {
	g.clamp(maxListLimit)
	return nil
}

type GetPendingTransactions struct{ LimitArgs }

func (g *GetPendingTransactions) validate() error {
	g.clamp(maxListLimit)
	return nil
}

// 区块类工具。

type GetLatestBlocks struct{ LimitArgs }

func (g *GetLatestBlocks) validate() error {
	g.clamp(maxListLimit)
	return nil
}

// GetBlock 的 number 可以是十进制高度或区块哈希。
type GetBlock struct {
	Number BlockID `json:"number"`
}

func (g *GetBlock) validate() error {
	id := strings.TrimSpace(string(g.Number))
	if id == "" {
		return invalidArg("number is required")
	}
	if strings.HasPrefix(id, "0x") {
		if raw, err := hexutil.Decode(id); err == nil && len(raw) == common.HashLength {
			g.Number = BlockID(strings.ToLower(id))
			return nil
		}
		return invalidArg("number must be a block height or a 32-byte block hash")
	}
	if n, err := strconv.ParseUint(id, 10, 64); err != nil {
		return invalidArg("number must be a block height or a 32-byte block hash")
	} else {
		g.Number = BlockID(strconv.FormatUint(n, 10))
	}
	return nil
}

// BlockID 接受 JSON 字符串或数字。
type BlockID string

// UnmarshalJSON 实现 json.Unmarshaler。
func (b *BlockID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BlockID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = BlockID(n.String())
	return nil
}

// 代币类工具。

type GetTokenInfo struct{ AddressArgs }

type GetTokenHolders struct {
	AddressArgs
	LimitArgs
}

func (g *GetTokenHolders) validate() error {
	g.clamp(maxListLimit)
	return g.AddressArgs.validate()
}

type GetCoinSupply struct{ noArgs }

// 合约类工具。

type GetContract struct{ AddressArgs }

type GetContractABI struct{ AddressArgs }

// 网络类工具。

type GetNetworkStats struct{ noArgs }

type GetTransactionChart struct{ noArgs }

type GetChainInfo struct{ noArgs }

type Search struct {
	Query string `json:"query"`
}

func (s *Search) validate() error {
	s.Query = strings.TrimSpace(s.Query)
	if s.Query == "" {
		return invalidArg("query is required")
	}
	if len(s.Query) > 200 {
		return invalidArg("query is too long")
	}
	return nil
}

// Decode 根据工具名构造对应的调用并校验参数。未知工具返回 UNKNOWN_TOOL。
func Decode(name string, raw json.RawMessage) (Invocation, error) {
	spec, ok := lookupSpec(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownTool, "", xerrors.WithMetadata("tool", name))
	}
	inv := spec.newArgs()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, inv); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "arguments must be a JSON object matching the tool schema",
				xerrors.WithMetadata("tool", name))
		}
	}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func normalizeCategory(category *string, required bool) error {
	name := strings.TrimSpace(*category)
	if name == "" {
		if required {
			return invalidArg("category is required")
		}
		*category = ""
		return nil
	}
	tier, ok := classify.Lookup(name)
	if !ok {
		return invalidArg("unknown category " + name)
	}
	*category = string(tier.Name)
	return nil
}

func invalidArg(msg string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, msg)
}
