package classify

import "github.com/shopspring/decimal"

// TxClass 是交易压力分类。
type TxClass string

const (
	SellPressure TxClass = "sell_pressure"
	BuyPressure  TxClass = "buy_pressure"
	InternalMove TxClass = "internal_move"
	Outflow      TxClass = "outflow"
	Inflow       TxClass = "inflow"
)

// AddressSet 是小写地址集合。
type AddressSet map[string]struct{}

// NewAddressSet 根据地址列表构造集合。
func NewAddressSet(addrs ...string) AddressSet {
	set := make(AddressSet, len(addrs))
	for _, addr := range addrs {
		if addr = normalizeAddress(addr); addr != "" {
			set[addr] = struct{}{}
		}
	}
	return set
}

// Has 判断地址是否在集合内。
func (s AddressSet) Has(addr string) bool {
	_, ok := s[normalizeAddress(addr)]
	return ok
}

// LargeHolderSet 返回余额不低于阈值的地址集合。
func LargeHolderSet(records []WalletRecord, threshold decimal.Decimal) AddressSet {
	set := make(AddressSet)
	for _, rec := range records {
		if rec.Balance.GreaterThanOrEqual(threshold) {
			set[normalizeAddress(rec.Address)] = struct{}{}
		}
	}
	return set
}

// InvolvesLargeHolder 是调用 ClassifyTransaction 前必须执行的过滤条件。
func InvolvesLargeHolder(from, to string, largeHolders AddressSet) bool {
	return largeHolders.Has(from) || largeHolders.Has(to)
}

// ClassifyTransaction 按固定顺序判断交易压力。双方都不是大户时返回 ("", false)。
func ClassifyTransaction(from, to string, largeHolders, exchanges AddressSet) (TxClass, bool) {
	fromLarge, toLarge := largeHolders.Has(from), largeHolders.Has(to)
	fromExchange, toExchange := exchanges.Has(from), exchanges.Has(to)

	switch {
	case fromLarge && toLarge && toExchange && !fromExchange:
		return SellPressure, true
	case fromLarge && toLarge && fromExchange && !toExchange:
		return BuyPressure, true
	case fromLarge && toLarge:
		return InternalMove, true
	case fromLarge:
		return Outflow, true
	case toLarge:
		return Inflow, true
	default:
		return "", false
	}
}
