package classify

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Label 是钱包分类名称。
type Label string

const (
	Kraken   Label = "Kraken"
	Whale    Label = "Whale"
	Shark    Label = "Shark"
	Dolphin  Label = "Dolphin"
	Fish     Label = "Fish"
	Octopus  Label = "Octopus"
	Crab     Label = "Crab"
	Shrimp   Label = "Shrimp"
	Plankton Label = "Plankton"

	Flagship Label = "Flagship"
	Harbor   Label = "Harbor"
	Bridge   Label = "Bridge"
)

// Tier 描述一个分类档位，余额区间为 [Min, Max)。覆盖类档位不参与余额区间判断。
type Tier struct {
	Name     Label            `json:"name"`
	Emoji    string           `json:"emoji"`
	Min      decimal.Decimal  `json:"min_balance"`
	Max      *decimal.Decimal `json:"max_balance,omitempty"`
	Override bool             `json:"override,omitempty"`
}

// Contains 判断余额是否落在档位区间内。
func (t Tier) Contains(balance decimal.Decimal) bool {
	if balance.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || balance.LessThan(*t.Max)
}

// OneWei 是最小的非零余额（1e-18 WCO）。
var OneWei = decimal.New(1, -18)

var balanceTiers = buildBalanceTiers([]Tier{
	{Name: Kraken, Emoji: "🦑", Min: decimal.NewFromInt(5_000_000)},
	{Name: Whale, Emoji: "🐋", Min: decimal.NewFromInt(1_000_000)},
	{Name: Shark, Emoji: "🦈", Min: decimal.NewFromInt(500_000)},
	{Name: Dolphin, Emoji: "🐬", Min: decimal.NewFromInt(100_000)},
	{Name: Fish, Emoji: "🐟", Min: decimal.NewFromInt(10_000)},
	{Name: Octopus, Emoji: "🐙", Min: decimal.NewFromInt(1_000)},
	{Name: Crab, Emoji: "🦀", Min: decimal.NewFromInt(100)},
	{Name: Shrimp, Emoji: "🦐", Min: OneWei},
	{Name: Plankton, Emoji: "🦠", Min: decimal.Zero},
})

// 覆盖类档位按固定顺序求值：Flagship → Harbor → Bridge。
var overrideTiers = []Tier{
	{Name: Flagship, Emoji: "🚩", Override: true},
	{Name: Harbor, Emoji: "⚓", Override: true},
	{Name: Bridge, Emoji: "🌉", Override: true},
}

// buildBalanceTiers 以上一档的下限作为本档上限，保证区间首尾相接。
func buildBalanceTiers(tiers []Tier) []Tier {
	for i := 1; i < len(tiers); i++ {
		upper := tiers[i-1].Min
		tiers[i].Max = &upper
	}
	return tiers
}

// Tiers 返回按下限从高到低排列的余额档位。
func Tiers() []Tier {
	out := make([]Tier, len(balanceTiers))
	copy(out, balanceTiers)
	return out
}

// OverrideTiers 返回覆盖类档位。
func OverrideTiers() []Tier {
	out := make([]Tier, len(overrideTiers))
	copy(out, overrideTiers)
	return out
}

// Lookup 按名称（不区分大小写）查找档位，"exchange" 与 "wrapped" 作为别名。
func Lookup(name string) (Tier, bool) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "exchange":
		name = string(Harbor)
	case "wrapped":
		name = string(Bridge)
	}
	for _, tier := range balanceTiers {
		if strings.EqualFold(string(tier.Name), name) {
			return tier, true
		}
	}
	for _, tier := range overrideTiers {
		if strings.EqualFold(string(tier.Name), name) {
			return tier, true
		}
	}
	return Tier{}, false
}

func lowest() Tier {
	return balanceTiers[len(balanceTiers)-1]
}
