package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides 保存三张覆盖表：地址 → 展示标签。
type Overrides struct {
	Flagship map[string]string `yaml:"flagship"`
	Exchange map[string]string `yaml:"exchange"`
	Wrapped  map[string]string `yaml:"wrapped"`
}

// LoadOverrides 从 YAML 文件读取覆盖表，地址统一转为小写。
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("read overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overrides{}, fmt.Errorf("decode overrides: %w", err)
	}
	return o.normalize(), nil
}

// Merge 合并另一组覆盖表，后者的同名地址覆盖前者。
func (o Overrides) Merge(other Overrides) Overrides {
	merged := Overrides{
		Flagship: mergeTable(o.Flagship, other.Flagship),
		Exchange: mergeTable(o.Exchange, other.Exchange),
		Wrapped:  mergeTable(o.Wrapped, other.Wrapped),
	}
	return merged
}

// ExchangeSet 返回交易所地址集合，用于交易压力分类。
func (o Overrides) ExchangeSet() AddressSet {
	set := make(AddressSet, len(o.Exchange))
	for addr := range o.Exchange {
		set[normalizeAddress(addr)] = struct{}{}
	}
	return set
}

func (o Overrides) normalize() Overrides {
	return o.Merge(Overrides{})
}

func mergeTable(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for addr, label := range base {
		out[normalizeAddress(addr)] = label
	}
	for addr, label := range extra {
		out[normalizeAddress(addr)] = label
	}
	return out
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
