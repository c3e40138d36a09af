package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes one network and the services that index it.
type ChainDefinition struct {
	Type        string   `yaml:"type"`
	ChainID     int64    `yaml:"chain_id"`
	Symbol      string   `yaml:"symbol"`
	RPCURLs     []string `yaml:"rpc_urls"`
	ExplorerURL string   `yaml:"explorer_url"`
	GraphQLURL  string   `yaml:"graphql_url"`
	Description string   `yaml:"description"`
}

// Candidates returns the RPC URLs in probing order with blanks and
// duplicates removed.
func (d ChainDefinition) Candidates() []string {
	seen := make(map[string]struct{}, len(d.RPCURLs))
	out := make([]string, 0, len(d.RPCURLs))
	for _, raw := range d.RPCURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain definitions: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("decode chain definitions: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Lookup returns the named chain, falling back to the file's default and
// then to the alphabetically first entry when name is empty.
func (d ChainDefinitions) Lookup(name string) (ChainDefinition, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = d.Default
	}
	if name == "" {
		names := make([]string, 0, len(d.Chains))
		for n := range d.Chains {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return ChainDefinition{}, "", fmt.Errorf("no chains configured")
		}
		name = names[0]
	}
	def, ok := d.Chains[name]
	if !ok {
		return ChainDefinition{}, "", fmt.Errorf("chain %s not defined", name)
	}
	return def, name, nil
}
