package web3

import (
	"context"
	"math/big"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	GasPrice    string `json:"gas_price,omitempty"`
	Endpoint    string `json:"endpoint"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read calls the analytics engine makes against a
// selected RPC endpoint.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
	Close()
}

// Prober checks whether an RPC endpoint is alive.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, url string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Dialer opens a Client for an RPC URL.
type Dialer func(ctx context.Context, url string) (Client, error)
