package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"WChain-Bubbles/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	endpoint  string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.Mutex
}

// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid address")

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("rpc url is required")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		endpoint:  rpcURL,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Dial adapts NewClient to web3.Dialer.
func Dial(ctx context.Context, url string) (web3.Client, error) {
	return NewClient(ctx, Config{RPCURL: url})
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errors.New("ethereum client not initialised")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("ethereum client closed")
	}
	return c.eth, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch chain id: %w", err)
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch block number: %w", err)
	}
	snapshot := web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Endpoint:    c.endpoint,
		Notes:       c.notes,
	}
	// Some archive gateways do not expose eth_gasPrice.
	if price, err := eth.SuggestGasPrice(ctx); err == nil {
		snapshot.GasPrice = toHexBig(price)
	}
	return snapshot, nil
}

// BalanceAt returns the latest balance of address in wei.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	balance, err := eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	return balance, nil
}

// ParseAddress validates a hex address string.
func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return common.HexToAddress(address), nil
}

// Prober checks liveness with eth_chainId. When ChainID is set, an endpoint
// reporting a different network is rejected.
type Prober struct {
	ChainID *big.Int
}

// Probe dials url and issues one eth_chainId call bounded by ctx.
func (p Prober) Probe(ctx context.Context, url string) error {
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer client.Close()

	var result hexutil.Big
	if err := client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return fmt.Errorf("eth_chainId on %s: %w", url, err)
	}
	if p.ChainID != nil && p.ChainID.Sign() > 0 && (*big.Int)(&result).Cmp(p.ChainID) != 0 {
		return fmt.Errorf("endpoint %s serves chain %s, want %s", url, (*big.Int)(&result), p.ChainID)
	}
	return nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
