package provider

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/retry"
	"WChain-Bubbles/internal/web3"
	"WChain-Bubbles/internal/web3/ethereum"
)

// weiDecimals is the scale between wei and whole WCO.
const weiDecimals = 18

// BalanceReader reads native balances through the endpoint chosen by a
// Selector. Dialled clients are reused per endpoint URL.
type BalanceReader struct {
	selector *Selector
	dial     web3.Dialer
	policy   retry.Policy

	mu      sync.Mutex
	clients map[string]web3.Client
}

// NewBalanceReader wires a reader. A nil dialer uses ethereum.Dial.
func NewBalanceReader(selector *Selector, dial web3.Dialer, policy retry.Policy) *BalanceReader {
	if dial == nil {
		dial = ethereum.Dial
	}
	policy.RetryIf = func(err error) bool {
		return !errors.Is(err, ethereum.ErrInvalidAddress)
	}
	return &BalanceReader{
		selector: selector,
		dial:     dial,
		policy:   policy,
		clients:  make(map[string]web3.Client),
	}
}

// Balance returns the latest balance of address in whole WCO.
func (r *BalanceReader) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if _, err := ethereum.ParseAddress(address); err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid wallet address")
	}
	client, err := r.client(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	var wei *big.Int
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		v, err := client.BalanceAt(ctx, address)
		if err != nil {
			return err
		}
		wei = v
		return nil
	})
	if err != nil {
		return decimal.Zero, classifyRPCError(err, "balance lookup failed")
	}
	return WeiToWCO(wei), nil
}

// ChainInfo returns a snapshot from the selected endpoint.
func (r *BalanceReader) ChainInfo(ctx context.Context) (web3.ChainSnapshot, error) {
	client, err := r.client(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	var snapshot web3.ChainSnapshot
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		s, err := client.FetchChainSnapshot(ctx)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return web3.ChainSnapshot{}, classifyRPCError(err, "chain snapshot failed")
	}
	return snapshot, nil
}

// Close releases every dialled client.
func (r *BalanceReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, c := range r.clients {
		c.Close()
		delete(r.clients, url)
	}
}

func (r *BalanceReader) client(ctx context.Context) (web3.Client, error) {
	url, err := r.selector.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[url]; ok {
		return c, nil
	}
	c, err := r.dial(ctx, url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "dial rpc endpoint")
	}
	r.clients[url] = c
	return c, nil
}

// WeiToWCO scales a wei amount to whole WCO.
func WeiToWCO(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

func classifyRPCError(err error, msg string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, msg)
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, msg)
}
