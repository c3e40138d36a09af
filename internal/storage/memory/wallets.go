package memory

import (
	"context"
	"sort"
	"sync"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/storage"
)

// WalletCache holds a wallet snapshot in memory. Replace swaps the snapshot
// the way the external refresh job replaces the relational table.
type WalletCache struct {
	mu      sync.RWMutex
	records []classify.WalletRecord
	err     error
}

// NewWalletCache creates a cache seeded with records.
func NewWalletCache(records ...classify.WalletRecord) *WalletCache {
	c := &WalletCache{}
	c.Replace(records)
	return c
}

var _ storage.WalletCache = (*WalletCache)(nil)

// Replace swaps the snapshot.
func (c *WalletCache) Replace(records []classify.WalletRecord) {
	sorted := append([]classify.WalletRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Balance.GreaterThan(sorted[j].Balance) })
	c.mu.Lock()
	c.records = sorted
	c.mu.Unlock()
}

// FailWith makes ListWallets return err until cleared with nil.
func (c *WalletCache) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// ListWallets returns the snapshot ordered by balance descending.
func (c *WalletCache) ListWallets(context.Context) ([]classify.WalletRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]classify.WalletRecord(nil), c.records...), nil
}
