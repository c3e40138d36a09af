package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/storage"
)

// WalletCache implements storage.WalletCache using PostgreSQL.
type WalletCache struct {
	pool *Pool
}

// NewWalletCache creates a new WalletCache.
func NewWalletCache(pool *Pool) *WalletCache {
	return &WalletCache{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletCache = (*WalletCache)(nil)

// ListWallets returns every cached row ordered by balance descending.
func (c *WalletCache) ListWallets(ctx context.Context) ([]classify.WalletRecord, error) {
	query := `
		SELECT address, balance::text, transaction_count, category, emoji, label,
		       is_flagship, is_exchange, is_wrapped
		FROM wallet_cache
		ORDER BY balance DESC
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query wallet cache: %w", err)
	}
	defer rows.Close()

	var out []classify.WalletRecord
	for rows.Next() {
		rec, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet cache: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet cache: %w", err)
	}
	return out, nil
}

// Upsert writes records. The service itself never refreshes the cache; this
// exists for the refresh job and integration tests.
func (c *WalletCache) Upsert(ctx context.Context, records []classify.WalletRecord) error {
	query := `
		INSERT INTO wallet_cache (
			address, balance, transaction_count, category, emoji, label,
			is_flagship, is_exchange, is_wrapped, refreshed_at
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (address) DO UPDATE SET
			balance = EXCLUDED.balance,
			transaction_count = EXCLUDED.transaction_count,
			category = EXCLUDED.category,
			emoji = EXCLUDED.emoji,
			label = EXCLUDED.label,
			is_flagship = EXCLUDED.is_flagship,
			is_exchange = EXCLUDED.is_exchange,
			is_wrapped = EXCLUDED.is_wrapped,
			refreshed_at = EXCLUDED.refreshed_at
	`

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query,
			strings.ToLower(rec.Address),
			rec.Balance.String(),
			rec.TransactionCount,
			string(rec.Category),
			rec.Emoji,
			rec.Label,
			rec.IsFlagship,
			rec.IsExchange,
			rec.IsWrapped,
		)
	}
	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert wallet cache: %w", err)
	}
	return nil
}

func scanWallet(row pgx.Row) (classify.WalletRecord, error) {
	var (
		rec      classify.WalletRecord
		balance  string
		category string
	)
	if err := row.Scan(
		&rec.Address,
		&balance,
		&rec.TransactionCount,
		&category,
		&rec.Emoji,
		&rec.Label,
		&rec.IsFlagship,
		&rec.IsExchange,
		&rec.IsWrapped,
	); err != nil {
		return classify.WalletRecord{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return classify.WalletRecord{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	rec.Address = strings.ToLower(rec.Address)
	rec.Balance = amount
	rec.Category = classify.Label(category)
	return rec, nil
}
