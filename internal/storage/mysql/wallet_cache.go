package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/classify"
)

const selectWalletsSQL = `SELECT address, balance, transaction_count, category, emoji, label, is_flagship, is_exchange, is_wrapped
    FROM wallet_cache ORDER BY balance DESC`

// ListWallets 读取外部任务刷新的钱包快照。分类字段按原样返回，由调用方重新分类。
func (s *Store) ListWallets(ctx context.Context) ([]classify.WalletRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectWalletsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询钱包缓存失败: %w", err)
	}
	defer rows.Close()

	var out []classify.WalletRecord
	for rows.Next() {
		var (
			rec                         classify.WalletRecord
			balance                     decimal.Decimal
			category                    string
			label                       sql.NullString
			flagship, exchange, wrapped bool
		)
		if err := rows.Scan(&rec.Address, &balance, &rec.TransactionCount, &category, &rec.Emoji, &label, &flagship, &exchange, &wrapped); err != nil {
			return nil, fmt.Errorf("解析钱包缓存失败: %w", err)
		}
		rec.Address = strings.ToLower(rec.Address)
		rec.Balance = balance
		rec.Category = classify.Label(category)
		if label.Valid && label.String != "" {
			l := label.String
			rec.Label = &l
		}
		rec.IsFlagship, rec.IsExchange, rec.IsWrapped = flagship, exchange, wrapped
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历钱包缓存失败: %w", err)
	}
	return out, nil
}
