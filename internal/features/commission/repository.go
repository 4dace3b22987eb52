// Package commission — repository.go читает ставки из таблицы commissions.
package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Repository предоставляет доступ к таблице commissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт репозиторий комиссий.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Rate возвращает ставку для валюты внутри транзакции расчёта.
// Отсутствие строки — это ошибка конфигурации, а не ставка 0%.
func (r *Repository) Rate(ctx context.Context, tx pgx.Tx, currency common.Currency) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := tx.QueryRow(ctx,
		`SELECT rate FROM commissions WHERE currency = $1`,
		string(currency),
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, common.ErrCommissionNotConfigured
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("get commission rate: %w", err)
	}
	return rate, nil
}

// List возвращает все настроенные ставки (для отображения в приложении).
func (r *Repository) List(ctx context.Context) ([]Commission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT currency, rate, description, updated_at
		FROM commissions
		ORDER BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer rows.Close()

	var out []Commission
	for rows.Next() {
		var (
			c   Commission
			cur string
		)
		if err := rows.Scan(&cur, &c.Rate, &c.Description, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		c.Currency = common.Currency(cur)
		out = append(out, c)
	}
	return out, rows.Err()
}
