// Package postgres — tx.go содержит unit-of-work поверх pgx.
// Все многошаговые операции движка (создание лота + блокировка предмета,
// семь шагов расчёта сделки) выполняются внутри одного вызова WithTx:
// либо коммитится всё, либо не коммитится ничего.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner запускает функцию внутри одной транзакции БД.
// Сервисы зависят от интерфейса, а не от пула: в тестах его подменяет
// заглушка, которая просто вызывает fn без БД.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PoolRunner — боевая реализация TxRunner поверх pgxpool.
type PoolRunner struct {
	pool *pgxpool.Pool
}

// NewPoolRunner оборачивает пул в TxRunner.
func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

// WithTx выполняет fn внутри транзакции.
// Коммит только при nil-ошибке, иначе откат.
func (r *PoolRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Откат после коммита безвреден — pgx вернёт ErrTxClosed, мы его игнорируем
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
