// Package ledger — repository.go выполняет операции с таблицами balances
// и payment_transactions. Денежные методы работают только внутри открытой
// транзакции: баланс и платёжная запись меняются одним куском.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Repository предоставляет доступ к балансам и платёжным записям.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт репозиторий леджера.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensureBalance гарантирует существование строки баланса.
// Новые счета начинают с нуля.
func (r *Repository) ensureBalance(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (account, currency, available)
		VALUES ($1, $2, 0)
		ON CONFLICT (account, currency) DO NOTHING
	`, string(account), string(currency))
	if err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return nil
}

// SubAvailable списывает сумму со счёта.
// Списание защищено условием available >= amount: ноль затронутых строк
// означает нехватку средств, баланс при этом не меняется.
func (r *Repository) SubAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	if err := r.ensureBalance(ctx, tx, account, currency); err != nil {
		return err
	}

	// Блокируем строку, чтобы параллельные списания сериализовались
	var available decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT available FROM balances
		WHERE account = $1 AND currency = $2
		FOR UPDATE
	`, string(account), string(currency)).Scan(&available)
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	if available.LessThan(amount) {
		return common.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		UPDATE balances
		SET available = available - $3, updated_at = NOW()
		WHERE account = $1 AND currency = $2
	`, string(account), string(currency), amount)
	if err != nil {
		return fmt.Errorf("sub available: %w", err)
	}
	return nil
}

// AddAvailable зачисляет сумму на счёт.
func (r *Repository) AddAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (account, currency, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, currency)
		DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = NOW()
	`, string(account), string(currency), amount)
	if err != nil {
		return fmt.Errorf("add available: %w", err)
	}
	return nil
}

// InsertEntry записывает платёжную строку. Записи append-only:
// UPDATE для них существует только в виде смены статуса.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *PaymentTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_transactions
			(id, market_transaction_id, from_account, to_account, amount, currency, tx_type, blockchain_tx_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.DealID, string(e.From), string(e.To), e.Amount, string(e.Currency), string(e.Type), e.BlockchainTxID, string(e.Status))
	if err != nil {
		return fmt.Errorf("insert payment entry: %w", err)
	}
	return nil
}

// GetEntryForUpdate читает платёжную запись под блокировкой строки.
func (r *Repository) GetEntryForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*PaymentTransaction, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, market_transaction_id, from_account, to_account, amount, currency, tx_type, blockchain_tx_id, status, created_at
		FROM payment_transactions
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanEntry(row)
}

// SetEntryStatus выполняет переход статуса PENDING -> CONFIRMED/FAILED.
// Переход из терминального статуса невозможен: ноль затронутых строк.
func (r *Repository) SetEntryStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status EntryStatus, blockchainTxID *string) error {
	res, err := tx.Exec(ctx, `
		UPDATE payment_transactions
		SET status = $2, blockchain_tx_id = COALESCE($3, blockchain_tx_id)
		WHERE id = $1 AND status = 'PENDING'
	`, id, string(status), blockchainTxID)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrInvalidState
	}
	return nil
}

// EntriesByDeal возвращает все платёжные записи сделки внутри транзакции.
func (r *Repository) EntriesByDeal(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) ([]PaymentTransaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, market_transaction_id, from_account, to_account, amount, currency, tx_type, blockchain_tx_id, status, created_at
		FROM payment_transactions
		WHERE market_transaction_id = $1
		ORDER BY created_at, id
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("entries by deal: %w", err)
	}
	defer rows.Close()

	var out []PaymentTransaction
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// HasEntries сообщает, есть ли у сделки хоть одна платёжная запись.
// Используется уборщиком зависших сделок: PENDING без записей можно
// отменять, PENDING с записями ждёт подтверждения сети.
func (r *Repository) HasEntries(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE market_transaction_id = $1)`,
		dealID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has entries: %w", err)
	}
	return exists, nil
}

// Balances возвращает остатки счёта по всем валютам (чтение без транзакции).
func (r *Repository) Balances(ctx context.Context, account Account) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account, currency, available, updated_at
		FROM balances
		WHERE account = $1
		ORDER BY currency
	`, string(account))
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var (
			b        Balance
			acc, cur string
		)
		if err := rows.Scan(&acc, &cur, &b.Available, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.Account = Account(acc)
		b.Currency = common.Currency(cur)
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*PaymentTransaction, error) {
	var (
		e                  PaymentTransaction
		from, to, cur, typ string
		status             string
	)
	err := row.Scan(&e.ID, &e.DealID, &from, &to, &e.Amount, &cur, &typ, &e.BlockchainTxID, &status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment entry: %w", err)
	}
	e.From = Account(from)
	e.To = Account(to)
	e.Currency = common.Currency(cur)
	e.Type = EntryType(typ)
	e.Status = EntryStatus(status)
	return &e, nil
}
