// Package ledger — service.go содержит бизнес-логику денежного учёта:
// дебет/кредит счетов, платёжные записи и сверку сохранности суммы.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Repo описывает контракт хранилища, используемый леджером.
type Repo interface {
	SubAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error
	AddAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error
	InsertEntry(ctx context.Context, tx pgx.Tx, e *PaymentTransaction) error
	GetEntryForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*PaymentTransaction, error)
	SetEntryStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status EntryStatus, blockchainTxID *string) error
	EntriesByDeal(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) ([]PaymentTransaction, error)
	HasEntries(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (bool, error)
	Balances(ctx context.Context, account Account) ([]Balance, error)
}

// Ledger управляет денежным учётом.
type Ledger struct {
	repo Repo
}

// NewLedger создаёт леджер.
func NewLedger(repo Repo) *Ledger {
	return &Ledger{repo: repo}
}

// Debit списывает сумму со счёта. Если средств не хватает —
// common.ErrInsufficientFunds, баланс не меняется.
func (l *Ledger) Debit(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: debit amount must be positive", common.ErrInvalidAmount)
	}
	return l.repo.SubAvailable(ctx, tx, account, currency, amount)
}

// Credit зачисляет сумму на счёт. Нулевые суммы допустимы
// (комиссия может усечься в ноль), отрицательные — нет.
func (l *Ledger) Credit(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: credit amount must not be negative", common.ErrInvalidAmount)
	}
	if amount.IsZero() {
		return nil
	}
	return l.repo.AddAvailable(ctx, tx, account, currency, amount)
}

// Record добавляет платёжную запись сделки и возвращает её.
func (l *Ledger) Record(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, from, to Account, currency common.Currency, amount decimal.Decimal, typ EntryType, status EntryStatus) (*PaymentTransaction, error) {
	e := &PaymentTransaction{
		ID:       uuid.New(),
		DealID:   dealID,
		From:     from,
		To:       to,
		Amount:   amount,
		Currency: currency,
		Type:     typ,
		Status:   status,
	}
	if err := l.repo.InsertEntry(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Transfer — дебет + кредит + подтверждённая запись одним вызовом.
// Используется для выплат из эскроу (продавцу, в кассу, возврат покупателю).
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, from, to Account, currency common.Currency, amount decimal.Decimal, typ EntryType) (*PaymentTransaction, error) {
	if err := l.Debit(ctx, tx, from, currency, amount); err != nil {
		return nil, err
	}
	if err := l.Credit(ctx, tx, to, currency, amount); err != nil {
		return nil, err
	}
	return l.Record(ctx, tx, dealID, from, to, currency, amount, typ, EntryConfirmed)
}

// Entry читает платёжную запись под блокировкой.
func (l *Ledger) Entry(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*PaymentTransaction, error) {
	return l.repo.GetEntryForUpdate(ctx, tx, id)
}

// Confirm переводит запись PENDING -> CONFIRMED, фиксируя id он-чейн
// транзакции, если он передан.
func (l *Ledger) Confirm(ctx context.Context, tx pgx.Tx, id uuid.UUID, blockchainTxID *string) error {
	return l.repo.SetEntryStatus(ctx, tx, id, EntryConfirmed, blockchainTxID)
}

// Fail переводит запись PENDING -> FAILED.
func (l *Ledger) Fail(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return l.repo.SetEntryStatus(ctx, tx, id, EntryFailed, nil)
}

// EntriesByDeal возвращает все записи сделки.
func (l *Ledger) EntriesByDeal(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) ([]PaymentTransaction, error) {
	return l.repo.EntriesByDeal(ctx, tx, dealID)
}

// HasEntries сообщает, начались ли денежные шаги по сделке.
func (l *Ledger) HasEntries(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (bool, error) {
	return l.repo.HasEntries(ctx, tx, dealID)
}

// Balances возвращает остатки счёта.
func (l *Ledger) Balances(ctx context.Context, account Account) ([]Balance, error) {
	return l.repo.Balances(ctx, account)
}

// VerifyConservation сверяет записи завершаемой сделки:
// сумма подтверждённых выплат (продавцу + комиссия) обязана равняться
// сумме подтверждённых поступлений от покупателя, а та — цене лота.
// Сверка выполняется до перевода сделки в COMPLETED; расхождение —
// программная ошибка, и транзакция откатывается целиком.
func VerifyConservation(entries []PaymentTransaction, price decimal.Decimal) error {
	var in, out decimal.Decimal
	for _, e := range entries {
		if e.Status != EntryConfirmed {
			continue
		}
		switch e.Type {
		case EntryBuyerToContract:
			in = in.Add(e.Amount)
		case EntryContractToSeller, EntryFee:
			out = out.Add(e.Amount)
		}
	}

	if !in.Equal(price) {
		return fmt.Errorf("ledger mismatch: buyer paid %s, offer price %s", in, price)
	}
	if !out.Equal(in) {
		return fmt.Errorf("ledger mismatch: payouts %s do not match escrow intake %s", out, in)
	}
	return nil
}
