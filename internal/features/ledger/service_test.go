package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUserAccount(t *testing.T) {
	assert.Equal(t, Account("user:42"), UserAccount(42))
	assert.NotEqual(t, AccountEscrow, UserAccount(0))
}

func confirmed(typ EntryType, amount string) PaymentTransaction {
	return PaymentTransaction{Type: typ, Amount: dec(amount), Status: EntryConfirmed}
}

func TestVerifyConservationOK(t *testing.T) {
	entries := []PaymentTransaction{
		confirmed(EntryBuyerToContract, "100"),
		confirmed(EntryContractToSeller, "95"),
		confirmed(EntryFee, "5"),
	}
	require.NoError(t, VerifyConservation(entries, dec("100")))
}

func TestVerifyConservationIgnoresPendingAndExtras(t *testing.T) {
	entries := []PaymentTransaction{
		confirmed(EntryBuyerToContract, "100"),
		confirmed(EntryContractToSeller, "95"),
		confirmed(EntryFee, "5"),
		// PENDING и RESOURCE_TRANSFER в сверку не входят
		{Type: EntryBuyerToContract, Amount: dec("100"), Status: EntryPending},
		confirmed(EntryResourceTransfer, "500"),
	}
	require.NoError(t, VerifyConservation(entries, dec("100")))
}

func TestVerifyConservationMismatch(t *testing.T) {
	// выплаты не сходятся с поступлением
	entries := []PaymentTransaction{
		confirmed(EntryBuyerToContract, "100"),
		confirmed(EntryContractToSeller, "95"),
	}
	assert.Error(t, VerifyConservation(entries, dec("100")))

	// покупатель заплатил не цену лота
	entries = []PaymentTransaction{
		confirmed(EntryBuyerToContract, "90"),
		confirmed(EntryContractToSeller, "85"),
		confirmed(EntryFee, "5"),
	}
	assert.Error(t, VerifyConservation(entries, dec("100")))

	// записей нет вовсе
	assert.Error(t, VerifyConservation(nil, dec("100")))
}

// stubLedgerRepo фиксирует вызовы, не трогая БД.
type stubLedgerRepo struct {
	Repo

	debits  []decimal.Decimal
	credits []decimal.Decimal
	entries []PaymentTransaction
	subErr  error
}

func (s *stubLedgerRepo) SubAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	if s.subErr != nil {
		return s.subErr
	}
	s.debits = append(s.debits, amount)
	return nil
}

func (s *stubLedgerRepo) AddAvailable(ctx context.Context, tx pgx.Tx, account Account, currency common.Currency, amount decimal.Decimal) error {
	s.credits = append(s.credits, amount)
	return nil
}

func (s *stubLedgerRepo) InsertEntry(ctx context.Context, tx pgx.Tx, e *PaymentTransaction) error {
	s.entries = append(s.entries, *e)
	return nil
}

func TestDebitValidation(t *testing.T) {
	l := NewLedger(&stubLedgerRepo{})

	err := l.Debit(context.Background(), nil, UserAccount(1), common.CurrencyStardust, dec("0"))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	err = l.Debit(context.Background(), nil, UserAccount(1), common.CurrencyStardust, dec("-1"))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestCreditZeroIsNoop(t *testing.T) {
	repo := &stubLedgerRepo{}
	l := NewLedger(repo)

	require.NoError(t, l.Credit(context.Background(), nil, AccountHouse, common.CurrencyTgStars, dec("0")))
	assert.Empty(t, repo.credits)

	err := l.Credit(context.Background(), nil, AccountHouse, common.CurrencyTgStars, dec("-3"))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestTransferInsufficientFundsLeavesNoResidue(t *testing.T) {
	repo := &stubLedgerRepo{subErr: common.ErrInsufficientFunds}
	l := NewLedger(repo)

	_, err := l.Transfer(context.Background(), nil, uuid.New(),
		AccountEscrow, UserAccount(7), common.CurrencyStardust, dec("10"), EntryRefund)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.Empty(t, repo.credits)
	assert.Empty(t, repo.entries)
}

func TestTransferRecordsConfirmedEntry(t *testing.T) {
	repo := &stubLedgerRepo{}
	l := NewLedger(repo)
	dealID := uuid.New()

	e, err := l.Transfer(context.Background(), nil, dealID,
		AccountEscrow, UserAccount(7), common.CurrencyStardust, dec("95"), EntryContractToSeller)
	require.NoError(t, err)

	assert.Equal(t, EntryConfirmed, e.Status)
	assert.Equal(t, dealID, e.DealID)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, EntryContractToSeller, repo.entries[0].Type)
	assert.True(t, repo.entries[0].Amount.Equal(dec("95")))
}
