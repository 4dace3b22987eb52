package market

// stubs_test.go — in-memory заглушки хранилищ для тестов сервисов.
// Заглушка TxRunner вызывает fn без БД: pgx.Tx — интерфейс, nil подходит.
// Откат при ошибке заглушки не делают, поэтому сценарии строятся так,
// чтобы денежные шаги либо не начинались, либо доходили до конца.

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/commission"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

type stubRunner struct{}

func (stubRunner) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// --- лоты и сделки ---

type memStore struct {
	offers map[int64]*Offer
	deals  map[uuid.UUID]*Deal
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		offers: make(map[int64]*Offer),
		deals:  make(map[uuid.UUID]*Deal),
	}
}

func (m *memStore) InsertOffer(_ context.Context, _ pgx.Tx, o *Offer) error {
	for _, ex := range m.offers {
		if ex.Status == OfferActive && ex.ItemType == o.ItemType && ex.ItemID == o.ItemID {
			return common.ErrItemLocked
		}
	}
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *memStore) GetOffer(_ context.Context, offerID int64) (*Offer, error) {
	o, ok := m.offers[offerID]
	if !ok {
		return nil, common.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) LockOffer(ctx context.Context, _ pgx.Tx, offerID int64) (*Offer, error) {
	return m.GetOffer(ctx, offerID)
}

func (m *memStore) CloseOffer(_ context.Context, _ pgx.Tx, offerID int64, status OfferStatus) error {
	o, ok := m.offers[offerID]
	if !ok || o.Status != OfferActive {
		return common.ErrInvalidState
	}
	o.Status = status
	o.IsItemLocked = false
	o.LockToken = ""
	return nil
}

func (m *memStore) ListActive(_ context.Context, f ListFilter) ([]Offer, error) {
	var out []Offer
	for _, o := range m.offers {
		if o.Status != OfferActive {
			continue
		}
		if f.ItemType != nil && o.ItemType != *f.ItemType {
			continue
		}
		if f.Currency != nil && o.Currency != *f.Currency {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memStore) ExpiredCandidates(_ context.Context, now time.Time, _ int) ([]int64, error) {
	var ids []int64
	for id, o := range m.offers {
		if o.Status == OfferActive && o.Expired(now) && !m.pendingFor(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) HasPendingDeal(_ context.Context, _ pgx.Tx, offerID int64) (bool, error) {
	return m.pendingFor(offerID), nil
}

func (m *memStore) pendingFor(offerID int64) bool {
	for _, d := range m.deals {
		if d.OfferID == offerID && d.Status == DealPending {
			return true
		}
	}
	return false
}

func (m *memStore) InsertDeal(_ context.Context, _ pgx.Tx, d *Deal) error {
	if m.pendingFor(d.OfferID) {
		return common.ErrDealInProgress
	}
	d.CreatedAt = time.Now()
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *memStore) LockDeal(_ context.Context, _ pgx.Tx, id uuid.UUID) (*Deal, error) {
	d, ok := m.deals[id]
	if !ok {
		return nil, common.ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) SetDealStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status DealStatus, completedAt *time.Time) error {
	d, ok := m.deals[id]
	if !ok || d.Status != DealPending {
		return common.ErrInvalidState
	}
	d.Status = status
	d.CompletedAt = completedAt
	return nil
}

func (m *memStore) DealsByUser(_ context.Context, userID int64, _ int) ([]Deal, error) {
	var out []Deal
	for _, d := range m.deals {
		if d.BuyerID == userID || d.SellerID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) StaleDealIDs(_ context.Context, cutoff time.Time, _ int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, d := range m.deals {
		if d.Status == DealPending && d.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- предметы ---

type memItems struct {
	byRef    map[items.Ref]*items.Item
	tokens   map[items.Ref]items.LockToken
	contents map[int64]items.PackageContents
}

func newMemItems() *memItems {
	return &memItems{
		byRef:    make(map[items.Ref]*items.Item),
		tokens:   make(map[items.Ref]items.LockToken),
		contents: make(map[int64]items.PackageContents),
	}
}

func (m *memItems) add(ref items.Ref, ownerID int64) {
	it := &items.Item{Ref: ref}
	if ownerID != 0 {
		id := ownerID
		it.OwnerID = &id
	}
	m.byRef[ref] = it
}

func (m *memItems) Get(_ context.Context, _ pgx.Tx, ref items.Ref) (*items.Item, error) {
	it, ok := m.byRef[ref]
	if !ok {
		return nil, common.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *memItems) TryLock(_ context.Context, _ pgx.Tx, ref items.Ref) (items.LockToken, error) {
	it, ok := m.byRef[ref]
	if !ok {
		return "", common.ErrItemNotFound
	}
	if it.Locked {
		return "", common.ErrItemLocked
	}
	it.Locked = true
	token := items.LockToken(uuid.NewString())
	m.tokens[ref] = token
	return token, nil
}

func (m *memItems) Unlock(_ context.Context, _ pgx.Tx, ref items.Ref, token items.LockToken) error {
	if m.tokens[ref] == token {
		m.byRef[ref].Locked = false
		delete(m.tokens, ref)
	}
	return nil
}

func (m *memItems) TransferOwnership(_ context.Context, _ pgx.Tx, ref items.Ref, newOwnerID int64) error {
	it, ok := m.byRef[ref]
	if !ok {
		return common.ErrItemNotFound
	}
	id := newOwnerID
	it.OwnerID = &id
	return nil
}

func (m *memItems) Contents(_ context.Context, _ pgx.Tx, packageID int64) (*items.PackageContents, error) {
	c, ok := m.contents[packageID]
	if !ok {
		return nil, common.ErrItemNotFound
	}
	return &c, nil
}

// --- леджер ---

type acctKey struct {
	account  ledger.Account
	currency common.Currency
}

type memLedger struct {
	balances map[acctKey]decimal.Decimal
	entries  []*ledger.PaymentTransaction
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[acctKey]decimal.Decimal)}
}

func (m *memLedger) balance(account ledger.Account, currency common.Currency) decimal.Decimal {
	return m.balances[acctKey{account, currency}]
}

func (m *memLedger) deposit(account ledger.Account, currency common.Currency, amount decimal.Decimal) {
	k := acctKey{account, currency}
	m.balances[k] = m.balances[k].Add(amount)
}

func (m *memLedger) Debit(_ context.Context, _ pgx.Tx, account ledger.Account, currency common.Currency, amount decimal.Decimal) error {
	k := acctKey{account, currency}
	if m.balances[k].LessThan(amount) {
		return common.ErrInsufficientFunds
	}
	m.balances[k] = m.balances[k].Sub(amount)
	return nil
}

func (m *memLedger) Credit(_ context.Context, _ pgx.Tx, account ledger.Account, currency common.Currency, amount decimal.Decimal) error {
	m.deposit(account, currency, amount)
	return nil
}

func (m *memLedger) Record(_ context.Context, _ pgx.Tx, dealID uuid.UUID, from, to ledger.Account, currency common.Currency, amount decimal.Decimal, typ ledger.EntryType, status ledger.EntryStatus) (*ledger.PaymentTransaction, error) {
	e := &ledger.PaymentTransaction{
		ID:        uuid.New(),
		DealID:    dealID,
		From:      from,
		To:        to,
		Amount:    amount,
		Currency:  currency,
		Type:      typ,
		Status:    status,
		CreatedAt: time.Now(),
	}
	m.entries = append(m.entries, e)
	cp := *e
	return &cp, nil
}

func (m *memLedger) Transfer(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, from, to ledger.Account, currency common.Currency, amount decimal.Decimal, typ ledger.EntryType) (*ledger.PaymentTransaction, error) {
	if err := m.Debit(ctx, tx, from, currency, amount); err != nil {
		return nil, err
	}
	if err := m.Credit(ctx, tx, to, currency, amount); err != nil {
		return nil, err
	}
	return m.Record(ctx, tx, dealID, from, to, currency, amount, typ, ledger.EntryConfirmed)
}

func (m *memLedger) find(id uuid.UUID) *ledger.PaymentTransaction {
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *memLedger) Entry(_ context.Context, _ pgx.Tx, id uuid.UUID) (*ledger.PaymentTransaction, error) {
	e := m.find(id)
	if e == nil {
		return nil, common.ErrPaymentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memLedger) Confirm(_ context.Context, _ pgx.Tx, id uuid.UUID, blockchainTxID *string) error {
	return m.setStatus(id, ledger.EntryConfirmed, blockchainTxID)
}

func (m *memLedger) Fail(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	return m.setStatus(id, ledger.EntryFailed, nil)
}

func (m *memLedger) setStatus(id uuid.UUID, status ledger.EntryStatus, blockchainTxID *string) error {
	e := m.find(id)
	if e == nil {
		return common.ErrPaymentNotFound
	}
	if e.Status != ledger.EntryPending {
		return common.ErrInvalidState
	}
	e.Status = status
	if blockchainTxID != nil {
		e.BlockchainTxID = blockchainTxID
	}
	return nil
}

func (m *memLedger) EntriesByDeal(_ context.Context, _ pgx.Tx, dealID uuid.UUID) ([]ledger.PaymentTransaction, error) {
	var out []ledger.PaymentTransaction
	for _, e := range m.entries {
		if e.DealID == dealID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memLedger) HasEntries(_ context.Context, _ pgx.Tx, dealID uuid.UUID) (bool, error) {
	for _, e := range m.entries {
		if e.DealID == dealID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) entryOfType(dealID uuid.UUID, typ ledger.EntryType) *ledger.PaymentTransaction {
	for _, e := range m.entries {
		if e.DealID == dealID && e.Type == typ {
			return e
		}
	}
	return nil
}

// --- комиссия ---

type stubSplit struct {
	rate decimal.Decimal
	err  error
}

func (s stubSplit) Split(_ context.Context, _ pgx.Tx, currency common.Currency, gross decimal.Decimal) (commission.Split, error) {
	if s.err != nil {
		return commission.Split{}, s.err
	}
	return commission.ComputeSplit(currency, gross, s.rate)
}

// --- уведомления ---

type stubNotifier struct {
	completed []uuid.UUID
}

func (n *stubNotifier) DealCompleted(deal *Deal, _ *Offer) {
	n.completed = append(n.completed, deal.ID)
}
