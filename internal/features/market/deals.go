// Package market — deals.go содержит координатор сделок.
// Машина состояний одной сделки: PENDING -> COMPLETED (успех),
// PENDING -> FAILED (любой сбой шага) или PENDING -> CANCELLED
// (расчёт так и не начался). Из терминального статуса переходов нет.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/db/postgres"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/commission"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/ledger"
)

// DealsRepo описывает контракт хранилища сделок.
type DealsRepo interface {
	InsertDeal(ctx context.Context, tx pgx.Tx, d *Deal) error
	LockDeal(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Deal, error)
	SetDealStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status DealStatus, completedAt *time.Time) error
	DealsByUser(ctx context.Context, userID int64, limit int) ([]Deal, error)
	StaleDealIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// LedgerAPI описывает операции леджера, которые нужны координатору.
type LedgerAPI interface {
	Debit(ctx context.Context, tx pgx.Tx, account ledger.Account, currency common.Currency, amount decimal.Decimal) error
	Credit(ctx context.Context, tx pgx.Tx, account ledger.Account, currency common.Currency, amount decimal.Decimal) error
	Record(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, from, to ledger.Account, currency common.Currency, amount decimal.Decimal, typ ledger.EntryType, status ledger.EntryStatus) (*ledger.PaymentTransaction, error)
	Transfer(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, from, to ledger.Account, currency common.Currency, amount decimal.Decimal, typ ledger.EntryType) (*ledger.PaymentTransaction, error)
	Entry(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*ledger.PaymentTransaction, error)
	Confirm(ctx context.Context, tx pgx.Tx, id uuid.UUID, blockchainTxID *string) error
	Fail(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	EntriesByDeal(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) ([]ledger.PaymentTransaction, error)
	HasEntries(ctx context.Context, tx pgx.Tx, dealID uuid.UUID) (bool, error)
}

// Splitter считает разбиение цены на долю продавца и комиссию.
type Splitter interface {
	Split(ctx context.Context, tx pgx.Tx, currency common.Currency, gross decimal.Decimal) (commission.Split, error)
}

// Notifier уведомляет участников о завершённой сделке.
// Вызывается после коммита; ошибки уведомлений на сделку не влияют.
type Notifier interface {
	DealCompleted(deal *Deal, offer *Offer)
}

// DealService — координатор сделок.
type DealService struct {
	runner   postgres.TxRunner
	offers   OffersRepo
	deals    DealsRepo
	items    ItemStore
	ledger   LedgerAPI
	split    Splitter
	notifier Notifier // может быть nil
}

// NewDealService создаёт координатор сделок.
func NewDealService(runner postgres.TxRunner, offers OffersRepo, deals DealsRepo, itemStore ItemStore, led LedgerAPI, split Splitter, notifier Notifier) *DealService {
	return &DealService{
		runner:   runner,
		offers:   offers,
		deals:    deals,
		items:    itemStore,
		ledger:   led,
		split:    split,
		notifier: notifier,
	}
}

// InitiateDeal регистрирует сделку покупателя по лоту и сразу запускает
// расчёт. Две фазы, две транзакции БД:
//
//  1. Под блокировкой лота проверяются предусловия и вставляется
//     PENDING-сделка — по лоту может висеть только одна.
//  2. settle выполняет все денежные шаги одной транзакцией.
//
// Если расчёт сорвался, денежная транзакция откатывается целиком,
// а сделка отдельно помечается FAILED: баланс не тронут, лот остаётся
// ACTIVE, предмет — заблокированным под лотом.
func (s *DealService) InitiateDeal(ctx context.Context, offerID, buyerID int64) (*Deal, error) {
	now := time.Now()
	var deal *Deal

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		o, err := s.offers.LockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if o.Status != OfferActive || o.Expired(now) {
			return common.ErrOfferNotActive
		}
		if buyerID == o.SellerID {
			return common.ErrSelfTrade
		}
		pending, err := s.offers.HasPendingDeal(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if pending {
			return common.ErrDealInProgress
		}

		deal = &Deal{
			ID:       uuid.New(),
			OfferID:  o.ID,
			BuyerID:  buyerID,
			SellerID: o.SellerID,
			Status:   DealPending,
		}
		return s.deals.InsertDeal(ctx, tx, deal)
	})
	if err != nil {
		return nil, err
	}

	completed, offer, err := s.settle(ctx, deal.ID)
	if err != nil {
		s.markDealFailed(ctx, deal)
		return deal, err
	}

	if completed {
		deal.Status = DealCompleted
		s.notify(deal, offer)
	}
	return deal, nil
}

// settle выполняет денежные шаги сделки одной транзакцией БД.
// Возвращает completed=false для он-чейн валюты: деньги покупателя уже
// в эскроу, но сделка ждёт подтверждения сети через ConfirmPayment.
func (s *DealService) settle(ctx context.Context, dealID uuid.UUID) (completed bool, offer *Offer, err error) {
	now := time.Now()

	err = s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		d, err := s.deals.LockDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if d.Status != DealPending {
			return common.ErrInvalidState
		}

		// Перечитываем лот под блокировкой: он мог истечь, отмениться
		// или уйти другому покупателю между фазами
		o, err := s.offers.LockOffer(ctx, tx, d.OfferID)
		if err != nil {
			return err
		}
		if o.Status != OfferActive || o.Expired(now) {
			return common.ErrOfferNotActive
		}

		sp, err := s.split.Split(ctx, tx, o.Currency, o.Price)
		if err != nil {
			return err
		}

		buyer := ledger.UserAccount(d.BuyerID)

		// Дебет покупателя — первая денежная операция.
		// Нехватка средств обрывает расчёт до любых других движений.
		if err := s.ledger.Debit(ctx, tx, buyer, o.Currency, o.Price); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, ledger.AccountEscrow, o.Currency, o.Price); err != nil {
			return err
		}

		if o.Currency.OnChain() {
			// Он-чейн валюта: записи остаются PENDING до подтверждения
			// сети, выплаты из эскроу не выполняются, лот не закрывается
			if _, err := s.ledger.Record(ctx, tx, d.ID, buyer, ledger.AccountEscrow, o.Currency, o.Price, ledger.EntryBuyerToContract, ledger.EntryPending); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, tx, d.ID, ledger.AccountEscrow, s.sellerAccount(o), o.Currency, sp.NetToSeller, ledger.EntryContractToSeller, ledger.EntryPending); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, tx, d.ID, ledger.AccountEscrow, ledger.AccountHouse, o.Currency, sp.Fee, ledger.EntryFee, ledger.EntryPending); err != nil {
				return err
			}
			offer = o
			return nil
		}

		if _, err := s.ledger.Record(ctx, tx, d.ID, buyer, ledger.AccountEscrow, o.Currency, o.Price, ledger.EntryBuyerToContract, ledger.EntryConfirmed); err != nil {
			return err
		}
		if err := s.payout(ctx, tx, d.ID, s.sellerAccount(o), o.Currency, sp.NetToSeller, ledger.EntryContractToSeller); err != nil {
			return err
		}
		if err := s.payout(ctx, tx, d.ID, ledger.AccountHouse, o.Currency, sp.Fee, ledger.EntryFee); err != nil {
			return err
		}

		if err := s.completeDeal(ctx, tx, d, o, now); err != nil {
			return err
		}
		completed = true
		offer = o
		return nil
	})
	return completed, offer, err
}

// completeDeal — общий хвост успешного расчёта: содержимое пакета,
// передача владения, разблокировка, сверка леджера и закрытие
// лота со сделкой. Вызывается внутри денежной транзакции.
func (s *DealService) completeDeal(ctx context.Context, tx pgx.Tx, d *Deal, o *Offer, now time.Time) error {
	if o.ItemType == items.TypePackage {
		if err := s.deliverPackage(ctx, tx, d, o); err != nil {
			return err
		}
	}

	if err := s.items.TransferOwnership(ctx, tx, o.ItemRef(), d.BuyerID); err != nil {
		return err
	}
	if err := s.items.Unlock(ctx, tx, o.ItemRef(), o.LockToken); err != nil {
		return err
	}

	// Сверка перед фиксацией: выплаты обязаны сходиться с ценой.
	// Расхождение — программная ошибка, транзакция откатится целиком.
	entries, err := s.ledger.EntriesByDeal(ctx, tx, d.ID)
	if err != nil {
		return err
	}
	if err := ledger.VerifyConservation(entries, o.Price); err != nil {
		return fmt.Errorf("deal %s: %w", d.ID, err)
	}

	if err := s.offers.CloseOffer(ctx, tx, o.ID, OfferCompleted); err != nil {
		return err
	}
	return s.deals.SetDealStatus(ctx, tx, d.ID, DealCompleted, &now)
}

// deliverPackage зачисляет покупателю содержимое пакета ресурсов.
// Ресурсы эмитируются системным счётом, в сверку цены не входят.
func (s *DealService) deliverPackage(ctx context.Context, tx pgx.Tx, d *Deal, o *Offer) error {
	contents, err := s.items.Contents(ctx, tx, o.ItemID)
	if err != nil {
		return err
	}
	buyer := ledger.UserAccount(d.BuyerID)
	if err := s.ledger.Credit(ctx, tx, buyer, contents.Resource, contents.Amount); err != nil {
		return err
	}
	_, err = s.ledger.Record(ctx, tx, d.ID, ledger.AccountSystem, buyer, contents.Resource, contents.Amount, ledger.EntryResourceTransfer, ledger.EntryConfirmed)
	return err
}

// payout выплачивает долю из эскроу. Нулевая сумма (комиссия усеклась
// в ноль) фиксируется записью без движения денег.
func (s *DealService) payout(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, to ledger.Account, currency common.Currency, amount decimal.Decimal, typ ledger.EntryType) error {
	if amount.Sign() > 0 {
		_, err := s.ledger.Transfer(ctx, tx, dealID, ledger.AccountEscrow, to, currency, amount, typ)
		return err
	}
	_, err := s.ledger.Record(ctx, tx, dealID, ledger.AccountEscrow, to, currency, amount, typ, ledger.EntryConfirmed)
	return err
}

// sellerAccount возвращает счёт получателя выручки:
// для системных лотов это касса площадки.
func (s *DealService) sellerAccount(o *Offer) ledger.Account {
	if o.SellerID == SystemSellerID {
		return ledger.AccountHouse
	}
	return ledger.UserAccount(o.SellerID)
}

// ConfirmPayment завершает он-чейн сделку после подтверждения сети.
// Вызывается вебхуком/поллером по id платёжной записи BUYER_TO_CONTRACT.
// Если лот успели закрыть, пока сделка ждала сеть, деньги возвращаются
// покупателю, а сделка помечается FAILED.
func (s *DealService) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, blockchainTxID string) (*Deal, error) {
	now := time.Now()
	var (
		deal      *Deal
		offer     *Offer
		completed bool
	)

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		e, err := s.ledger.Entry(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if e.Type != ledger.EntryBuyerToContract || e.Status != ledger.EntryPending {
			return common.ErrInvalidState
		}

		d, err := s.deals.LockDeal(ctx, tx, e.DealID)
		if err != nil {
			return err
		}
		if d.Status != DealPending {
			return common.ErrInvalidState
		}
		o, err := s.offers.LockOffer(ctx, tx, d.OfferID)
		if err != nil {
			return err
		}

		// Деньги в эскроу дошли в любом случае — подтверждаем поступление
		if err := s.ledger.Confirm(ctx, tx, e.ID, &blockchainTxID); err != nil {
			return err
		}

		if o.Status != OfferActive || o.Expired(now) {
			deal = d
			return s.refundDeal(ctx, tx, d, e)
		}

		// Выплачиваем отложенные PENDING-доли из эскроу
		entries, err := s.ledger.EntriesByDeal(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		for _, pe := range entries {
			if pe.ID == e.ID || pe.Status != ledger.EntryPending {
				continue
			}
			if pe.Amount.Sign() > 0 {
				if err := s.ledger.Debit(ctx, tx, pe.From, pe.Currency, pe.Amount); err != nil {
					return err
				}
				if err := s.ledger.Credit(ctx, tx, pe.To, pe.Currency, pe.Amount); err != nil {
					return err
				}
			}
			if err := s.ledger.Confirm(ctx, tx, pe.ID, nil); err != nil {
				return err
			}
		}

		if err := s.completeDeal(ctx, tx, d, o, now); err != nil {
			return err
		}
		d.Status = DealCompleted
		deal, offer, completed = d, o, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		s.notify(deal, offer)
	}
	log.WithFields(log.Fields{
		"payment_id": paymentID,
		"deal_id":    deal.ID,
		"completed":  completed,
	}).Info("Он-чейн платёж подтверждён")
	return deal, nil
}

// FailPayment отменяет он-чейн сделку, платёж которой не прошёл в сети.
// Эскроу-дебет возвращается покупателю, лот остаётся ACTIVE.
func (s *DealService) FailPayment(ctx context.Context, paymentID uuid.UUID) (*Deal, error) {
	var deal *Deal

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		e, err := s.ledger.Entry(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if e.Type != ledger.EntryBuyerToContract || e.Status != ledger.EntryPending {
			return common.ErrInvalidState
		}
		d, err := s.deals.LockDeal(ctx, tx, e.DealID)
		if err != nil {
			return err
		}
		if d.Status != DealPending {
			return common.ErrInvalidState
		}

		if err := s.ledger.Fail(ctx, tx, e.ID); err != nil {
			return err
		}
		if err := s.refundDeal(ctx, tx, d, e); err != nil {
			return err
		}
		deal = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"payment_id": paymentID, "deal_id": deal.ID}).Warn("Он-чейн платёж не прошёл, сделка отменена")
	return deal, nil
}

// refundDeal возвращает эскроу-дебет покупателю, помечает остальные
// PENDING-записи FAILED и завершает сделку статусом FAILED.
func (s *DealService) refundDeal(ctx context.Context, tx pgx.Tx, d *Deal, paid *ledger.PaymentTransaction) error {
	entries, err := s.ledger.EntriesByDeal(ctx, tx, d.ID)
	if err != nil {
		return err
	}
	for _, pe := range entries {
		if pe.Status == ledger.EntryPending && pe.ID != paid.ID {
			if err := s.ledger.Fail(ctx, tx, pe.ID); err != nil {
				return err
			}
		}
	}

	if _, err := s.ledger.Transfer(ctx, tx, d.ID, ledger.AccountEscrow, ledger.UserAccount(d.BuyerID), paid.Currency, paid.Amount, ledger.EntryRefund); err != nil {
		return err
	}

	if err := s.deals.SetDealStatus(ctx, tx, d.ID, DealFailed, nil); err != nil {
		return err
	}
	d.Status = DealFailed
	return nil
}

// CancelStaleDeals отменяет PENDING-сделки старше olderThan, по которым
// расчёт так и не начался (нет платёжных записей). Такие сделки остаются
// после сбоя между регистрацией и расчётом и блокируют лот.
// Сделки с записями не трогаем: они ждут ConfirmPayment/FailPayment.
func (s *DealService) CancelStaleDeals(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	ids, err := s.deals.StaleDealIDs(ctx, cutoff, 200)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
			d, err := s.deals.LockDeal(ctx, tx, id)
			if err != nil {
				return err
			}
			if d.Status != DealPending {
				return nil
			}
			has, err := s.ledger.HasEntries(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			if has {
				return nil
			}
			if err := s.deals.SetDealStatus(ctx, tx, d.ID, DealCancelled, nil); err != nil {
				return err
			}
			cancelled++
			return nil
		})
		if err != nil {
			log.WithError(err).WithField("deal_id", id).Error("Не удалось отменить зависшую сделку")
		}
	}

	if cancelled > 0 {
		log.WithField("count", cancelled).Info("Зависшие сделки отменены")
	}
	return cancelled, nil
}

// GetUserDeals возвращает сделки пользователя. Только чтение.
func (s *DealService) GetUserDeals(ctx context.Context, userID int64, limit int) ([]Deal, error) {
	return s.deals.DealsByUser(ctx, userID, limit)
}

// markDealFailed помечает сделку FAILED отдельной транзакцией —
// денежная уже откатилась.
func (s *DealService) markDealFailed(ctx context.Context, d *Deal) {
	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return s.deals.SetDealStatus(ctx, tx, d.ID, DealFailed, nil)
	})
	if err != nil {
		log.WithError(err).WithField("deal_id", d.ID).Error("Не удалось пометить сделку FAILED")
		return
	}
	d.Status = DealFailed
}

func (s *DealService) notify(deal *Deal, offer *Offer) {
	if s.notifier == nil {
		return
	}
	s.notifier.DealCompleted(deal, offer)
}
