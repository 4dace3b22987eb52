// Package market — offers.go содержит жизненный цикл лота:
// создание с блокировкой предмета, отмена, уборка истёкших.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/db/postgres"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
)

// OffersRepo описывает контракт хранилища лотов, используемый сервисами.
type OffersRepo interface {
	InsertOffer(ctx context.Context, tx pgx.Tx, o *Offer) error
	GetOffer(ctx context.Context, offerID int64) (*Offer, error)
	LockOffer(ctx context.Context, tx pgx.Tx, offerID int64) (*Offer, error)
	CloseOffer(ctx context.Context, tx pgx.Tx, offerID int64, status OfferStatus) error
	ListActive(ctx context.Context, f ListFilter) ([]Offer, error)
	ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error)
	HasPendingDeal(ctx context.Context, tx pgx.Tx, offerID int64) (bool, error)
}

// ItemStore описывает контракт хранилища предметов.
type ItemStore interface {
	Get(ctx context.Context, tx pgx.Tx, ref items.Ref) (*items.Item, error)
	TryLock(ctx context.Context, tx pgx.Tx, ref items.Ref) (items.LockToken, error)
	Unlock(ctx context.Context, tx pgx.Tx, ref items.Ref, token items.LockToken) error
	TransferOwnership(ctx context.Context, tx pgx.Tx, ref items.Ref, newOwnerID int64) error
	Contents(ctx context.Context, tx pgx.Tx, packageID int64) (*items.PackageContents, error)
}

// OfferService управляет жизненным циклом лотов.
type OfferService struct {
	runner postgres.TxRunner
	repo   OffersRepo
	items  ItemStore
	maxTTL time.Duration
}

// NewOfferService создаёт сервис лотов.
// maxTTL ограничивает срок жизни лота сверху (0 — без ограничения).
func NewOfferService(runner postgres.TxRunner, repo OffersRepo, itemStore ItemStore, maxTTL time.Duration) *OfferService {
	return &OfferService{runner: runner, repo: repo, items: itemStore, maxTTL: maxTTL}
}

// CreateOfferInput — параметры нового лота.
type CreateOfferInput struct {
	SellerID  int64
	ItemType  items.ItemType
	ItemID    int64
	Price     decimal.Decimal
	Currency  common.Currency
	OfferType OfferType
	TTL       time.Duration // 0 — бессрочный лот
}

func (in *CreateOfferInput) validate(maxTTL time.Duration) error {
	if !in.ItemType.Valid() {
		return common.ErrUnsupportedItemType
	}
	if !in.Currency.Valid() {
		return common.ErrUnsupportedCurrency
	}
	if in.Price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", common.ErrInvalidOfferData)
	}
	// Цена не может быть точнее шкалы валюты: 0.001 Stars не существует
	if !in.Currency.Truncate(in.Price).Equal(in.Price) {
		return fmt.Errorf("%w: price exceeds currency scale", common.ErrInvalidOfferData)
	}
	if in.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", common.ErrInvalidOfferData)
	}
	if maxTTL > 0 && in.TTL > maxTTL {
		return fmt.Errorf("%w: ttl exceeds maximum %s", common.ErrInvalidOfferData, maxTTL)
	}
	switch in.OfferType {
	case OfferP2P:
		if in.SellerID == SystemSellerID {
			return fmt.Errorf("%w: p2p offer requires a seller", common.ErrInvalidOfferData)
		}
	case OfferSystem:
		if in.SellerID != SystemSellerID {
			return fmt.Errorf("%w: system offer cannot have a user seller", common.ErrInvalidOfferData)
		}
	default:
		return fmt.Errorf("%w: unknown offer type %q", common.ErrInvalidOfferData, in.OfferType)
	}
	return nil
}

// CreateOffer выставляет предмет на продажу.
// Блокировка предмета и вставка лота коммитятся одной транзакцией:
// из двух продавцов одного предмета выигрывает ровно один.
func (s *OfferService) CreateOffer(ctx context.Context, in CreateOfferInput) (*Offer, error) {
	if err := in.validate(s.maxTTL); err != nil {
		return nil, err
	}

	ref := items.Ref{Type: in.ItemType, ID: in.ItemID}
	var offer *Offer

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		it, err := s.items.Get(ctx, tx, ref)
		if err != nil {
			return err
		}
		// P2P-лот может выставить только владелец предмета
		if in.OfferType == OfferP2P && (it.OwnerID == nil || *it.OwnerID != in.SellerID) {
			return common.ErrNotOwner
		}

		token, err := s.items.TryLock(ctx, tx, ref)
		if err != nil {
			return err
		}

		var expiresAt *time.Time
		if in.TTL > 0 {
			t := time.Now().Add(in.TTL)
			expiresAt = &t
		}

		offer = &Offer{
			SellerID:     in.SellerID,
			ItemType:     in.ItemType,
			ItemID:       in.ItemID,
			Price:        in.Price,
			Currency:     in.Currency,
			Status:       OfferActive,
			OfferType:    in.OfferType,
			IsItemLocked: true,
			LockToken:    token,
			ExpiresAt:    expiresAt,
		}
		return s.repo.InsertOffer(ctx, tx, offer)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"offer_id": offer.ID,
		"seller":   offer.SellerID,
		"item":     fmt.Sprintf("%s#%d", offer.ItemType, offer.ItemID),
		"price":    offer.Price.String(),
		"currency": offer.Currency,
	}).Info("Лот выставлен")

	return offer, nil
}

// CancelOffer снимает лот с продажи. Доступна только продавцу
// и только пока лот ACTIVE и по нему не идёт расчёт.
func (s *OfferService) CancelOffer(ctx context.Context, offerID, requesterID int64) (*Offer, error) {
	var offer *Offer

	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		o, err := s.repo.LockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if o.Status != OfferActive {
			return common.ErrInvalidState
		}
		if o.SellerID != requesterID {
			return common.ErrNotOwner
		}
		pending, err := s.repo.HasPendingDeal(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if pending {
			return common.ErrDealInProgress
		}

		if err := s.repo.CloseOffer(ctx, tx, o.ID, OfferCancelled); err != nil {
			return err
		}
		if err := s.items.Unlock(ctx, tx, o.ItemRef(), o.LockToken); err != nil {
			return err
		}

		o.Status = OfferCancelled
		o.IsItemLocked = false
		offer = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"offer_id": offerID, "seller": requesterID}).Info("Лот снят с продажи")
	return offer, nil
}

// ExpireOffers закрывает активные лоты с вышедшим сроком и возвращает
// число закрытых. Запускается планировщиком; безопасна к параллельному
// расчёту: каждый лот перепроверяется под блокировкой строки, а лоты
// с незакрытой сделкой пропускаются — их судьбу решает расчёт.
func (s *OfferService) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ExpiredCandidates(ctx, now, 500)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
			o, err := s.repo.LockOffer(ctx, tx, id)
			if err != nil {
				return err
			}
			// Пока мы ждали блокировку, лот могли купить или отменить
			if o.Status != OfferActive || !o.Expired(now) {
				return nil
			}
			pending, err := s.repo.HasPendingDeal(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			if pending {
				return nil
			}

			if err := s.repo.CloseOffer(ctx, tx, o.ID, OfferExpired); err != nil {
				return err
			}
			if err := s.items.Unlock(ctx, tx, o.ItemRef(), o.LockToken); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			log.WithError(err).WithField("offer_id", id).Error("Не удалось закрыть истёкший лот")
		}
	}

	if expired > 0 {
		log.WithField("count", expired).Info("Истёкшие лоты закрыты")
	}
	return expired, nil
}

// GetOffer возвращает лот по id.
func (s *OfferService) GetOffer(ctx context.Context, offerID int64) (*Offer, error) {
	return s.repo.GetOffer(ctx, offerID)
}

// ListOffers возвращает активные лоты.
func (s *OfferService) ListOffers(ctx context.Context, f ListFilter) ([]Offer, error) {
	return s.repo.ListActive(ctx, f)
}
