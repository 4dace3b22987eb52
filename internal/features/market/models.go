// Package market — движок сделок маркетплейса: лоты, сделки и их расчёт.
// models.go описывает статусы и структуры лота и сделки.
package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
)

// OfferStatus — статус лота. Лоты не удаляются, только закрываются статусом.
type OfferStatus string

const (
	OfferActive    OfferStatus = "ACTIVE"
	OfferCompleted OfferStatus = "COMPLETED"
	OfferCancelled OfferStatus = "CANCELLED"
	OfferExpired   OfferStatus = "EXPIRED"
)

// OfferType — кто продаёт: система или игрок.
type OfferType string

const (
	OfferSystem OfferType = "SYSTEM"
	OfferP2P    OfferType = "P2P"
)

// SystemSellerID — продавец системных лотов. Выручка по ним уходит в кассу.
const SystemSellerID int64 = 0

// Offer — лот: один предмет по фиксированной цене в одной валюте.
// Инвариант: на предмет существует не больше одного ACTIVE-лота,
// и предмет заблокирован ровно пока лот ACTIVE.
type Offer struct {
	ID           int64
	SellerID     int64
	ItemType     items.ItemType
	ItemID       int64
	Price        decimal.Decimal
	Currency     common.Currency
	Status       OfferStatus
	OfferType    OfferType
	IsItemLocked bool
	LockToken    items.LockToken // талон блокировки предмета, пустой после закрытия
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// Expired сообщает, истёк ли лот к моменту now.
// Проверяется при каждом расчёте, не дожидаясь уборщика.
func (o *Offer) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// ItemRef возвращает ссылку на предмет лота.
func (o *Offer) ItemRef() items.Ref {
	return items.Ref{Type: o.ItemType, ID: o.ItemID}
}

// DealStatus — статус сделки. Из терминального статуса переходов нет.
type DealStatus string

const (
	DealPending   DealStatus = "PENDING"
	DealCompleted DealStatus = "COMPLETED"
	DealFailed    DealStatus = "FAILED"
	DealCancelled DealStatus = "CANCELLED"
)

// Deal — одна попытка покупателя рассчитаться по лоту
// (market transaction). Лот переходит в COMPLETED, только когда ровно
// одна его сделка дошла до COMPLETED.
type Deal struct {
	ID          uuid.UUID
	OfferID     int64
	BuyerID     int64
	SellerID    int64
	Status      DealStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ListFilter — фильтры списка активных лотов.
type ListFilter struct {
	ItemType *items.ItemType
	Currency *common.Currency
	Limit    int
}
