// Package common — errors.go определяет ошибки маркетплейса,
// которые используются во всех модулях движка сделок.
// Обработчики сопоставляют их через errors.Is и отдают клиенту
// стабильный код вместо текста сообщения.
package common

import (
	"errors"
	"net/http"
)

// Ошибки валидации (отклоняются до любого изменения состояния)
var (
	// ErrInvalidOfferData — некорректные данные лота: цена <= 0, неверный TTL и т.п.
	ErrInvalidOfferData = errors.New("invalid offer data")
	// ErrUnsupportedCurrency — валюта вне закрытого перечня
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrUnsupportedItemType — тип предмета вне перечня galaxy/artifact/package
	ErrUnsupportedItemType = errors.New("unsupported item type")
	// ErrInvalidAmount — недопустимая сумма денежной операции
	ErrInvalidAmount = errors.New("invalid amount")
)

// Ошибки конфликтов (проигранная гонка — клиент может перечитать список и повторить)
var (
	// ErrItemLocked — на предмет уже есть активный лот
	ErrItemLocked = errors.New("item is already locked by an active offer")
	// ErrOfferNotActive — лот уже закрыт, отменён или истёк
	ErrOfferNotActive = errors.New("offer is not active")
	// ErrNotOwner — запрос от пользователя, который не владеет лотом/предметом
	ErrNotOwner = errors.New("requester is not the owner")
	// ErrInvalidState — недопустимый переход статуса (например, повторная отмена)
	ErrInvalidState = errors.New("invalid state transition")
	// ErrSelfTrade — покупатель и продавец совпадают
	ErrSelfTrade = errors.New("buyer and seller are the same user")
	// ErrDealInProgress — по лоту уже идёт расчёт другой сделки
	ErrDealInProgress = errors.New("another deal is pending for this offer")
)

// Ошибки денег (всегда откатывают расчёт целиком, частичных списаний не бывает)
var (
	// ErrInsufficientFunds — на счёте меньше, чем цена лота
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrCommissionNotConfigured — для валюты не задана ставка комиссии.
	// Движок не имеет права молча считать её нулевой.
	ErrCommissionNotConfigured = errors.New("commission rate is not configured")
)

// Ошибки "не найдено"
var (
	// ErrOfferNotFound — лот не существует
	ErrOfferNotFound = errors.New("offer not found")
	// ErrItemNotFound — предмет не существует
	ErrItemNotFound = errors.New("item not found")
	// ErrDealNotFound — сделка не существует
	ErrDealNotFound = errors.New("deal not found")
	// ErrPaymentNotFound — платёжная запись не существует
	ErrPaymentNotFound = errors.New("payment transaction not found")
)

// ErrorCode возвращает стабильный строковый код ошибки для JSON-ответа.
// Коды не меняются между релизами — на них завязаны клиенты.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOfferData):
		return "INVALID_OFFER_DATA"
	case errors.Is(err, ErrUnsupportedCurrency):
		return "UNSUPPORTED_CURRENCY"
	case errors.Is(err, ErrUnsupportedItemType):
		return "UNSUPPORTED_ITEM_TYPE"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrItemLocked):
		return "ITEM_ALREADY_LOCKED"
	case errors.Is(err, ErrOfferNotActive):
		return "OFFER_NOT_ACTIVE"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrSelfTrade):
		return "SELF_TRADE"
	case errors.Is(err, ErrDealInProgress):
		return "DEAL_IN_PROGRESS"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrCommissionNotConfigured):
		return "COMMISSION_NOT_CONFIGURED"
	case errors.Is(err, ErrOfferNotFound):
		return "OFFER_NOT_FOUND"
	case errors.Is(err, ErrItemNotFound):
		return "ITEM_NOT_FOUND"
	case errors.Is(err, ErrDealNotFound):
		return "DEAL_NOT_FOUND"
	case errors.Is(err, ErrPaymentNotFound):
		return "PAYMENT_NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus переводит ошибку движка в HTTP-статус.
// Валидация — 400, "не найдено" — 404, конфликты — 409, деньги — 402.
// Всё остальное — 500 (детали остаются в логах).
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidOfferData),
		errors.Is(err, ErrUnsupportedCurrency),
		errors.Is(err, ErrUnsupportedItemType),
		errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrOfferNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrDealNotFound),
		errors.Is(err, ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrItemLocked),
		errors.Is(err, ErrOfferNotActive),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrDealInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrCommissionNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
