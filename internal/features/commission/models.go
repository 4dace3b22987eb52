// Package commission считает комиссию площадки с каждой сделки.
// models.go описывает конфигурацию ставок и результат разбиения цены.
package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Commission — ставка комиссии для одной валюты.
// Редактируется внешним админским процессом, движок её только читает.
type Commission struct {
	Currency    common.Currency
	Rate        decimal.Decimal // доля 0..1
	Description *string
	UpdatedAt   time.Time
}

// Split — разбиение цены лота: сколько получает продавец и сколько площадка.
// Инвариант: NetToSeller + Fee == цена, без остатка.
type Split struct {
	NetToSeller decimal.Decimal
	Fee         decimal.Decimal
}
