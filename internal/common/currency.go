// Package common — currency.go описывает закрытый перечень валют игры.
// Движок сделок работает только с этими значениями: произвольные строки
// отклоняются на границе API, внутри ядра валюта всегда валидна.
package common

import "github.com/shopspring/decimal"

// Currency — валюта расчёта по лоту.
type Currency string

const (
	// CurrencyStardust — мягкая игровая валюта (звёздная пыль)
	CurrencyStardust Currency = "stardust"
	// CurrencyDarkMatter — мягкая игровая валюта (тёмная материя)
	CurrencyDarkMatter Currency = "darkMatter"
	// CurrencyTgStars — Telegram Stars
	CurrencyTgStars Currency = "tgStars"
	// CurrencyTonToken — токен в сети TON, подтверждается он-чейн
	CurrencyTonToken Currency = "tonToken"
)

// Currencies — все поддерживаемые валюты в фиксированном порядке.
var Currencies = []Currency{
	CurrencyStardust,
	CurrencyDarkMatter,
	CurrencyTgStars,
	CurrencyTonToken,
}

// ParseCurrency проверяет строку по закрытому перечню.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !c.Valid() {
		return "", ErrUnsupportedCurrency
	}
	return c, nil
}

// Valid сообщает, входит ли валюта в перечень.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyStardust, CurrencyDarkMatter, CurrencyTgStars, CurrencyTonToken:
		return true
	}
	return false
}

// Scale — число знаков после запятой, с которым валюта хранится и считается.
// Stars всегда целые, токен — 8 знаков, мягкие валюты — 2.
func (c Currency) Scale() int32 {
	switch c {
	case CurrencyTgStars:
		return 0
	case CurrencyTonToken:
		return 8
	default:
		return 2
	}
}

// OnChain сообщает, требует ли валюта подтверждения в блокчейне.
// Для таких валют платёжные записи создаются в статусе PENDING.
func (c Currency) OnChain() bool {
	return c == CurrencyTonToken
}

// Truncate усекает сумму до шкалы валюты. Именно усечение, а не округление:
// комиссия не должна вырасти за счёт округления вверх, а сумма
// fee + netToSeller обязана сходиться с ценой копейка в копейку.
func (c Currency) Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(c.Scale())
}
