// Package commission — calculator.go: чистая арифметика разбиения цены.
package commission

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// RateSource отдаёт ставку комиссии для валюты.
// Боевая реализация — Repository, в тестах — заглушка.
type RateSource interface {
	Rate(ctx context.Context, tx pgx.Tx, currency common.Currency) (decimal.Decimal, error)
}

// Calculator считает разбиение цены по настроенной ставке.
type Calculator struct {
	rates RateSource
}

// NewCalculator создаёт калькулятор комиссий.
func NewCalculator(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// Split читает ставку и разбивает цену внутри транзакции расчёта.
func (c *Calculator) Split(ctx context.Context, tx pgx.Tx, currency common.Currency, gross decimal.Decimal) (Split, error) {
	rate, err := c.rates.Rate(ctx, tx, currency)
	if err != nil {
		return Split{}, err
	}
	return ComputeSplit(currency, gross, rate)
}

// ComputeSplit разбивает валовую сумму на долю продавца и комиссию.
//
// Комиссия усекается до шкалы валюты (не банковское округление):
// так она не может стать отрицательной, а сумма всегда сходится точно:
// fee + netToSeller == gross.
func ComputeSplit(currency common.Currency, gross, rate decimal.Decimal) (Split, error) {
	if !currency.Valid() {
		return Split{}, common.ErrUnsupportedCurrency
	}
	if gross.Sign() <= 0 {
		return Split{}, fmt.Errorf("%w: gross amount must be positive", common.ErrInvalidOfferData)
	}
	if rate.Sign() < 0 || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Split{}, fmt.Errorf("%w: rate %s is out of [0,1]", common.ErrCommissionNotConfigured, rate)
	}

	fee := currency.Truncate(gross.Mul(rate))
	net := gross.Sub(fee)
	return Split{NetToSeller: net, Fee: fee}, nil
}
