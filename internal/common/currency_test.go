package common

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	for _, c := range Currencies {
		got, err := ParseCurrency(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCurrency("gold")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = ParseCurrency("")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestCurrencyScale(t *testing.T) {
	assert.Equal(t, int32(2), CurrencyStardust.Scale())
	assert.Equal(t, int32(2), CurrencyDarkMatter.Scale())
	assert.Equal(t, int32(0), CurrencyTgStars.Scale())
	assert.Equal(t, int32(8), CurrencyTonToken.Scale())
}

func TestCurrencyTruncate(t *testing.T) {
	d := decimal.RequireFromString("12.3456789")

	assert.Equal(t, "12.34", CurrencyStardust.Truncate(d).String())
	assert.Equal(t, "12", CurrencyTgStars.Truncate(d).String())
	assert.Equal(t, "12.3456789", CurrencyTonToken.Truncate(d).String())

	// усечение, а не округление к ближайшему
	assert.Equal(t, "0.99", CurrencyStardust.Truncate(decimal.RequireFromString("0.999")).String())
}

func TestCurrencyOnChain(t *testing.T) {
	assert.True(t, CurrencyTonToken.OnChain())
	assert.False(t, CurrencyStardust.OnChain())
	assert.False(t, CurrencyTgStars.OnChain())
}
