package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		currency string
		want     string
	}{
		{name: "two decimal currency", amount: 1999, currency: "USD", want: "19.99"},
		{name: "lower case currency", amount: 5, currency: "eur", want: "0.05"},
		{name: "zero decimal currency", amount: 500, currency: "JPY", want: "500"},
		{name: "three decimal currency", amount: 1234, currency: "KWD", want: "1.234"},
		{name: "zero amount", amount: 0, currency: "USD", want: "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.amount, tt.currency))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		currency string
		want     int64
		wantErr  error
	}{
		{name: "decimal string", value: "19.99", currency: "USD", want: 1999},
		{name: "whole units", value: "10", currency: "USD", want: 1000},
		{name: "zero decimal currency", value: "500", currency: "JPY", want: 500},
		{name: "too many decimals", value: "1.999", currency: "USD", wantErr: ErrInvalidAmount},
		{name: "fraction of yen", value: "1.5", currency: "JPY", wantErr: ErrInvalidAmount},
		{name: "not a number", value: "abc", currency: "USD", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.value, tt.currency)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, ErrValidation)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmountInvertsFormatAmount(t *testing.T) {
	for _, currency := range []string{"USD", "JPY", "KWD"} {
		for _, amount := range []int64{0, 1, 99, 100, 1999, 123456789} {
			got, err := ParseAmount(FormatAmount(amount, currency), currency)
			require.NoError(t, err)
			assert.Equal(t, amount, got, "%d %s", amount, currency)
		}
	}
}

func TestAmountFromFloat(t *testing.T) {
	assert.Equal(t, int64(1999), AmountFromFloat(19.99, "BRL"))
	assert.Equal(t, int64(30), AmountFromFloat(0.3, "USD"))
	assert.Equal(t, 19.99, AmountToFloat(1999, "BRL"))
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, int64(200), PercentOf(10000, decimal.NewFromInt(2)))
	assert.Equal(t, int64(25), PercentOf(999, decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(0), PercentOf(0, decimal.NewFromInt(2)))
}

func TestValidateCurrency(t *testing.T) {
	supported := []string{"USD", "EUR"}

	cur, err := ValidateCurrency(supported, " usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", cur)

	_, err = ValidateCurrency(supported, "GBP")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
	require.ErrorIs(t, err, ErrValidation)

	_, err = ValidateCurrency(supported, "")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestValidateAmount(t *testing.T) {
	require.NoError(t, ValidateAmount(0))
	require.ErrorIs(t, ValidateAmount(-1), ErrInvalidAmount)
}
