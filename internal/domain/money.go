package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose minor unit is not 1/100 of the major unit.
var minorUnitExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

var hundred = decimal.NewFromInt(100)

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func MinorUnitExponent(currency string) int32 {
	if exp, ok := minorUnitExponents[NormalizeCurrency(currency)]; ok {
		return exp
	}

	return 2
}

// FormatAmount renders minor units as the decimal string providers expect on
// the wire, e.g. 1999 USD -> "19.99" and 500 JPY -> "500".
func FormatAmount(amount int64, currency string) string {
	exp := MinorUnitExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}

// ParseAmount converts a provider decimal string back into minor units. Values
// with more precision than the currency allows are rejected.
func ParseAmount(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	shifted := d.Shift(MinorUnitExponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has too many decimal places for %s", ErrInvalidAmount, value, currency)
	}

	return shifted.IntPart(), nil
}

// AmountFromFloat is only meant for SDKs that model money as float64.
func AmountFromFloat(value float64, currency string) int64 {
	return decimal.NewFromFloat(value).Shift(MinorUnitExponent(currency)).Round(0).IntPart()
}

func AmountToFloat(amount int64, currency string) float64 {
	return decimal.New(amount, -MinorUnitExponent(currency)).InexactFloat64()
}

// PercentOf returns percent% of amount rounded half away from zero.
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

func ValidateAmount(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	return nil
}

// ValidateCurrency normalizes currency and checks it against the supported list.
func ValidateCurrency(supported []string, currency string) (string, error) {
	cur := NormalizeCurrency(currency)
	if cur == "" || !slices.Contains(supported, cur) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	return cur, nil
}
