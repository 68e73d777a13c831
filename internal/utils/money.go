package utils

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNonPositiveAmount is returned for charges of zero or less.
var ErrNonPositiveAmount = errors.New("amount must be greater than zero")

// RoundMoney rounds to two decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinorUnits converts a major-unit amount to integer cents, rounding to the
// nearest cent. Zero and negative results are rejected.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2).Round(0)
	if !minor.IsPositive() {
		return 0, ErrNonPositiveAmount
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts integer cents back to a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ParseClientAmount reads a numeric amount received from a client.
func ParseClientAmount(value float64) decimal.Decimal {
	return RoundMoney(decimal.NewFromFloat(value))
}
