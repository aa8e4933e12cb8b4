// Package amount converts between user-typed coin amounts and atomic units.
package amount

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the native asset.
const Decimals = 8

// ErrInvalidAmount is returned for any text that does not parse to an amount.
var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts text such as "1.25" into atomic units. The fraction may not
// carry more than Decimals digits.
func Parse(text string) (uint64, error) {
	text = strings.TrimSpace(text)
	whole, frac, hasFrac := strings.Cut(text, ".")
	if !digitsOnly(whole) || (hasFrac && !digitsOnly(frac)) {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.Exponent() < -Decimals {
		return 0, ErrInvalidAmount
	}
	units := d.Shift(Decimals).BigInt()
	if !units.IsUint64() {
		return 0, ErrInvalidAmount
	}
	return units.Uint64(), nil
}

// Format renders atomic units with all Decimals fractional digits.
func Format(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -Decimals).StringFixed(Decimals)
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
