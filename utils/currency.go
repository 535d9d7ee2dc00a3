package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencySymbol prefixes formatted amounts.
var CurrencySymbol = "Rp"

// ErrAmountOutOfRange is returned when an amount does not fit in int64 minor units.
var ErrAmountOutOfRange = errors.New("amount out of range")

// ToDecimal converts minor units (cents) to a decimal amount.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ToMinor converts a decimal amount to minor units. Amounts with more than
// two decimal places are rejected rather than rounded.
func ToMinor(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Truncate(2)) {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d.String())
	}
	return fitMinor(d.Shift(2))
}

// MulMinor returns unit × qty and fails instead of wrapping.
func MulMinor(unit int64, qty int) (int64, error) {
	return fitMinor(decimal.NewFromInt(unit).Mul(decimal.NewFromInt(int64(qty))))
}

// AddMinor returns the sum of amounts and fails instead of wrapping.
func AddMinor(amounts ...int64) (int64, error) {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(decimal.NewFromInt(a))
	}
	return fitMinor(sum)
}

func fitMinor(d decimal.Decimal) (int64, error) {
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, d.String())
	}
	return d.IntPart(), nil
}

// ParseAmount parses "15000.50" into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return ToMinor(d)
}

// FormatCurrency formats minor units with thousand separators.
// Example: 1500050 -> "Rp 15.000,50"
func FormatCurrency(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	parts := strings.SplitN(ToDecimal(minor).StringFixed(2), ".", 2)
	integerPart := parts[0]

	var groups []string
	for i := len(integerPart); i > 0; i -= 3 {
		start := i - 3
		if start < 0 {
			start = 0
		}
		groups = append([]string{integerPart[start:i]}, groups...)
	}
	return fmt.Sprintf("%s %s%s,%s", CurrencySymbol, sign, strings.Join(groups, "."), parts[1])
}
