package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseCents converts a decimal major-unit string ("12.5", "0.01") into
// positive minor units. More than two significant decimals is rejected.
func ParseCents(value string) (int64, error) {
	cents, err := parseCents(value)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, reject(ReasonInvalidAmount, "amount must be greater than zero")
	}
	return cents, nil
}

// ParseCentsAllowZero is ParseCents for fields where zero is meaningful, such
// as administrative balance overrides. Negative values are still rejected.
func ParseCentsAllowZero(value string) (int64, error) {
	cents, err := parseCents(value)
	if err != nil {
		return 0, err
	}
	if cents < 0 {
		return 0, reject(ReasonInvalidAmount, "amount must not be negative")
	}
	return cents, nil
}

func parseCents(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, reject(ReasonInvalidAmount, "amount is required")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, reject(ReasonInvalidAmount, "amount %q is not a number", value)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return 0, reject(ReasonInvalidPrecision, "amount must have at most 2 decimal places")
	}
	cents := amount.Mul(hundred)
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || cents.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, reject(ReasonInvalidAmount, "amount is out of range")
	}
	return cents.IntPart(), nil
}

// FormatCents renders minor units as a plain two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func addCents(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrArithmeticOverflow)
	}
	return a + b, nil
}

func subCents(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, fmt.Errorf("%d - %d: %w", a, b, ErrArithmeticOverflow)
	}
	return a - b, nil
}

func mulCents(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%d * %d: %w", a, b, ErrArithmeticOverflow)
	}
	return c, nil
}
