package service

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		reason string
	}{
		{"10", 1000, ""},
		{"10.5", 1050, ""},
		{"10.50", 1050, ""},
		{" 0.01 ", 1, ""},
		{"1.000", 100, ""},
		{"1.005", 0, ReasonInvalidPrecision},
		{"0", 0, ReasonInvalidAmount},
		{"0.00", 0, ReasonInvalidAmount},
		{"-5", 0, ReasonInvalidAmount},
		{"abc", 0, ReasonInvalidAmount},
		{"", 0, ReasonInvalidAmount},
		{"99999999999999999999", 0, ReasonInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCents(tt.in)
			if tt.reason != "" {
				requireRejected(t, err, tt.reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCentsAllowZero(t *testing.T) {
	got, err := ParseCentsAllowZero("0")
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = ParseCentsAllowZero("12.34")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got)

	_, err = ParseCentsAllowZero("-0.01")
	requireRejected(t, err, ReasonInvalidAmount)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "19.80", FormatCents(1980))
	assert.Equal(t, "-10.10", FormatCents(-1010))
}

func TestCentsArithmeticOverflow(t *testing.T) {
	_, err := addCents(math.MaxInt64, 1)
	assert.True(t, errors.Is(err, ErrArithmeticOverflow))

	_, err = subCents(math.MinInt64, 1)
	assert.True(t, errors.Is(err, ErrArithmeticOverflow))

	_, err = mulCents(math.MaxInt64/2+1, 2)
	assert.True(t, errors.Is(err, ErrArithmeticOverflow))

	v, err := addCents(40, -50)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), v)

	v, err = mulCents(1000, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99000), v)
}
