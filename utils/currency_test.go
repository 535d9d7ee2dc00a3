package utils

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"40", 4000, false},
		{"40.5", 4050, false},
		{"0.01", 1, false},
		{"61.00", 6100, false},
		{"10.005", 0, true},
		{"92233720368547758.07", math.MaxInt64, false},
		{"-92233720368547758.08", math.MinInt64, false},
		{"92233720368547758.08", 0, true},
		{"184467440737095516.17", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToMinor(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMinorOutOfRange(t *testing.T) {
	_, err := ToMinor(decimal.RequireFromString("184467440737095516.17"))
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestCheckedArithmetic(t *testing.T) {
	got, err := MulMinor(1250, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	_, err = MulMinor(5_000_000_000_000_000_000, 2)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	got, err = AddMinor(100, 250, -50)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got)

	_, err = AddMinor(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(" 15000.50 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1500050), got)

	_, err = ParseAmount("fifteen")
	assert.Error(t, err)
}

func TestToDecimal(t *testing.T) {
	assert.Equal(t, "40.5", ToDecimal(4050).String())
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "Rp 15.000,50", FormatCurrency(1500050))
	assert.Equal(t, "Rp 0,05", FormatCurrency(5))
	assert.Equal(t, "Rp 100,00", FormatCurrency(10000))
	assert.Equal(t, "Rp -1.234,00", FormatCurrency(-123400))
}
