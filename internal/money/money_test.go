package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, "10.01", RoundCurrency(MustParse("10.005")).StringFixed(2))
	require.Equal(t, "10.00", RoundCurrency(MustParse("10.004")).StringFixed(2))
	require.Equal(t, "0.0049", RoundQuantity(MustParse("0.0049")).String())
	require.Equal(t, "0.000001", RoundUnitCost(MustParse("0.0000005")).String())
}

func TestDiv(t *testing.T) {
	got, err := Div(MustParse("10"), MustParse("3"), CurrencyScale)
	require.NoError(t, err)
	require.Equal(t, "3.33", got.StringFixed(2))

	_, err = Div(MustParse("10"), decimal.Zero, CurrencyScale)
	require.ErrorIs(t, err, ErrDivisionByZero)

	// Divisor that only becomes zero once rounded at the active scale.
	_, err = Div(MustParse("10"), MustParse("0.004"), CurrencyScale)
	require.ErrorIs(t, err, ErrDivisionByZero)

	got, err = Div(MustParse("10"), MustParse("0.004"), QuantityScale)
	require.NoError(t, err)
	require.Equal(t, "2500", got.String())
}

func TestEqualAt(t *testing.T) {
	require.True(t, EqualAt(MustParse("1.001"), MustParse("1.004"), CurrencyScale))
	require.False(t, EqualAt(MustParse("1.001"), MustParse("1.006"), CurrencyScale))
}

func TestIsNegative(t *testing.T) {
	require.False(t, IsNegative(MustParse("-0.001"), CurrencyScale))
	require.True(t, IsNegative(MustParse("-0.01"), CurrencyScale))
}
