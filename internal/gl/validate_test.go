package gl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/money"
	"github.com/ledgerline/ledgerline/internal/shared"
)

func TestValidateLinesBalances(t *testing.T) {
	totals, err := ValidateLines([]Line{
		{LineNo: 1, AccountID: 1200, Debit: money.MustParse("110.00")},
		{LineNo: 2, AccountID: 4000, Credit: money.MustParse("100.00")},
		{LineNo: 3, AccountID: 2100, Credit: money.MustParse("10.00")},
	})
	require.NoError(t, err)
	require.Equal(t, "110.00", totals.TotalDebit.StringFixed(2))
	require.Equal(t, "110.00", totals.TotalCredit.StringFixed(2))
}

func TestValidateLinesEmpty(t *testing.T) {
	_, err := ValidateLines(nil)
	require.ErrorIs(t, err, ErrEmptyLines)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidateLinesAmbiguousSide(t *testing.T) {
	// Both sides positive.
	_, err := ValidateLines([]Line{
		{AccountID: 1, Debit: money.MustParse("10"), Credit: money.MustParse("5")},
	})
	require.ErrorIs(t, err, ErrAmbiguousSide)

	// Both sides zero.
	_, err = ValidateLines([]Line{
		{AccountID: 1},
	})
	require.ErrorIs(t, err, ErrAmbiguousSide)

	// An amount below currency scale rounds to zero and counts as zero.
	_, err = ValidateLines([]Line{
		{AccountID: 1, Debit: money.MustParse("0.004")},
	})
	require.ErrorIs(t, err, ErrAmbiguousSide)
}

func TestValidateLinesNegativeAmount(t *testing.T) {
	_, err := ValidateLines([]Line{
		{AccountID: 1, Debit: money.MustParse("-10")},
	})
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func TestValidateLinesUnbalanced(t *testing.T) {
	_, err := ValidateLines([]Line{
		{AccountID: 1, Debit: money.MustParse("10.00")},
		{AccountID: 2, Credit: money.MustParse("9.99")},
	})
	require.ErrorIs(t, err, ErrUnbalanced)
}

func TestValidateLinesFullPrecisionAccumulation(t *testing.T) {
	// Each side sums to 10.005 at full precision; rounding once at the
	// boundary keeps them balanced.
	totals, err := ValidateLines([]Line{
		{AccountID: 1, Debit: money.MustParse("5.0025")},
		{AccountID: 2, Debit: money.MustParse("5.0025")},
		{AccountID: 3, Credit: money.MustParse("10.005")},
	})
	require.NoError(t, err)
	require.Equal(t, "10.01", totals.TotalDebit.StringFixed(2))
	require.Equal(t, "10.01", totals.TotalCredit.StringFixed(2))
}
