package gl

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/money"
)

// Totals carries the validated debit/credit sums at currency scale.
type Totals struct {
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// ValidateLines checks a candidate line set for structural and balance
// correctness. It is pure and document-agnostic: the caller may combine the
// output of several builders (revenue/tax/anchor plus COGS/inventory) into
// one draft and validate once.
//
// Per line, debit and credit are rounded to currency scale before checking;
// totals accumulate at full precision and are rounded once, so per-line
// rounding drift cannot produce a false imbalance.
func ValidateLines(lines []Line) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrEmptyLines
	}
	var debit, credit decimal.Decimal
	for i, line := range lines {
		d := money.RoundCurrency(line.Debit)
		c := money.RoundCurrency(line.Credit)
		if d.IsNegative() || c.IsNegative() {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, ErrNegativeAmount)
		}
		if d.IsPositive() == c.IsPositive() {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, ErrAmbiguousSide)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	totals := Totals{
		TotalDebit:  money.RoundCurrency(debit),
		TotalCredit: money.RoundCurrency(credit),
	}
	if !totals.TotalDebit.Equal(totals.TotalCredit) {
		return Totals{}, fmt.Errorf("debit %s vs credit %s: %w",
			totals.TotalDebit.StringFixed(money.CurrencyScale),
			totals.TotalCredit.StringFixed(money.CurrencyScale),
			ErrUnbalanced)
	}
	return totals, nil
}
