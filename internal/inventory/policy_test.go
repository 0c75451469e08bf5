package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/money"
)

func TestDetectNegativeStock(t *testing.T) {
	issues := DetectNegativeStock([]ProjectedIssue{
		{ItemID: 1, OnHandQty: money.MustParse("1"), IssueQty: money.MustParse("2")},
		{ItemID: 2, OnHandQty: money.MustParse("10"), IssueQty: money.MustParse("2")},
	})
	require.Len(t, issues, 1)
	require.Equal(t, int64(1), issues[0].ItemID)
	require.Equal(t, "-1.0000", issues[0].ProjectedQty.StringFixed(4))
}

func TestDetectNegativeStockExactZeroIsFine(t *testing.T) {
	issues := DetectNegativeStock([]ProjectedIssue{
		{ItemID: 1, OnHandQty: money.MustParse("2"), IssueQty: money.MustParse("2")},
	})
	require.Empty(t, issues)
}

func TestAssertStockPolicy(t *testing.T) {
	issues := []NegativeStockIssue{{ItemID: 1, ProjectedQty: money.MustParse("-1")}}

	warnings, err := AssertStockPolicy(StockPolicyAllow, issues, false)
	require.NoError(t, err)
	require.Empty(t, warnings)

	warnings, err = AssertStockPolicy(StockPolicyWarn, issues, false)
	require.NoError(t, err)
	require.Equal(t, issues, warnings)

	_, err = AssertStockPolicy(StockPolicyBlock, issues, false)
	require.ErrorIs(t, err, ErrNegativeStockViolation)

	warnings, err = AssertStockPolicy(StockPolicyBlock, issues, true)
	require.NoError(t, err)
	require.Equal(t, issues, warnings)

	_, err = AssertStockPolicy("SOMETIMES", issues, false)
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestAssertStockPolicyNoIssues(t *testing.T) {
	warnings, err := AssertStockPolicy(StockPolicyBlock, nil, false)
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestIssueSerializesAsDecimalStrings(t *testing.T) {
	issue := NegativeStockIssue{
		ItemID:       1,
		OnHandQty:    money.MustParse("1.0000"),
		IssueQty:     money.MustParse("2.0000"),
		ProjectedQty: money.MustParse("-1.0000"),
	}
	body, err := json.Marshal(issue)
	require.NoError(t, err)
	require.JSONEq(t, `{"item_id":1,"on_hand_qty":"1","issue_qty":"2","projected_qty":"-1"}`, string(body))
}
