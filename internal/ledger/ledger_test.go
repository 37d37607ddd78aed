package ledger

import (
	"testing"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buyResult(tokenID string, costUSD, shares string) core.ExecutionResult {
	return core.ExecutionResult{
		Order:        core.MarketBuy{TokenID: tokenID, AmountUSD: d(costUSD)},
		Success:      true,
		MakingAmount: d(costUSD),
		TakingAmount: d(shares),
		Status:       "matched",
	}
}

func sellResult(tokenID string, shares, proceedsUSD string) core.ExecutionResult {
	return core.ExecutionResult{
		Order:        core.MarketSell{TokenID: tokenID, AmountShares: d(shares)},
		Success:      true,
		MakingAmount: d(shares),
		TakingAmount: d(proceedsUSD),
		Status:       "matched",
	}
}

// Cash given up on a buy plus cash received on a sell must round-trip: the
// ledger never creates or destroys money.
func TestCashConservation(t *testing.T) {
	l := New(d("1000"))

	require.NoError(t, l.Apply(buyResult("tok", "300", "400")))
	assert.True(t, l.CashUSD().Equal(d("700")), "cash after buy: %s", l.CashUSD())

	require.NoError(t, l.Apply(sellResult("tok", "400", "380")))
	assert.True(t, l.CashUSD().Equal(d("1080")), "cash after sell: %s", l.CashUSD())
	assert.Nil(t, l.Position("tok"))
}

func TestWeightedAverageCostBasis(t *testing.T) {
	l := New(d("1000"))

	// 100 shares at 0.50, then 50 shares costing 40 USD (0.80 each).
	require.NoError(t, l.Apply(buyResult("tok", "50", "100")))
	require.NoError(t, l.Apply(buyResult("tok", "40", "50")))

	pos := l.Position("tok")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("150")))

	// (100*0.5 + 40) / 150 = 0.6
	want := d("0.6")
	diff := pos.AvgPrice.Sub(want).Abs()
	assert.True(t, diff.LessThan(d("0.000000001")), "avg price %s, want %s", pos.AvgPrice, want)
}

// A partial sell must re-average the remaining cost basis, not just shrink
// the quantity: total cost drops by the proceeds, so selling above basis
// lowers the average and selling below basis raises it.
func TestPartialSellReaveragesCostBasis(t *testing.T) {
	l := New(d("100"))

	// 100 shares at 0.50, then sell 40 for 32 USD (0.80 each).
	require.NoError(t, l.Apply(buyResult("tok", "50", "100")))
	require.NoError(t, l.Apply(sellResult("tok", "40", "32")))

	pos := l.Position("tok")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("60")))

	// (100*0.5 - 32) / 60 = 0.3
	want := d("0.3")
	diff := pos.AvgPrice.Sub(want).Abs()
	require.True(t, diff.LessThan(d("0.000000001")), "avg price %s, want %s", pos.AvgPrice, want)

	// The unquoted valuation fallback must see the re-averaged basis.
	assert.True(t, l.HoldingsValueUSD().Equal(d("18")), "holdings: %s", l.HoldingsValueUSD())

	// Selling 30 below basis for 6 USD (0.20 each) raises it: (18-6)/30 = 0.4.
	require.NoError(t, l.Apply(sellResult("tok", "30", "6")))
	pos = l.Position("tok")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("30")))
	diff = pos.AvgPrice.Sub(d("0.4")).Abs()
	assert.True(t, diff.LessThan(d("0.000000001")), "avg price %s, want 0.4", pos.AvgPrice)
}

func TestFullLiquidationRemovesPosition(t *testing.T) {
	l := New(d("100"))
	require.NoError(t, l.Apply(buyResult("tok", "30", "100")))

	// Sell back all but a dust quantity below the liquidation threshold.
	require.NoError(t, l.Apply(sellResult("tok", "99.9999999995", "35")))
	assert.Nil(t, l.Position("tok"), "dust position must be removed")
	assert.Empty(t, l.Positions())
}

func TestOversellLeavesLedgerUnchanged(t *testing.T) {
	l := New(d("100"))
	require.NoError(t, l.Apply(buyResult("tok", "30", "50")))

	cashBefore := l.CashUSD()
	err := l.Apply(sellResult("tok", "60", "40"))
	require.ErrorIs(t, err, apperrors.ErrInsufficientPosition)

	assert.True(t, l.CashUSD().Equal(cashBefore))
	pos := l.Position("tok")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("50")))
}

func TestSellUnknownAsset(t *testing.T) {
	l := New(d("100"))
	err := l.Apply(sellResult("ghost", "10", "5"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPosition)
	assert.True(t, l.CashUSD().Equal(d("100")))
}

func TestApplyFailedResultRejected(t *testing.T) {
	l := New(d("100"))
	res := buyResult("tok", "30", "50")
	res.Success = false
	assert.Error(t, l.Apply(res))
	assert.True(t, l.CashUSD().Equal(d("100")))
}

func TestLimitOrderFillsBySide(t *testing.T) {
	l := New(d("100"))

	buy := core.ExecutionResult{
		Order:        core.LimitOrder{TokenID: "tok", Side: core.SideBuy, Price: d("0.5"), Size: d("40")},
		Success:      true,
		MakingAmount: d("20"),
		TakingAmount: d("40"),
	}
	require.NoError(t, l.Apply(buy))
	assert.True(t, l.CashUSD().Equal(d("80")))
	require.NotNil(t, l.Position("tok"))
	assert.True(t, l.Position("tok").Quantity.Equal(d("40")))

	sell := core.ExecutionResult{
		Order:        core.LimitOrder{TokenID: "tok", Side: core.SideSell, Price: d("0.6"), Size: d("40")},
		Success:      true,
		MakingAmount: d("40"),
		TakingAmount: d("24"),
	}
	require.NoError(t, l.Apply(sell))
	assert.True(t, l.CashUSD().Equal(d("104")))
	assert.Nil(t, l.Position("tok"))
}

func TestSnapshotIsDetached(t *testing.T) {
	l := New(d("100"))
	require.NoError(t, l.Apply(buyResult("tok", "30", "50")))

	snap := l.Snapshot()
	snap.CashUSD = d("0")
	snap.Positions["tok"].Quantity = d("9999")
	delete(snap.Positions, "tok")

	assert.True(t, l.CashUSD().Equal(d("70")))
	require.NotNil(t, l.Position("tok"))
	assert.True(t, l.Position("tok").Quantity.Equal(d("50")))
}

func TestCloneIndependence(t *testing.T) {
	l := New(d("100"))
	require.NoError(t, l.Apply(buyResult("tok", "30", "50")))

	working := l.Clone()
	require.NoError(t, working.Apply(sellResult("tok", "50", "40")))

	// The original is untouched until the caller swaps the clone in.
	assert.True(t, l.CashUSD().Equal(d("70")))
	require.NotNil(t, l.Position("tok"))
	assert.True(t, working.CashUSD().Equal(d("110")))
	assert.Nil(t, working.Position("tok"))
}

func TestHoldingsValue(t *testing.T) {
	l := New(d("100"))
	require.NoError(t, l.Apply(buyResult("a", "30", "100"))) // avg 0.3
	require.NoError(t, l.Apply(buyResult("b", "20", "40")))  // avg 0.5

	// Without quotes the cost basis is used.
	assert.True(t, l.HoldingsValueUSD().Equal(d("50")))

	l.SetCurrentPrice("a", d("0.4"))
	l.SetCurrentPrice("ghost", d("1")) // ignored
	assert.True(t, l.HoldingsValueUSD().Equal(d("60")))
}
