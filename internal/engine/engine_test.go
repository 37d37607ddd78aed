package engine

import (
	"context"
	"testing"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/executor"
	"portfolio_trader/internal/mock"
	"portfolio_trader/pkg/concurrency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// scriptedStrategy returns one pre-planned batch per Rebalance call, then
// empty batches forever.
type scriptedStrategy struct {
	batches [][]core.OrderInstruction
	calls   int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Rebalance(ctx context.Context, snap *core.LedgerSnapshot) ([]core.OrderInstruction, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.batches) {
		return s.batches[s.calls], nil
	}
	return nil, nil
}

type testRig struct {
	engine *Engine
	store  *mock.MockStore
	market *mock.MockMarketData
	strat  *scriptedStrategy
	snaps  []*core.AuditSnapshot
}

func newTestRig(t *testing.T, batches [][]core.OrderInstruction) *testRig {
	t.Helper()

	store := mock.NewMockStore()
	market := mock.NewMockMarketData()
	strat := &scriptedStrategy{batches: batches}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2}, mock.NewNopLogger())
	t.Cleanup(pool.Stop)

	rig := &testRig{store: store, market: market, strat: strat}

	eng, err := New(context.Background(), Options{
		Name:              "test-run",
		AllocationUSD:     d("1000"),
		RebalanceInterval: time.Hour,
		Paper:             true,
		Strategy:          strat,
		Executor:          executor.New(nil, pool, mock.NewNopLogger(), true),
		MarketData:        market,
		Store:             store,
		Logger:            mock.NewNopLogger(),
		OnSnapshot:        func(s *core.AuditSnapshot) { rig.snaps = append(rig.snaps, s) },
	})
	require.NoError(t, err)
	rig.engine = eng
	return rig
}

func TestPaperBuyCycle(t *testing.T) {
	rig := newTestRig(t, [][]core.OrderInstruction{{
		core.MarketBuy{TokenID: "tok", AmountUSD: d("300"), ExpectedPrice: d("0.9")},
	}})
	rig.market.SetPrice("tok", d("0.9"))

	require.NoError(t, rig.engine.RunOnce(context.Background()))

	state := rig.engine.State()
	assert.True(t, state.CashUSD.Equal(d("700")), "cash: %s", state.CashUSD)

	snap := rig.engine.Snapshot()
	pos := snap.Positions["tok"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Sub(d("333.333333333")).Abs().LessThan(d("0.001")), "qty: %s", pos.Quantity)
	assert.True(t, pos.AvgPrice.Sub(d("0.9")).Abs().LessThan(d("0.000000001")), "avg: %s", pos.AvgPrice)

	// Valued at the refreshed 0.9 quote the portfolio is still worth 1000.
	assert.True(t, state.TotalValueUSD.Sub(d("1000")).Abs().LessThan(d("0.000001")), "total: %s", state.TotalValueUSD)
	assert.Equal(t, 1, rig.store.PersistCalls())
	require.Len(t, rig.snaps, 1)
	assert.True(t, rig.snaps[0].CashUSD.Equal(d("700")))
}

func TestSellAllRemovesPositionAndBanksGain(t *testing.T) {
	shares := d("300").Div(d("0.9"))
	rig := newTestRig(t, [][]core.OrderInstruction{
		{core.MarketBuy{TokenID: "tok", AmountUSD: d("300"), ExpectedPrice: d("0.9")}},
		{core.MarketSell{TokenID: "tok", AmountShares: shares, ExpectedPrice: d("0.95")}},
	})
	rig.market.SetPrice("tok", d("0.95"))

	require.NoError(t, rig.engine.RunOnce(context.Background()))
	require.NoError(t, rig.engine.RunOnce(context.Background()))

	state := rig.engine.State()
	// 700 + 333.33 * 0.95 = 1016.67
	assert.True(t, state.TotalValueUSD.Sub(d("1016.666666666")).Abs().LessThan(d("0.001")),
		"total: %s", state.TotalValueUSD)
	assert.True(t, state.PnL.GreaterThan(decimal.Zero))
	assert.True(t, state.MaxPnL.Equal(state.PnL))
	assert.Empty(t, rig.engine.Snapshot().Positions)
}

func TestEmptyBatchSkipsSettlement(t *testing.T) {
	rig := newTestRig(t, nil)

	require.NoError(t, rig.engine.RunOnce(context.Background()))

	assert.Equal(t, 0, rig.store.PersistCalls())
	assert.Empty(t, rig.snaps)
	state := rig.engine.State()
	assert.True(t, state.CashUSD.Equal(d("1000")))
	assert.False(t, state.LastRebalanceAt.IsZero())
}

func TestPartialBatchAppliesOnlySuccesses(t *testing.T) {
	rig := newTestRig(t, [][]core.OrderInstruction{{
		core.MarketBuy{TokenID: "a", AmountUSD: d("100"), ExpectedPrice: d("0.5")},
		// Zero expected price fails validation in the paper executor.
		core.MarketBuy{TokenID: "b", AmountUSD: d("100"), ExpectedPrice: d("0")},
	}})
	rig.market.SetPrice("a", d("0.5"))

	require.NoError(t, rig.engine.RunOnce(context.Background()))

	snap := rig.engine.Snapshot()
	assert.True(t, snap.CashUSD.Equal(d("900")), "only the good order spends cash: %s", snap.CashUSD)
	assert.NotNil(t, snap.Positions["a"])
	assert.Nil(t, snap.Positions["b"])
}

func TestInconsistentBatchRollsBackEntirely(t *testing.T) {
	rig := newTestRig(t, [][]core.OrderInstruction{{
		core.MarketBuy{TokenID: "a", AmountUSD: d("100"), ExpectedPrice: d("0.5")},
		// Selling an asset the portfolio never held is an accounting error.
		core.MarketSell{TokenID: "ghost", AmountShares: d("10"), ExpectedPrice: d("0.5")},
	}})

	err := rig.engine.RunOnce(context.Background())
	require.Error(t, err)

	snap := rig.engine.Snapshot()
	assert.True(t, snap.CashUSD.Equal(d("1000")), "rollback must restore cash: %s", snap.CashUSD)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, 0, rig.store.PersistCalls())
}

func TestDegradedModeRecoversOnLaterCycle(t *testing.T) {
	rig := newTestRig(t, [][]core.OrderInstruction{{
		core.MarketBuy{TokenID: "tok", AmountUSD: d("300"), ExpectedPrice: d("0.9")},
	}})
	rig.market.SetPrice("tok", d("0.9"))

	// Enough failures to exhaust the persist retry budget.
	rig.store.FailNextPersists = 10

	require.NoError(t, rig.engine.RunOnce(context.Background()))

	// The cycle committed in memory even though nothing hit the store.
	assert.True(t, rig.engine.State().CashUSD.Equal(d("700")))
	assert.Empty(t, rig.snaps)

	// The store heals; the next (empty) cycle flushes the backlog.
	rig.store.FailNextPersists = 0
	require.NoError(t, rig.engine.RunOnce(context.Background()))

	state, positions, err := rig.store.LoadPortfolio(context.Background(), rig.engine.State().PortfolioID)
	require.NoError(t, err)
	assert.True(t, state.CashUSD.Equal(d("700")))
	assert.NotNil(t, positions["tok"])
	require.Len(t, rig.snaps, 1)
}

func TestRehydrateResumesPortfolio(t *testing.T) {
	rig := newTestRig(t, [][]core.OrderInstruction{{
		core.MarketBuy{TokenID: "tok", AmountUSD: d("300"), ExpectedPrice: d("0.9")},
	}})
	rig.market.SetPrice("tok", d("0.9"))
	require.NoError(t, rig.engine.RunOnce(context.Background()))

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "t2", MaxWorkers: 2}, mock.NewNopLogger())
	t.Cleanup(pool.Stop)

	resumed, err := New(context.Background(), Options{
		PortfolioID:       rig.engine.State().PortfolioID,
		Name:              "test-run",
		RebalanceInterval: time.Hour,
		Paper:             true,
		Strategy:          &scriptedStrategy{},
		Executor:          executor.New(nil, pool, mock.NewNopLogger(), true),
		MarketData:        rig.market,
		Store:             rig.store,
		Logger:            mock.NewNopLogger(),
	})
	require.NoError(t, err)

	assert.True(t, resumed.State().CashUSD.Equal(d("700")))
	pos := resumed.Snapshot().Positions["tok"]
	require.NotNil(t, pos)
	assert.True(t, pos.AvgPrice.Sub(d("0.9")).Abs().LessThan(d("0.000000001")))
}
