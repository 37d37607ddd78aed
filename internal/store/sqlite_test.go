package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRunState() *core.RunState {
	return &core.RunState{
		Name:              "test-run",
		Strategy:          "nothing_ever_happens",
		AllocationUSD:     d("1000"),
		CashUSD:           d("1000"),
		TotalValueUSD:     d("1000"),
		RebalanceInterval: time.Hour,
		Paper:             true,
	}
}

func TestCreateAndLoadPortfolio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreatePortfolio(ctx, newRunState())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "pf_"))

	state, positions, err := s.LoadPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "test-run", state.Name)
	assert.Equal(t, "nothing_ever_happens", state.Strategy)
	assert.True(t, state.AllocationUSD.Equal(d("1000")))
	assert.True(t, state.CashUSD.Equal(d("1000")))
	assert.Equal(t, time.Hour, state.RebalanceInterval)
	assert.True(t, state.Paper)
	assert.True(t, state.LastRebalanceAt.IsZero())
	assert.Empty(t, positions)
}

func TestLoadUnknownPortfolio(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.LoadPortfolio(context.Background(), "pf_missing")
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

func TestPersistRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := newRunState()
	id, err := s.CreatePortfolio(ctx, state)
	require.NoError(t, err)
	state.PortfolioID = id

	state.CashUSD = d("700")
	state.HoldingsValueUSD = d("300.000000001")
	state.TotalValueUSD = d("1000.000000001")
	state.PnL = d("0.000000001")
	state.MaxPnL = d("0.000000001")
	state.LastRebalanceAt = time.Now().UTC()

	positions := map[string]*core.Position{
		"tok-a": {
			AssetID: "tok-a", EventID: "ev-a", ConditionID: "cond-a",
			Slug: "slug-a", EndDate: "2026-12-31",
			Quantity: d("333.333333333333"), AvgPrice: d("0.9"), CurPrice: d("0.91"),
		},
	}
	snap := &core.AuditSnapshot{
		PortfolioID: id, CashUSD: state.CashUSD,
		HoldingsValueUSD: state.HoldingsValueUSD,
		TotalValueUSD:    state.TotalValueUSD,
		PnL:              state.PnL,
		Timestamp:        time.Now().UTC(),
	}
	require.NoError(t, s.Persist(ctx, state, positions, snap))

	loaded, loadedPositions, err := s.LoadPortfolio(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.CashUSD.Equal(d("700")))
	assert.True(t, loaded.PnL.Equal(d("0.000000001")), "TEXT decimals keep full precision")
	assert.False(t, loaded.LastRebalanceAt.IsZero())

	require.Len(t, loadedPositions, 1)
	pos := loadedPositions["tok-a"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d("333.333333333333")))
	assert.True(t, pos.AvgPrice.Equal(d("0.9")))
	assert.Equal(t, "ev-a", pos.EventID)
	assert.Equal(t, "cond-a", pos.ConditionID)
}

func TestPersistReplacesPositionSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := newRunState()
	id, err := s.CreatePortfolio(ctx, state)
	require.NoError(t, err)
	state.PortfolioID = id

	first := map[string]*core.Position{
		"a": {AssetID: "a", Quantity: d("10"), AvgPrice: d("0.5")},
		"b": {AssetID: "b", Quantity: d("20"), AvgPrice: d("0.6")},
	}
	require.NoError(t, s.Persist(ctx, state, first, nil))

	second := map[string]*core.Position{
		"b": {AssetID: "b", Quantity: d("5"), AvgPrice: d("0.6")},
	}
	require.NoError(t, s.Persist(ctx, state, second, nil))

	_, positions, err := s.LoadPortfolio(ctx, id)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions["b"].Quantity.Equal(d("5")))
}

func TestPersistUnknownPortfolioFails(t *testing.T) {
	s := newTestStore(t)
	state := newRunState()
	state.PortfolioID = "pf_missing"
	err := s.Persist(context.Background(), state, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

func TestSnapshotHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := newRunState()
	id, err := s.CreatePortfolio(ctx, state)
	require.NoError(t, err)
	state.PortfolioID = id

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		snap := &core.AuditSnapshot{
			PortfolioID:   id,
			CashUSD:       decimal.NewFromInt(int64(1000 - i)),
			TotalValueUSD: d("1000"),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Persist(ctx, state, nil, snap))
	}

	all, err := s.Snapshots(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[0].Timestamp.Before(all[4].Timestamp), "chronological order")

	last2, err := s.Snapshots(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.True(t, last2[0].CashUSD.Equal(d("997")))
	assert.True(t, last2[1].CashUSD.Equal(d("996")))
}
