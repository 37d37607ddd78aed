// Package engine implements the rebalance cycle for one portfolio: ask the
// strategy for orders, execute them, settle the ledger, derive valuations and
// persist the result atomically.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/ledger"
	apperrors "portfolio_trader/pkg/errors"
	"portfolio_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Options configures a new engine.
type Options struct {
	// PortfolioID resumes an existing portfolio when set; empty creates one.
	PortfolioID       string
	Name              string
	AllocationUSD     decimal.Decimal
	RebalanceInterval time.Duration
	Paper             bool

	Strategy   core.IStrategy
	Executor   core.IOrderExecutor
	MarketData core.IMarketData
	Store      core.IPortfolioStore
	Logger     core.ILogger

	// OnSnapshot, when set, receives every committed audit snapshot. Used by
	// the control server to stream portfolio history over websockets.
	OnSnapshot func(*core.AuditSnapshot)
}

// Engine implements core.IEngine. All cycle work happens under mu, so State
// always observes a consistent view between cycles.
type Engine struct {
	mu       sync.Mutex
	state    *core.RunState
	ledger   *ledger.Ledger
	strategy core.IStrategy
	executor core.IOrderExecutor
	market   core.IMarketData
	store    core.IPortfolioStore
	logger   core.ILogger

	onSnapshot func(*core.AuditSnapshot)

	// degraded is set when persistence fails; the cycle keeps running on
	// in-memory state and persistence is retried at the start of each cycle.
	degraded bool

	persistExec failsafe.Executor[any]

	cyclesTotal     metric.Int64Counter
	ordersTotal     metric.Int64Counter
	persistFailures metric.Int64Counter
}

var _ core.IEngine = (*Engine)(nil)

// New builds an engine, creating the portfolio in the store or rehydrating it
// when opts.PortfolioID names an existing one.
func New(ctx context.Context, opts Options) (*Engine, error) {
	logger := opts.Logger.WithField("component", "engine").WithField("name", opts.Name)

	retryPolicy := retrypolicy.NewBuilder[any]().
		WithBackoff(50*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	meter := telemetry.GetMeter("engine")
	cyclesTotal, _ := meter.Int64Counter("rebalance_cycles_total",
		metric.WithDescription("Completed rebalance cycles"))
	ordersTotal, _ := meter.Int64Counter("orders_executed_total",
		metric.WithDescription("Order instructions executed, by outcome"))
	persistFailures, _ := meter.Int64Counter("persist_failures_total",
		metric.WithDescription("Failed portfolio persistence attempts"))

	e := &Engine{
		strategy:        opts.Strategy,
		executor:        opts.Executor,
		market:          opts.MarketData,
		store:           opts.Store,
		logger:          logger,
		onSnapshot:      opts.OnSnapshot,
		persistExec:     failsafe.With[any](retryPolicy),
		cyclesTotal:     cyclesTotal,
		ordersTotal:     ordersTotal,
		persistFailures: persistFailures,
	}

	if opts.PortfolioID != "" {
		state, positions, err := opts.Store.LoadPortfolio(ctx, opts.PortfolioID)
		if err != nil {
			return nil, fmt.Errorf("failed to load portfolio %s: %w", opts.PortfolioID, err)
		}
		e.state = state
		e.ledger = ledger.Hydrate(state.CashUSD, positions)
		logger.Info("Portfolio rehydrated",
			"portfolio_id", state.PortfolioID,
			"cash_usd", state.CashUSD,
			"positions", len(positions))
		return e, nil
	}

	if opts.AllocationUSD.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: allocation must be positive, got %s",
			apperrors.ErrInvalidOrderParameter, opts.AllocationUSD)
	}
	allocation := opts.AllocationUSD
	state := &core.RunState{
		Name:              opts.Name,
		Strategy:          opts.Strategy.Name(),
		AllocationUSD:     allocation,
		CashUSD:           allocation,
		TotalValueUSD:     allocation,
		RebalanceInterval: opts.RebalanceInterval,
		Paper:             opts.Paper,
	}
	id, err := opts.Store.CreatePortfolio(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}
	state.PortfolioID = id
	e.state = state
	e.ledger = ledger.New(allocation)
	logger.Info("Portfolio created", "portfolio_id", id, "allocation_usd", allocation)
	return e, nil
}

// State returns a copy of the current run state.
func (e *Engine) State() *core.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.state
	return &cp
}

// Snapshot returns the current ledger view.
func (e *Engine) Snapshot() *core.LedgerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// RunOnce performs one full rebalance cycle. An empty order batch ends the
// cycle early without touching the ledger or the store.
func (e *Engine) RunOnce(ctx context.Context) error {
	tracer := telemetry.GetTracer("engine")
	ctx, span := tracer.Start(ctx, "rebalance_cycle")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	span.SetAttributes(attribute.String("portfolio_id", e.state.PortfolioID))

	if e.degraded {
		e.flushDegraded(ctx)
	}

	orders, err := e.strategy.Rebalance(ctx, e.ledger.Snapshot())
	if err != nil {
		return fmt.Errorf("strategy rebalance failed: %w", err)
	}
	e.state.LastRebalanceAt = time.Now().UTC()

	if len(orders) == 0 {
		e.logger.Debug("No orders this cycle")
		e.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "noop")))
		return nil
	}

	results := e.executor.Execute(ctx, orders)
	for _, res := range results {
		outcome := "success"
		if !res.Success {
			outcome = "failed"
		}
		e.ordersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if err := e.updateState(ctx, results); err != nil {
		e.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rolled_back")))
		return err
	}

	e.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "committed")))
	return nil
}

// updateState settles a batch of execution results. Successful fills are
// applied to a working copy of the ledger; any accounting inconsistency rolls
// the whole batch back. Failed results are skipped, they never touch cash.
func (e *Engine) updateState(ctx context.Context, results []core.ExecutionResult) error {
	working := e.ledger.Clone()

	applied := 0
	for _, res := range results {
		if !res.Success {
			e.logger.Warn("Skipping failed order",
				"asset_id", res.Order.AssetID(),
				"error", res.ErrorMessage)
			continue
		}
		if err := working.Apply(res); err != nil {
			e.logger.Error("Batch rolled back on inconsistent fill",
				"asset_id", res.Order.AssetID(),
				"error", err)
			return fmt.Errorf("batch rollback: %w", err)
		}
		applied++
	}
	e.ledger = working

	e.refreshQuotes(ctx)
	snap := e.deriveTotals()

	e.logger.Info("Cycle settled",
		"applied_orders", applied,
		"cash_usd", e.state.CashUSD,
		"total_value_usd", e.state.TotalValueUSD,
		"pnl", e.state.PnL)

	if err := e.persist(ctx, snap); err != nil {
		e.degraded = true
		e.persistFailures.Add(ctx, 1)
		e.logger.Error("Persistence failed, running degraded on in-memory state", "error", err)
		return nil
	}

	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}
	return nil
}

// refreshQuotes updates current prices on all held positions. Quote failures
// leave the previous price in place.
func (e *Engine) refreshQuotes(ctx context.Context) {
	positions := e.ledger.Positions()
	if len(positions) == 0 {
		return
	}

	params := make([]core.BookParams, 0, len(positions))
	for assetID := range positions {
		params = append(params, core.BookParams{TokenID: assetID, Side: core.SideSell})
	}
	prices, err := e.market.GetPrices(ctx, params)
	if err != nil {
		e.logger.Warn("Quote refresh failed, valuing at last known prices", "error", err)
		return
	}
	for assetID, sides := range prices {
		if p, ok := sides[core.SideSell]; ok && !p.IsZero() {
			e.ledger.SetCurrentPrice(assetID, p)
		}
	}
}

// deriveTotals recomputes the valuation fields from the settled ledger and
// returns the cycle's audit snapshot.
func (e *Engine) deriveTotals() *core.AuditSnapshot {
	e.state.CashUSD = e.ledger.CashUSD()
	e.state.HoldingsValueUSD = e.ledger.HoldingsValueUSD()
	e.state.TotalValueUSD = e.state.CashUSD.Add(e.state.HoldingsValueUSD)
	e.state.PnL = e.state.TotalValueUSD.Sub(e.state.AllocationUSD)
	if e.state.PnL.GreaterThan(e.state.MaxPnL) {
		e.state.MaxPnL = e.state.PnL
	}
	if e.state.PnL.LessThan(e.state.MinPnL) {
		e.state.MinPnL = e.state.PnL
	}

	return &core.AuditSnapshot{
		PortfolioID:      e.state.PortfolioID,
		CashUSD:          e.state.CashUSD,
		HoldingsValueUSD: e.state.HoldingsValueUSD,
		TotalValueUSD:    e.state.TotalValueUSD,
		PnL:              e.state.PnL,
		Timestamp:        time.Now().UTC(),
	}
}

// persist writes state, positions and the snapshot in one transaction, with
// retries for transient store failures.
func (e *Engine) persist(ctx context.Context, snap *core.AuditSnapshot) error {
	err := e.persistExec.Run(func() error {
		return e.store.Persist(ctx, e.state, e.ledger.Positions(), snap)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// flushDegraded retries persisting the current in-memory state after an
// earlier failure. It writes a fresh snapshot so the audit trail records the
// recovery point.
func (e *Engine) flushDegraded(ctx context.Context) {
	snap := e.deriveTotals()
	if err := e.persist(ctx, snap); err != nil {
		e.persistFailures.Add(ctx, 1)
		e.logger.Error("Still degraded, persistence retry failed", "error", err)
		return
	}
	e.degraded = false
	e.logger.Info("Persistence recovered, state flushed")
	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}
}
