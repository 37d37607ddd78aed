// Package core defines the shared types and interfaces of the strategy
// execution engine.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IMarketData provides read-only quotes and market listings. Used by
// strategies during rebalance and by the engine to refresh held-position
// prices.
type IMarketData interface {
	GetPrice(ctx context.Context, tokenID string, side Side) (decimal.Decimal, error)
	GetPrices(ctx context.Context, params []BookParams) (map[string]map[Side]decimal.Decimal, error)
	GetMarkets(ctx context.Context, filter MarketFilter) ([]Market, error)
}

// IOrderGateway submits orders to the live venue. It is network-bound and may
// fail; the executor converts every failure into a failed ExecutionResult,
// never letting it escape a batch.
type IOrderGateway interface {
	SubmitMarketOrder(ctx context.Context, tokenID string, side Side, amount decimal.Decimal) (*Fill, error)
	SubmitLimitOrder(ctx context.Context, tokenID string, side Side, price, size decimal.Decimal) (*Fill, error)
}

// IOrderExecutor turns a batch of instructions into exactly one result per
// instruction. It never returns an error: per-order failures are carried
// inside the corresponding result.
type IOrderExecutor interface {
	Execute(ctx context.Context, orders []OrderInstruction) []ExecutionResult
}

// IStrategy is the pluggable decision function. Rebalance must treat the
// snapshot as read-only and may consult market data; it returns an empty
// slice when no action is warranted.
type IStrategy interface {
	Name() string
	Rebalance(ctx context.Context, snapshot *LedgerSnapshot) ([]OrderInstruction, error)
}

// IEngine is the unit of work one runner tick performs.
type IEngine interface {
	RunOnce(ctx context.Context) error
	State() *RunState
}

// IPortfolioStore persists portfolios. Each portfolio's rows are only ever
// written by its owning runner; Persist commits the run state, the full
// position set and the cycle's audit snapshot in a single transaction.
type IPortfolioStore interface {
	CreatePortfolio(ctx context.Context, state *RunState) (string, error)
	LoadPortfolio(ctx context.Context, portfolioID string) (*RunState, map[string]*Position, error)
	Persist(ctx context.Context, state *RunState, positions map[string]*Position, snap *AuditSnapshot) error
	Snapshots(ctx context.Context, portfolioID string, limit int) ([]*AuditSnapshot, error)
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
