// Package executor turns strategy order instructions into execution results,
// either simulated (paper) or submitted to the live venue through a bounded
// worker pool.
package executor

import (
	"context"
	"fmt"

	"portfolio_trader/internal/core"
	"portfolio_trader/pkg/concurrency"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Executor implements core.IOrderExecutor. In paper mode every order fills
// instantly at its expected price. In live mode orders fan out over the pool;
// each order fails or fills on its own, and a batch always produces exactly
// one result per instruction, in order.
type Executor struct {
	gateway core.IOrderGateway
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	paper   bool
}

var _ core.IOrderExecutor = (*Executor)(nil)

// New creates an executor. gateway may be nil in paper mode.
func New(gateway core.IOrderGateway, pool *concurrency.WorkerPool, logger core.ILogger, paper bool) *Executor {
	return &Executor{
		gateway: gateway,
		pool:    pool,
		logger:  logger.WithField("component", "executor"),
		paper:   paper,
	}
}

// Execute processes a batch of instructions and returns one result per
// instruction, positionally aligned with the input. It never returns an
// error: every failure is carried inside its result.
func (e *Executor) Execute(ctx context.Context, orders []core.OrderInstruction) []core.ExecutionResult {
	results := make([]core.ExecutionResult, len(orders))

	if e.paper {
		for i, order := range orders {
			results[i] = e.executePaper(order)
		}
		return results
	}

	tasks := make([]func(), len(orders))
	for i, order := range orders {
		i, order := i, order
		tasks[i] = func() {
			results[i] = e.executeLive(ctx, order)
		}
	}
	e.pool.SubmitBatchAndWait(tasks)

	return results
}

// executePaper simulates a zero-slippage fill at the order's expected price.
func (e *Executor) executePaper(order core.OrderInstruction) core.ExecutionResult {
	res := core.ExecutionResult{Order: order}

	switch o := order.(type) {
	case core.MarketBuy:
		if err := validatePositive("amount_usd", o.AmountUSD); err != nil {
			return failed(order, err)
		}
		if err := validatePositive("expected_price", o.ExpectedPrice); err != nil {
			return failed(order, err)
		}
		res.MakingAmount = o.AmountUSD
		res.TakingAmount = o.AmountUSD.Div(o.ExpectedPrice)
	case core.MarketSell:
		if err := validatePositive("amount_shares", o.AmountShares); err != nil {
			return failed(order, err)
		}
		if err := validatePositive("expected_price", o.ExpectedPrice); err != nil {
			return failed(order, err)
		}
		res.MakingAmount = o.AmountShares
		res.TakingAmount = o.AmountShares.Mul(o.ExpectedPrice)
	case core.LimitOrder:
		if err := validatePositive("price", o.Price); err != nil {
			return failed(order, err)
		}
		if err := validatePositive("size", o.Size); err != nil {
			return failed(order, err)
		}
		if o.Side == core.SideBuy {
			res.MakingAmount = o.Price.Mul(o.Size)
			res.TakingAmount = o.Size
		} else {
			res.MakingAmount = o.Size
			res.TakingAmount = o.Price.Mul(o.Size)
		}
	default:
		return failed(order, fmt.Errorf("%w: %T", apperrors.ErrUnknownOrderType, order))
	}

	res.Success = true
	res.Status = "matched"
	res.OrderID = "paper-" + uuid.NewString()
	return res
}

// executeLive submits one order to the gateway. Virtual sells represent
// positions that are economically closed but not redeemable on the venue, so
// they take the paper path and never reach the gateway. Panics from the
// gateway are contained to the failing order.
func (e *Executor) executeLive(ctx context.Context, order core.OrderInstruction) (res core.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Order submission panicked", "asset_id", order.AssetID(), "panic", r)
			res = failed(order, fmt.Errorf("%w: panic during submission: %v", apperrors.ErrNetwork, r))
		}
	}()

	var (
		fill *core.Fill
		err  error
	)
	switch o := order.(type) {
	case core.MarketBuy:
		if verr := validatePositive("amount_usd", o.AmountUSD); verr != nil {
			return failed(order, verr)
		}
		fill, err = e.gateway.SubmitMarketOrder(ctx, o.TokenID, core.SideBuy, o.AmountUSD)
	case core.MarketSell:
		if verr := validatePositive("amount_shares", o.AmountShares); verr != nil {
			return failed(order, verr)
		}
		if o.Virtual {
			return e.executePaper(order)
		}
		fill, err = e.gateway.SubmitMarketOrder(ctx, o.TokenID, core.SideSell, o.AmountShares)
	case core.LimitOrder:
		if verr := validatePositive("price", o.Price); verr != nil {
			return failed(order, verr)
		}
		if verr := validatePositive("size", o.Size); verr != nil {
			return failed(order, verr)
		}
		fill, err = e.gateway.SubmitLimitOrder(ctx, o.TokenID, o.Side, o.Price, o.Size)
	default:
		return failed(order, fmt.Errorf("%w: %T", apperrors.ErrUnknownOrderType, order))
	}

	if err != nil {
		e.logger.Warn("Order submission failed", "asset_id", order.AssetID(), "error", err)
		return failed(order, err)
	}

	return core.ExecutionResult{
		Order:        order,
		Success:      true,
		MakingAmount: fill.MakingAmount,
		TakingAmount: fill.TakingAmount,
		Status:       fill.Status,
		OrderID:      fill.OrderID,
	}
}

func failed(order core.OrderInstruction, err error) core.ExecutionResult {
	return core.ExecutionResult{
		Order:        order,
		Success:      false,
		Status:       "failed",
		ErrorMessage: err.Error(),
	}
}

func validatePositive(field string, v decimal.Decimal) error {
	if v.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s must be positive, got %s", apperrors.ErrInvalidOrderParameter, field, v)
	}
	return nil
}
