// Package ledger implements the cash and position accounting for one
// portfolio. A ledger is not safe for concurrent use; the owning engine
// serializes access.
package ledger

import (
	"fmt"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// epsilon is the quantity below which a position counts as fully liquidated.
var epsilon = decimal.New(1, -9)

// Ledger tracks available cash and open positions for a single portfolio.
type Ledger struct {
	cash      decimal.Decimal
	positions map[string]*core.Position
}

// New creates a ledger funded with the given cash and no positions.
func New(cashUSD decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      cashUSD,
		positions: make(map[string]*core.Position),
	}
}

// Hydrate restores a ledger from persisted state. The position map is deep
// copied so the caller keeps no aliases into the ledger.
func Hydrate(cashUSD decimal.Decimal, positions map[string]*core.Position) *Ledger {
	l := New(cashUSD)
	for id, p := range positions {
		l.positions[id] = p.Clone()
	}
	return l
}

// CashUSD returns the available cash.
func (l *Ledger) CashUSD() decimal.Decimal {
	return l.cash
}

// Position returns the held position for an asset, or nil.
func (l *Ledger) Position(assetID string) *core.Position {
	return l.positions[assetID]
}

// Positions returns a deep copy of all open positions.
func (l *Ledger) Positions() map[string]*core.Position {
	out := make(map[string]*core.Position, len(l.positions))
	for id, p := range l.positions {
		out[id] = p.Clone()
	}
	return out
}

// Snapshot returns an immutable view for strategy consumption.
func (l *Ledger) Snapshot() *core.LedgerSnapshot {
	return &core.LedgerSnapshot{
		CashUSD:   l.cash,
		Positions: l.Positions(),
	}
}

// Clone returns an independent deep copy. The engine applies a batch of fills
// to a clone and swaps it in only when every fill lands, which makes batch
// rollback a no-op.
func (l *Ledger) Clone() *Ledger {
	return Hydrate(l.cash, l.positions)
}

// SetCurrentPrice records the latest quote on a held position. Unknown assets
// are ignored.
func (l *Ledger) SetCurrentPrice(assetID string, price decimal.Decimal) {
	if p, ok := l.positions[assetID]; ok {
		p.CurPrice = price
	}
}

// HoldingsValueUSD values every open position at its current price.
func (l *Ledger) HoldingsValueUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		price := p.CurPrice
		if price.IsZero() {
			price = p.AvgPrice
		}
		total = total.Add(p.Quantity.Mul(price))
	}
	return total
}

// Apply records one successful execution result. Buys move cash into shares
// at a weighted average cost basis; sells move shares back into cash and drop
// the position when it is fully liquidated. Failed results must not be
// applied; the ledger is left untouched on any returned error.
func (l *Ledger) Apply(res core.ExecutionResult) error {
	if !res.Success {
		return fmt.Errorf("%w: cannot apply failed result for %s", apperrors.ErrInvalidOrderParameter, res.Order.AssetID())
	}

	switch order := res.Order.(type) {
	case core.MarketBuy:
		l.applyBuy(order.TokenID, res.MakingAmount, res.TakingAmount, positionMeta{
			EventID:     order.EventID,
			ConditionID: order.ConditionID,
			Slug:        order.Slug,
			EndDate:     order.EndDate,
		})
		return nil
	case core.MarketSell:
		return l.applySell(order.TokenID, res.MakingAmount, res.TakingAmount)
	case core.LimitOrder:
		if order.Side == core.SideBuy {
			l.applyBuy(order.TokenID, res.MakingAmount, res.TakingAmount, positionMeta{EventID: order.EventID})
			return nil
		}
		return l.applySell(order.TokenID, res.MakingAmount, res.TakingAmount)
	default:
		return fmt.Errorf("%w: %T", apperrors.ErrUnknownOrderType, res.Order)
	}
}

type positionMeta struct {
	EventID     string
	ConditionID string
	Slug        string
	EndDate     string
}

// applyBuy spends costUSD and receives shares of assetID. The cost basis of
// an existing position is re-averaged over the combined quantity.
func (l *Ledger) applyBuy(assetID string, costUSD, shares decimal.Decimal, meta positionMeta) {
	l.cash = l.cash.Sub(costUSD)

	pos, ok := l.positions[assetID]
	if !ok {
		avg := decimal.Zero
		if !shares.IsZero() {
			avg = costUSD.Div(shares)
		}
		l.positions[assetID] = &core.Position{
			AssetID:     assetID,
			EventID:     meta.EventID,
			ConditionID: meta.ConditionID,
			Slug:        meta.Slug,
			EndDate:     meta.EndDate,
			Quantity:    shares,
			AvgPrice:    avg,
		}
		return
	}

	newQty := pos.Quantity.Add(shares)
	if newQty.IsZero() {
		return
	}
	pos.AvgPrice = pos.Quantity.Mul(pos.AvgPrice).Add(costUSD).Div(newQty)
	pos.Quantity = newQty
}

// applySell gives up shares of assetID and receives proceedsUSD. Selling more
// than is held fails without touching the ledger. A partial sell re-averages
// the remaining cost basis: the proceeds come off the position's total cost,
// so realized gains lower the basis and realized losses raise it.
func (l *Ledger) applySell(assetID string, shares, proceedsUSD decimal.Decimal) error {
	pos, ok := l.positions[assetID]
	if !ok {
		return fmt.Errorf("%w: no position in %s", apperrors.ErrInsufficientPosition, assetID)
	}
	if shares.GreaterThan(pos.Quantity.Add(epsilon)) {
		return fmt.Errorf("%w: sell %s > held %s of %s",
			apperrors.ErrInsufficientPosition, shares, pos.Quantity, assetID)
	}

	l.cash = l.cash.Add(proceedsUSD)

	newQty := pos.Quantity.Sub(shares)
	if newQty.LessThanOrEqual(epsilon) {
		delete(l.positions, assetID)
		return nil
	}
	pos.AvgPrice = pos.Quantity.Mul(pos.AvgPrice).Sub(proceedsUSD).Div(newQty)
	pos.Quantity = newQty
	return nil
}
