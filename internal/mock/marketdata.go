package mock

import (
	"context"
	"fmt"
	"sync"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// MockMarketData implements core.IMarketData for testing. Quotes are served
// from a static table; both sides return the same price unless a side-specific
// quote is set.
type MockMarketData struct {
	mu      sync.Mutex
	prices  map[string]map[core.Side]decimal.Decimal
	markets []core.Market
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		prices: make(map[string]map[core.Side]decimal.Decimal),
	}
}

// SetPrice sets the quote for both sides of a token's book.
func (m *MockMarketData) SetPrice(tokenID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[tokenID] = map[core.Side]decimal.Decimal{
		core.SideBuy:  price,
		core.SideSell: price,
	}
}

// SetSidePrice sets the quote for one side only.
func (m *MockMarketData) SetSidePrice(tokenID string, side core.Side, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices[tokenID] == nil {
		m.prices[tokenID] = make(map[core.Side]decimal.Decimal)
	}
	m.prices[tokenID][side] = price
}

// SetMarkets sets the listing returned by GetMarkets.
func (m *MockMarketData) SetMarkets(markets []core.Market) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets = markets
}

func (m *MockMarketData) GetPrice(ctx context.Context, tokenID string, side core.Side) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sides, ok := m.prices[tokenID]; ok {
		if p, ok := sides[side]; ok {
			return p, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s %s", apperrors.ErrNoQuote, tokenID, side)
}

func (m *MockMarketData) GetPrices(ctx context.Context, params []core.BookParams) (map[string]map[core.Side]decimal.Decimal, error) {
	out := make(map[string]map[core.Side]decimal.Decimal)
	for _, p := range params {
		price, err := m.GetPrice(ctx, p.TokenID, p.Side)
		if err != nil {
			continue
		}
		if out[p.TokenID] == nil {
			out[p.TokenID] = make(map[core.Side]decimal.Decimal)
		}
		out[p.TokenID][p.Side] = price
	}
	return out, nil
}

func (m *MockMarketData) GetMarkets(ctx context.Context, filter core.MarketFilter) ([]core.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Market, len(m.markets))
	copy(out, m.markets)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ core.IMarketData = (*MockMarketData)(nil)
