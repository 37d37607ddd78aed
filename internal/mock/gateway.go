package mock

import (
	"context"
	"fmt"
	"sync"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// SubmittedOrder records one call into the mock gateway.
type SubmittedOrder struct {
	TokenID string
	Side    core.Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Size    decimal.Decimal
	Limit   bool
}

// MockGateway implements core.IOrderGateway for testing. Market orders fill
// instantly at a per-token price; tokens listed in FailTokens are rejected.
type MockGateway struct {
	mu         sync.Mutex
	prices     map[string]decimal.Decimal
	failTokens map[string]error
	submitted  []SubmittedOrder
	orderSeq   int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		prices:     make(map[string]decimal.Decimal),
		failTokens: make(map[string]error),
	}
}

// SetPrice sets the instant-fill price for a token.
func (m *MockGateway) SetPrice(tokenID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[tokenID] = price
}

// FailToken makes every submission for tokenID fail with err.
func (m *MockGateway) FailToken(tokenID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTokens[tokenID] = err
}

// Submitted returns a copy of all recorded submissions.
func (m *MockGateway) Submitted() []SubmittedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmittedOrder, len(m.submitted))
	copy(out, m.submitted)
	return out
}

func (m *MockGateway) SubmitMarketOrder(ctx context.Context, tokenID string, side core.Side, amount decimal.Decimal) (*core.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitted = append(m.submitted, SubmittedOrder{TokenID: tokenID, Side: side, Amount: amount})

	if err, ok := m.failTokens[tokenID]; ok {
		return nil, err
	}
	price, ok := m.prices[tokenID]
	if !ok || price.IsZero() {
		return nil, fmt.Errorf("%w: no liquidity for %s", apperrors.ErrOrderRejected, tokenID)
	}

	m.orderSeq++
	fill := &core.Fill{
		OrderID: fmt.Sprintf("mock-%d", m.orderSeq),
		Status:  "matched",
	}
	// Buys spend USD for shares; sells give shares for USD.
	if side == core.SideBuy {
		fill.MakingAmount = amount
		fill.TakingAmount = amount.Div(price)
	} else {
		fill.MakingAmount = amount
		fill.TakingAmount = amount.Mul(price)
	}
	return fill, nil
}

func (m *MockGateway) SubmitLimitOrder(ctx context.Context, tokenID string, side core.Side, price, size decimal.Decimal) (*core.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitted = append(m.submitted, SubmittedOrder{TokenID: tokenID, Side: side, Price: price, Size: size, Limit: true})

	if err, ok := m.failTokens[tokenID]; ok {
		return nil, err
	}

	m.orderSeq++
	fill := &core.Fill{
		OrderID: fmt.Sprintf("mock-%d", m.orderSeq),
		Status:  "live",
	}
	if side == core.SideBuy {
		fill.MakingAmount = price.Mul(size)
		fill.TakingAmount = size
	} else {
		fill.MakingAmount = size
		fill.TakingAmount = price.Mul(size)
	}
	return fill, nil
}

var _ core.IOrderGateway = (*MockGateway)(nil)
