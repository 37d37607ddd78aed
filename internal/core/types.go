package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the taker side of a quote or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderInstruction is the closed set of trade instructions a strategy may
// emit: MarketBuy, MarketSell or LimitOrder. Consumers dispatch with a type
// switch; anything else is a validation error.
type OrderInstruction interface {
	// AssetID returns the token the instruction trades.
	AssetID() string
	sealed()
}

// MarketBuy spends AmountUSD on an asset at the current market price.
// ExpectedPrice is informational: it is the price the strategy saw when it
// decided, and the fill price used by the paper path.
type MarketBuy struct {
	TokenID       string
	AmountUSD     decimal.Decimal
	ExpectedPrice decimal.Decimal
	EventID       string
	ConditionID   string
	Slug          string
	EndDate       string
}

func (o MarketBuy) AssetID() string { return o.TokenID }
func (o MarketBuy) sealed()         {}

// MarketSell liquidates AmountShares of an asset at the current market price.
// Virtual marks a position the engine considers already economically closed
// (e.g. awaiting redemption): the sell must update the ledger without ever
// reaching the live gateway.
type MarketSell struct {
	TokenID       string
	AmountShares  decimal.Decimal
	ExpectedPrice decimal.Decimal
	Virtual       bool
	EventID       string
	ConditionID   string
	Slug          string
	EndDate       string
}

func (o MarketSell) AssetID() string { return o.TokenID }
func (o MarketSell) sealed()         {}

// LimitOrder rests Size shares at Price on the given side.
type LimitOrder struct {
	TokenID string
	Price   decimal.Decimal
	Size    decimal.Decimal
	Side    Side
	EventID string
}

func (o LimitOrder) AssetID() string { return o.TokenID }
func (o LimitOrder) sealed()         {}

// ExecutionResult is the outcome of attempting one order instruction.
//
// The maker/taker convention is asymmetric and load-bearing:
// for a buy, MakingAmount is the USD given up and TakingAmount the shares
// received; for a sell, MakingAmount is the shares given up and TakingAmount
// the USD received. The ledger relies on this exactly.
type ExecutionResult struct {
	Order        OrderInstruction
	Success      bool
	MakingAmount decimal.Decimal
	TakingAmount decimal.Decimal
	Status       string
	OrderID      string
	ErrorMessage string
}

// Fill is the raw gateway response to a submitted order, before it is bound
// back to its originating instruction.
type Fill struct {
	OrderID      string
	Status       string
	MakingAmount decimal.Decimal
	TakingAmount decimal.Decimal
}

// Position is the quantity and cost basis of one held asset. AvgPrice is only
// meaningful while Quantity > 0; fully liquidated positions are removed from
// the ledger, never retained at zero.
type Position struct {
	AssetID     string
	EventID     string
	ConditionID string
	Slug        string
	EndDate     string
	Quantity    decimal.Decimal
	AvgPrice    decimal.Decimal
	// CurPrice is the most recent quote, zero when none has been fetched.
	CurPrice decimal.Decimal
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// LedgerSnapshot is an immutable, by-value view of a ledger handed to
// strategy code. Mutating it has no effect on live state.
type LedgerSnapshot struct {
	CashUSD   decimal.Decimal
	Positions map[string]*Position
}

// RunState is the serializable identity and configuration of one running
// strategy, persisted alongside its ledger.
type RunState struct {
	PortfolioID       string
	Name              string
	Strategy          string
	AllocationUSD     decimal.Decimal
	CashUSD           decimal.Decimal
	HoldingsValueUSD  decimal.Decimal
	TotalValueUSD     decimal.Decimal
	PnL               decimal.Decimal
	MaxPnL            decimal.Decimal
	MinPnL            decimal.Decimal
	RebalanceInterval time.Duration
	Paper             bool
	LastRebalanceAt   time.Time
}

// AuditSnapshot is one immutable point of a portfolio's history, appended
// after every committed rebalance cycle.
type AuditSnapshot struct {
	PortfolioID      string          `json:"portfolio_id"`
	CashUSD          decimal.Decimal `json:"cash_usd"`
	HoldingsValueUSD decimal.Decimal `json:"holdings_value_usd"`
	TotalValueUSD    decimal.Decimal `json:"total_value_usd"`
	PnL              decimal.Decimal `json:"pnl"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Market is one tradable prediction market as returned by the market data
// API, reduced to the fields strategies act on.
type Market struct {
	ID              string
	Slug            string
	EventID         string
	ConditionID     string
	EndDate         string
	Outcomes        []string
	OutcomePrices   []decimal.Decimal
	ClobTokenIDs    []string
	Spread          decimal.Decimal
	BestBid         decimal.Decimal
	BestAsk         decimal.Decimal
	Volume          decimal.Decimal
	Liquidity       decimal.Decimal
	EventCount      int
	Active          bool
	Closed          bool
	AcceptingOrders bool
}

// MarketFilter narrows a market listing request.
type MarketFilter struct {
	LookBackDays int
	MinVolume    decimal.Decimal
	MinLiquidity decimal.Decimal
	Limit        int
	// DaysToEnd caps how far out a market may resolve; zero means no cap.
	DaysToEnd int
}

// BookParams identifies one side of one order book for a quote request.
type BookParams struct {
	TokenID string
	Side    Side
}
