// Package marketdata reads quotes and market listings from the venue's public
// REST APIs: the gamma API for market metadata and the CLOB API for prices.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"
	phttp "portfolio_trader/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// quoteFanout bounds concurrent price lookups in GetPrices.
const quoteFanout = 8

// Config holds the API endpoints and client limits.
type Config struct {
	GammaBaseURL string
	ClobBaseURL  string
	Timeout      time.Duration
	RateLimitRPS float64
}

// Client implements core.IMarketData.
type Client struct {
	gamma  *phttp.Client
	clob   *phttp.Client
	logger core.ILogger
}

var _ core.IMarketData = (*Client)(nil)

// NewClient builds a market data client from config.
func NewClient(cfg Config, logger core.ILogger) *Client {
	return &Client{
		gamma:  phttp.NewClient(cfg.GammaBaseURL, cfg.Timeout, cfg.RateLimitRPS),
		clob:   phttp.NewClient(cfg.ClobBaseURL, cfg.Timeout, cfg.RateLimitRPS),
		logger: logger.WithField("component", "marketdata"),
	}
}

// GetPrice returns the current price of one side of a token's book.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side core.Side) (decimal.Decimal, error) {
	body, err := c.clob.Get(ctx, "/price", map[string]string{
		"token_id": tokenID,
		"side":     string(side),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price request for %s failed: %v", apperrors.ErrNetwork, tokenID, err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil || price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s %s", apperrors.ErrNoQuote, tokenID, side)
	}
	return price, nil
}

// GetPrices fetches quotes for many books concurrently. Books with no quote
// are omitted from the result; only transport-level failures surface as an
// error.
func (c *Client) GetPrices(ctx context.Context, params []core.BookParams) (map[string]map[core.Side]decimal.Decimal, error) {
	var mu sync.Mutex
	out := make(map[string]map[core.Side]decimal.Decimal)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFanout)
	for _, p := range params {
		p := p
		g.Go(func() error {
			price, err := c.GetPrice(gctx, p.TokenID, p.Side)
			if err != nil {
				if errors.Is(err, apperrors.ErrNoQuote) {
					c.logger.Debug("No quote for book", "token_id", p.TokenID, "side", p.Side)
					return nil
				}
				return err
			}
			mu.Lock()
			if out[p.TokenID] == nil {
				out[p.TokenID] = make(map[core.Side]decimal.Decimal)
			}
			out[p.TokenID][p.Side] = price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rawMarket mirrors the gamma API market payload. Several list-valued fields
// arrive as JSON-encoded strings and need a second decode pass.
type rawMarket struct {
	ID              json.Number `json:"id"`
	Slug            string      `json:"slug"`
	ConditionID     string      `json:"conditionId"`
	EndDate         string      `json:"endDate"`
	Outcomes        string      `json:"outcomes"`
	OutcomePrices   string      `json:"outcomePrices"`
	ClobTokenIDs    string      `json:"clobTokenIds"`
	Spread          json.Number `json:"spread"`
	BestBid         json.Number `json:"bestBid"`
	BestAsk         json.Number `json:"bestAsk"`
	Volume          json.Number `json:"volumeNum"`
	Liquidity       json.Number `json:"liquidityNum"`
	Active          bool        `json:"active"`
	Closed          bool        `json:"closed"`
	AcceptingOrders bool        `json:"acceptingOrders"`
	Events          []struct {
		ID string `json:"id"`
	} `json:"events"`
}

// GetMarkets lists markets matching the filter, newest listings first as the
// API returns them.
func (c *Client) GetMarkets(ctx context.Context, filter core.MarketFilter) ([]core.Market, error) {
	now := time.Now().UTC()
	params := map[string]string{
		"closed":       "false",
		"end_date_min": now.Format("2006-01-02T15:04:05Z"),
	}
	if filter.Limit > 0 {
		params["limit"] = strconv.Itoa(filter.Limit)
	}
	if filter.LookBackDays > 0 {
		start := now.AddDate(0, 0, -filter.LookBackDays)
		params["start_date_min"] = start.Format("2006-01-02T15:04:05Z")
	}
	if !filter.MinVolume.IsZero() {
		params["volume_num_min"] = filter.MinVolume.String()
	}
	if !filter.MinLiquidity.IsZero() {
		params["liquidity_num_min"] = filter.MinLiquidity.String()
	}
	if filter.DaysToEnd > 0 {
		end := now.AddDate(0, 0, filter.DaysToEnd)
		params["end_date_max"] = end.Format("2006-01-02T15:04:05Z")
	}

	body, err := c.gamma.Get(ctx, "/markets", params)
	if err != nil {
		return nil, fmt.Errorf("%w: market listing failed: %v", apperrors.ErrNetwork, err)
	}

	var raws []rawMarket
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode market listing: %w", err)
	}

	markets := make([]core.Market, 0, len(raws))
	for _, raw := range raws {
		m, err := raw.toMarket()
		if err != nil {
			c.logger.Warn("Skipping malformed market", "market_id", raw.ID.String(), "error", err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func (r rawMarket) toMarket() (core.Market, error) {
	m := core.Market{
		ID:              r.ID.String(),
		Slug:            r.Slug,
		ConditionID:     r.ConditionID,
		EndDate:         r.EndDate,
		Active:          r.Active,
		Closed:          r.Closed,
		AcceptingOrders: r.AcceptingOrders,
		EventCount:      len(r.Events),
	}
	if len(r.Events) > 0 {
		m.EventID = r.Events[0].ID
	}

	if err := json.Unmarshal([]byte(r.Outcomes), &m.Outcomes); err != nil {
		return m, fmt.Errorf("bad outcomes field: %w", err)
	}
	var priceStrs []string
	if err := json.Unmarshal([]byte(r.OutcomePrices), &priceStrs); err != nil {
		return m, fmt.Errorf("bad outcomePrices field: %w", err)
	}
	m.OutcomePrices = make([]decimal.Decimal, len(priceStrs))
	for i, s := range priceStrs {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return m, fmt.Errorf("bad outcome price %q: %w", s, err)
		}
		m.OutcomePrices[i] = p
	}
	if err := json.Unmarshal([]byte(r.ClobTokenIDs), &m.ClobTokenIDs); err != nil {
		return m, fmt.Errorf("bad clobTokenIds field: %w", err)
	}

	var err error
	if m.Spread, err = numberToDecimal(r.Spread); err != nil {
		return m, fmt.Errorf("bad spread: %w", err)
	}
	if m.BestBid, err = numberToDecimal(r.BestBid); err != nil {
		return m, fmt.Errorf("bad bestBid: %w", err)
	}
	if m.BestAsk, err = numberToDecimal(r.BestAsk); err != nil {
		return m, fmt.Errorf("bad bestAsk: %w", err)
	}
	if m.Volume, err = numberToDecimal(r.Volume); err != nil {
		return m, fmt.Errorf("bad volumeNum: %w", err)
	}
	if m.Liquidity, err = numberToDecimal(r.Liquidity); err != nil {
		return m, fmt.Errorf("bad liquidityNum: %w", err)
	}
	return m, nil
}

func numberToDecimal(n json.Number) (decimal.Decimal, error) {
	if n.String() == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}
