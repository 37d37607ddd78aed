package strategy

import (
	"context"
	"fmt"
	"sort"

	"portfolio_trader/internal/core"

	"github.com/shopspring/decimal"
)

func init() {
	Register("nothing_ever_happens", NewNothingEverHappens)
}

// NothingEverHappensParams tunes the strategy. Prices are probabilities in
// (0, 1); USD amounts are absolute.
type NothingEverHappensParams struct {
	LookBackDays int
	MinVolume    decimal.Decimal
	MinLiquidity decimal.Decimal
	Limit        int
	DaysToEnd    int
	MaxSpread    decimal.Decimal
	// Entry band for the expensive outcome's price.
	PriceLowerBound decimal.Decimal
	PriceUpperBound decimal.Decimal
	// TargetPrice picks, per event, the market closest to it. Zero means the
	// midpoint of the entry band.
	TargetPrice        decimal.Decimal
	MinPositionSizeUSD decimal.Decimal
	PanicExitPrice     decimal.Decimal
	CashOutPrice       decimal.Decimal
}

func defaultNothingEverHappensParams() NothingEverHappensParams {
	return NothingEverHappensParams{
		LookBackDays:       180,
		MinVolume:          decimal.NewFromInt(100000),
		MinLiquidity:       decimal.NewFromInt(1000),
		Limit:              500,
		MaxSpread:          decimal.RequireFromString("0.1"),
		PriceLowerBound:    decimal.RequireFromString("0.1"),
		PriceUpperBound:    decimal.RequireFromString("0.9"),
		MinPositionSizeUSD: decimal.NewFromInt(100),
		PanicExitPrice:     decimal.RequireFromString("0.45"),
		CashOutPrice:       decimal.RequireFromString("0.99"),
	}
}

// NothingEverHappens buys the expensive "No" outcome of liquid markets on the
// premise that dramatic resolutions are rare. Positions are cashed out
// virtually once they trade near certainty (redemption happens off-venue) and
// panic-sold if the market turns against them.
type NothingEverHappens struct {
	params NothingEverHappensParams
	market core.IMarketData
	logger core.ILogger
}

var _ core.IStrategy = (*NothingEverHappens)(nil)

// NewNothingEverHappens is the registry factory.
func NewNothingEverHappens(raw map[string]interface{}, market core.IMarketData, logger core.ILogger) (core.IStrategy, error) {
	params, err := parseNothingEverHappensParams(raw)
	if err != nil {
		return nil, err
	}
	return &NothingEverHappens{
		params: params,
		market: market,
		logger: logger.WithField("strategy", "nothing_ever_happens"),
	}, nil
}

func (s *NothingEverHappens) Name() string { return "nothing_ever_happens" }

// Rebalance exits positions first, then splits remaining cash across entry
// candidates in events the portfolio has no exposure to.
func (s *NothingEverHappens) Rebalance(ctx context.Context, snap *core.LedgerSnapshot) ([]core.OrderInstruction, error) {
	var orders []core.OrderInstruction

	quotes, err := s.refreshPositionQuotes(ctx, snap)
	if err != nil {
		return nil, err
	}

	exposure := make(map[string]bool)
	spokenFor := decimal.Zero

	// Sorted iteration keeps order batches deterministic.
	assetIDs := make([]string, 0, len(snap.Positions))
	for id := range snap.Positions {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	for _, assetID := range assetIDs {
		pos := snap.Positions[assetID]
		exposure[pos.EventID] = true

		price, ok := quotes[assetID]
		if !ok {
			continue
		}

		switch {
		case price.GreaterThan(s.params.CashOutPrice):
			// Won positions get redeemed off-venue; the sell only settles the
			// books.
			orders = append(orders, core.MarketSell{
				TokenID:       assetID,
				AmountShares:  pos.Quantity,
				ExpectedPrice: price,
				Virtual:       true,
				EventID:       pos.EventID,
				ConditionID:   pos.ConditionID,
				Slug:          pos.Slug,
				EndDate:       pos.EndDate,
			})
		case price.LessThan(s.params.PanicExitPrice):
			orders = append(orders, core.MarketSell{
				TokenID:       assetID,
				AmountShares:  pos.Quantity,
				ExpectedPrice: price,
				EventID:       pos.EventID,
				ConditionID:   pos.ConditionID,
				Slug:          pos.Slug,
				EndDate:       pos.EndDate,
			})
		}
	}

	cands, err := s.candidateMarkets(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]core.Market, 0, len(cands))
	for _, m := range cands {
		if !exposure[m.EventID] {
			entries = append(entries, m)
		}
	}
	s.logger.Info("Entry candidates selected", "candidates", len(cands), "entries", len(entries))

	if len(entries) == 0 {
		return orders, nil
	}

	cash := snap.CashUSD
	if cash.LessThan(s.params.MinPositionSizeUSD) {
		return orders, nil
	}

	perEntry := cash.Div(decimal.NewFromInt(int64(len(entries))))
	if perEntry.LessThan(s.params.MinPositionSizeUSD) {
		perEntry = s.params.MinPositionSizeUSD
	}

	for _, m := range entries {
		if spokenFor.Add(perEntry).GreaterThan(cash) {
			break
		}
		spokenFor = spokenFor.Add(perEntry)

		tokenID, price := expensiveOutcome(m)
		orders = append(orders, core.MarketBuy{
			TokenID:       tokenID,
			AmountUSD:     perEntry,
			ExpectedPrice: price,
			EventID:       m.EventID,
			ConditionID:   m.ConditionID,
			Slug:          m.Slug,
			EndDate:       m.EndDate,
		})
	}

	return orders, nil
}

// refreshPositionQuotes fetches buy-side quotes for every held position.
func (s *NothingEverHappens) refreshPositionQuotes(ctx context.Context, snap *core.LedgerSnapshot) (map[string]decimal.Decimal, error) {
	if len(snap.Positions) == 0 {
		return nil, nil
	}
	params := make([]core.BookParams, 0, len(snap.Positions))
	for assetID := range snap.Positions {
		params = append(params, core.BookParams{TokenID: assetID, Side: core.SideBuy})
	}
	prices, err := s.market.GetPrices(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to quote held positions: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(prices))
	for assetID, sides := range prices {
		if p, ok := sides[core.SideBuy]; ok {
			out[assetID] = p
		}
	}
	return out, nil
}

// candidateMarkets lists recent liquid markets and keeps, per event, the one
// whose expensive "No" outcome trades closest to the target price inside the
// entry band.
func (s *NothingEverHappens) candidateMarkets(ctx context.Context) ([]core.Market, error) {
	markets, err := s.market.GetMarkets(ctx, core.MarketFilter{
		LookBackDays: s.params.LookBackDays,
		MinVolume:    s.params.MinVolume,
		MinLiquidity: s.params.MinLiquidity,
		Limit:        s.params.Limit,
		DaysToEnd:    s.params.DaysToEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}

	target := s.params.TargetPrice
	if target.IsZero() {
		target = s.params.PriceLowerBound.Add(s.params.PriceUpperBound).Div(decimal.NewFromInt(2))
	}

	// Markets tied to multiple events resolve on correlated conditions; skip
	// them rather than double-count exposure.
	perEvent := make(map[string]core.Market)
	for _, m := range markets {
		if m.EventCount != 1 || m.EventID == "" {
			continue
		}
		if m.Spread.GreaterThan(s.params.MaxSpread) {
			continue
		}
		if len(m.Outcomes) < 2 || len(m.OutcomePrices) < 2 || len(m.ClobTokenIDs) < 2 {
			continue
		}

		idx := 0
		if m.OutcomePrices[1].GreaterThan(m.OutcomePrices[0]) {
			idx = 1
		}
		if m.Outcomes[idx] != "No" {
			continue
		}
		price := m.OutcomePrices[idx]
		if price.LessThan(s.params.PriceLowerBound) || price.GreaterThan(s.params.PriceUpperBound) {
			continue
		}

		best, seen := perEvent[m.EventID]
		if !seen || distanceToTarget(m, target).LessThan(distanceToTarget(best, target)) {
			perEvent[m.EventID] = m
		}
	}

	out := make([]core.Market, 0, len(perEvent))
	for _, m := range perEvent {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func expensiveOutcome(m core.Market) (tokenID string, price decimal.Decimal) {
	idx := 0
	if m.OutcomePrices[1].GreaterThan(m.OutcomePrices[0]) {
		idx = 1
	}
	return m.ClobTokenIDs[idx], m.OutcomePrices[idx]
}

func distanceToTarget(m core.Market, target decimal.Decimal) decimal.Decimal {
	_, price := expensiveOutcome(m)
	return price.Sub(target).Abs()
}

func parseNothingEverHappensParams(raw map[string]interface{}) (NothingEverHappensParams, error) {
	p := defaultNothingEverHappensParams()
	for key, value := range raw {
		var err error
		switch key {
		case "look_back_days":
			p.LookBackDays, err = asInt(value)
		case "minimum_volume":
			p.MinVolume, err = asDecimal(value)
		case "minimum_liquidity":
			p.MinLiquidity, err = asDecimal(value)
		case "limit":
			p.Limit, err = asInt(value)
		case "days_to_end":
			p.DaysToEnd, err = asInt(value)
		case "maximum_spread":
			p.MaxSpread, err = asDecimal(value)
		case "price_lower_bound":
			p.PriceLowerBound, err = asDecimal(value)
		case "price_upper_bound":
			p.PriceUpperBound, err = asDecimal(value)
		case "target_price":
			p.TargetPrice, err = asDecimal(value)
		case "minimum_position_size":
			p.MinPositionSizeUSD, err = asDecimal(value)
		case "panic_exit_price":
			p.PanicExitPrice, err = asDecimal(value)
		case "cash_out_price":
			p.CashOutPrice, err = asDecimal(value)
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
		if err != nil {
			return p, fmt.Errorf("parameter %q: %w", key, err)
		}
	}

	if p.PriceLowerBound.GreaterThanOrEqual(p.PriceUpperBound) {
		return p, fmt.Errorf("price_lower_bound %s must be below price_upper_bound %s",
			p.PriceLowerBound, p.PriceUpperBound)
	}
	return p, nil
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Zero, fmt.Errorf("expected number, got %T", v)
	}
}
