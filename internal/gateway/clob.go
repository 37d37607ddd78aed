// Package gateway submits orders to the venue's CLOB REST API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"
	phttp "portfolio_trader/pkg/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order time-in-force values understood by the venue.
const (
	orderTypeFOK = "FOK" // fill-or-kill, used for market orders
	orderTypeGTC = "GTC" // good-till-cancelled, used for resting limit orders
)

// Config holds venue credentials and limits.
type Config struct {
	BaseURL      string
	APIKey       string
	Secret       string
	Passphrase   string
	Timeout      time.Duration
	RateLimitRPS float64
}

// Client implements core.IOrderGateway against the CLOB API.
type Client struct {
	http   *phttp.Client
	logger core.ILogger
}

var _ core.IOrderGateway = (*Client)(nil)

// NewClient builds a gateway from config.
func NewClient(cfg Config, logger core.ILogger) *Client {
	client := phttp.NewClient(cfg.BaseURL, cfg.Timeout, cfg.RateLimitRPS)
	client.SetHeader("POLY-API-KEY", cfg.APIKey)
	client.SetHeader("POLY-SECRET", cfg.Secret)
	client.SetHeader("POLY-PASSPHRASE", cfg.Passphrase)

	return &Client{
		http:   client,
		logger: logger.WithField("component", "gateway"),
	}
}

type orderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	TokenID       string `json:"token_id"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	// Amount is USD for market buys and shares for market sells.
	Amount string `json:"amount,omitempty"`
	Price  string `json:"price,omitempty"`
	Size   string `json:"size,omitempty"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	ErrorMsg     string `json:"errorMsg"`
}

// SubmitMarketOrder places a fill-or-kill market order. For buys amount is
// the USD to spend; for sells it is the shares to liquidate.
func (c *Client) SubmitMarketOrder(ctx context.Context, tokenID string, side core.Side, amount decimal.Decimal) (*core.Fill, error) {
	req := orderRequest{
		ClientOrderID: uuid.NewString(),
		TokenID:       tokenID,
		Side:          string(side),
		OrderType:     orderTypeFOK,
		Amount:        amount.String(),
	}
	return c.submit(ctx, req)
}

// SubmitLimitOrder rests a good-till-cancelled limit order.
func (c *Client) SubmitLimitOrder(ctx context.Context, tokenID string, side core.Side, price, size decimal.Decimal) (*core.Fill, error) {
	req := orderRequest{
		ClientOrderID: uuid.NewString(),
		TokenID:       tokenID,
		Side:          string(side),
		OrderType:     orderTypeGTC,
		Price:         price.String(),
		Size:          size.String(),
	}
	return c.submit(ctx, req)
}

func (c *Client) submit(ctx context.Context, req orderRequest) (*core.Fill, error) {
	c.logger.Info("Submitting order",
		"client_order_id", req.ClientOrderID,
		"token_id", req.TokenID,
		"side", req.Side,
		"order_type", req.OrderType)

	body, err := c.http.Post(ctx, "/order", req)
	if err != nil {
		return nil, fmt.Errorf("%w: order submission failed: %v", apperrors.ErrNetwork, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, resp.ErrorMsg)
	}

	fill := &core.Fill{
		OrderID: resp.OrderID,
		Status:  resp.Status,
	}
	if fill.MakingAmount, err = decimal.NewFromString(resp.MakingAmount); err != nil {
		return nil, fmt.Errorf("bad makingAmount %q: %w", resp.MakingAmount, err)
	}
	if fill.TakingAmount, err = decimal.NewFromString(resp.TakingAmount); err != nil {
		return nil, fmt.Errorf("bad takingAmount %q: %w", resp.TakingAmount, err)
	}

	c.logger.Info("Order accepted",
		"client_order_id", req.ClientOrderID,
		"order_id", fill.OrderID,
		"status", fill.Status)
	return fill, nil
}
