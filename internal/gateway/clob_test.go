package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portfolio_trader/internal/core"
	"portfolio_trader/internal/mock"
	apperrors "portfolio_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "key",
		Timeout: 2 * time.Second,
	}, mock.NewNopLogger())
}

func TestSubmitMarketOrder(t *testing.T) {
	var got map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("POLY-API-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":      true,
			"orderID":      "ord-1",
			"status":       "matched",
			"makingAmount": "100",
			"takingAmount": "181.81",
		})
	})

	gw := newTestGateway(t, handler)
	fill, err := gw.SubmitMarketOrder(context.Background(), "tok-1", core.SideBuy, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, "ord-1", fill.OrderID)
	assert.Equal(t, "matched", fill.Status)
	assert.True(t, fill.MakingAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, fill.TakingAmount.Equal(decimal.RequireFromString("181.81")))

	assert.Equal(t, "tok-1", got["token_id"])
	assert.Equal(t, "BUY", got["side"])
	assert.Equal(t, "FOK", got["order_type"])
	assert.Equal(t, "100", got["amount"])
	assert.NotEmpty(t, got["client_order_id"])
}

func TestSubmitLimitOrderUsesGTC(t *testing.T) {
	var got map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true, "orderID": "ord-2", "status": "live",
			"makingAmount": "0", "takingAmount": "0",
		})
	})

	gw := newTestGateway(t, handler)
	fill, err := gw.SubmitLimitOrder(context.Background(), "tok-1", core.SideSell,
		decimal.RequireFromString("0.65"), decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, "live", fill.Status)
	assert.Equal(t, "GTC", got["order_type"])
	assert.Equal(t, "SELL", got["side"])
	assert.Equal(t, "0.65", got["price"])
	assert.Equal(t, "40", got["size"])
}

func TestRejectedOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false, "errorMsg": "not enough balance",
		})
	})

	gw := newTestGateway(t, handler)
	_, err := gw.SubmitMarketOrder(context.Background(), "tok-1", core.SideBuy, decimal.NewFromInt(100))
	require.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Contains(t, err.Error(), "not enough balance")
}

func TestClientOrderIDsAreUnique(t *testing.T) {
	var ids []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ids = append(ids, req["client_order_id"].(string))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true, "orderID": "x", "status": "matched",
			"makingAmount": "1", "takingAmount": "1",
		})
	})

	gw := newTestGateway(t, handler)
	for i := 0; i < 3; i++ {
		_, err := gw.SubmitMarketOrder(context.Background(), "tok", core.SideBuy, decimal.NewFromInt(1))
		require.NoError(t, err)
	}
	require.Len(t, ids, 3)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])
}
