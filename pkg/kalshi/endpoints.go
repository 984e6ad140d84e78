package kalshi

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"github.com/gopher-lab/weathertrader/internal/faults"
)

// GetBalanceCents retrieves the account balance. The exchange reports
// dollars; callers get integer cents.
func (c *Client) GetBalanceCents(ctx context.Context) (int, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/portfolio/balance", &resp); err != nil {
		return 0, err
	}
	return int(math.Round(resp.Balance * 100)), nil
}

// GetEvents lists open events for a series (one weather city), e.g.
// KXHIGHNY.
func (c *Client) GetEvents(ctx context.Context, seriesTicker string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/events?status=open&series_ticker=" + url.QueryEscape(seriesTicker)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// GetMarkets lists the markets of one event.
func (c *Client) GetMarkets(ctx context.Context, eventTicker string) ([]Market, error) {
	var resp struct {
		Markets []Market `json:"markets"`
	}
	path := "/markets?limit=100&event_ticker=" + url.QueryEscape(eventTicker)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

// GetMarket retrieves a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	if ticker == "" {
		return nil, faults.New(faults.ErrInput, "empty market ticker")
	}
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.get(ctx, "/markets/"+ticker, &resp); err != nil {
		return nil, err
	}
	return &resp.Market, nil
}

// GetOrderbook retrieves the orderbook for a market.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*Orderbook, error) {
	if ticker == "" {
		return nil, faults.New(faults.ErrInput, "empty market ticker")
	}
	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := c.get(ctx, fmt.Sprintf("/markets/%s/orderbook", ticker), &resp); err != nil {
		return nil, err
	}
	return &resp.Orderbook, nil
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	if req.Ticker == "" {
		return nil, faults.New(faults.ErrInput, "empty order ticker")
	}
	if req.Count < 1 {
		return nil, faults.New(faults.ErrInput, "order count must be at least 1").With("count", req.Count)
	}
	var resp struct {
		Order Order `json:"order"`
	}
	if err := c.post(ctx, "/portfolio/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	if err := c.del(ctx, "/portfolio/orders/"+orderID, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// GetPositions retrieves all market positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"market_positions"`
	}
	if err := c.get(ctx, "/portfolio/positions", &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// GetSettlements retrieves the account's settled markets.
func (c *Client) GetSettlements(ctx context.Context) ([]Settlement, error) {
	var resp struct {
		Settlements []Settlement `json:"settlements"`
	}
	if err := c.get(ctx, "/portfolio/settlements", &resp); err != nil {
		return nil, err
	}
	return resp.Settlements, nil
}

// GetFills retrieves the authoritative list of executed orders, used by
// the reconciler.
func (c *Client) GetFills(ctx context.Context) ([]Fill, error) {
	var resp struct {
		Fills []Fill `json:"fills"`
	}
	if err := c.get(ctx, "/portfolio/fills?limit=200", &resp); err != nil {
		return nil, err
	}
	return resp.Fills, nil
}
