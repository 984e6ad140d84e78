// Package exec turns approved trade signals into exchange orders and
// durable trade records.
package exec

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/kalshi"
)

// orderPlacer is the slice of the exchange client the executor needs.
type orderPlacer interface {
	CreateOrder(ctx context.Context, req *kalshi.CreateOrderRequest) (*kalshi.Order, error)
}

// Executor submits orders and records the resulting trades.
type Executor struct {
	client orderPlacer
	store  *store.Store
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates an executor.
func New(client orderPlacer, st *store.Store, logger zerolog.Logger) *Executor {
	return &Executor{client: client, store: st, logger: logger, clock: time.Now}
}

// Execute places a limit buy for the signal and writes the OPEN trade
// row. A CANCELED response is an order rejection and leaves no row
// behind; a RESTING response is recorded anyway.
func (e *Executor) Execute(ctx context.Context, userID string, sig *scan.Signal) (*store.Trade, error) {
	if sig.Ticker == "" {
		return nil, faults.New(faults.ErrInput, "signal has no market ticker")
	}

	req := &kalshi.CreateOrderRequest{
		Ticker:        sig.Ticker,
		Action:        kalshi.OrderActionBuy,
		Side:          kalshi.OrderSide(sig.Side.ExchangeSide()),
		Type:          kalshi.OrderTypeLimit,
		Count:         sig.Quantity,
		YesPrice:      sig.PriceCents,
		ClientOrderID: uuid.NewString(),
	}

	order, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		metrics.OrdersRejected.Inc()
		return nil, err
	}

	if order.Status == kalshi.OrderStatusCanceled {
		metrics.OrdersRejected.Inc()
		return nil, faults.New(faults.ErrOrderRejected, "order canceled by exchange").
			With("order_id", order.OrderID).
			With("ticker", sig.Ticker)
	}

	if order.Status == kalshi.OrderStatusResting {
		e.logger.Info().Str("order_id", order.OrderID).Str("ticker", sig.Ticker).
			Int("remaining", order.RemainingCount).
			Msg("order resting on the book")
	}

	// A fully resting order reports zero fills; the row carries the
	// requested quantity until reconciliation corrects it.
	quantity := order.FillCount()
	if quantity == 0 {
		quantity = sig.Quantity
	}

	now := e.clock()
	trade := &store.Trade{
		ID:                uuid.NewString(),
		UserID:            userID,
		OrderID:           order.OrderID,
		City:              sig.City,
		TradeDate:         now,
		Ticker:            sig.Ticker,
		Bracket:           sig.Bracket,
		Side:              sig.Side,
		PriceCents:        sig.PriceCents,
		Quantity:          quantity,
		ModelProbability:  sig.ModelProbability,
		MarketProbability: sig.MarketProbability,
		EVAtEntry:         sig.EV,
		Confidence:        string(sig.Confidence),
		Status:            store.TradeOpen,
		CreatedAt:         now,
	}

	if err := e.store.InsertTrade(ctx, trade); err != nil {
		return nil, faults.Wrap(faults.ErrAPI, "record executed trade", err).
			With("order_id", order.OrderID)
	}

	metrics.OrdersPlaced.Inc()
	e.logger.Info().Str("trade_id", trade.ID).Str("order_id", order.OrderID).
		Str("ticker", sig.Ticker).Str("side", string(sig.Side)).
		Int("price_cents", sig.PriceCents).Int("quantity", quantity).
		Float64("ev", sig.EV).
		Msg("trade executed")
	return trade, nil
}
