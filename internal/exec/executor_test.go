package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
	"github.com/gopher-lab/weathertrader/pkg/kalshi"
)

type fakePlacer struct {
	lastReq *kalshi.CreateOrderRequest
	order   *kalshi.Order
	err     error
}

func (f *fakePlacer) CreateOrder(_ context.Context, req *kalshi.CreateOrderRequest) (*kalshi.Order, error) {
	f.lastReq = req
	return f.order, f.err
}

func testExecutor(t *testing.T, placer *fakePlacer) (*Executor, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(placer, st, zerolog.Nop()), st
}

func testSignal() *scan.Signal {
	return &scan.Signal{
		City:              domain.CityNYC,
		Date:              time.Date(2026, 8, 25, 0, 0, 0, 0, domain.Eastern()),
		Ticker:            "KXHIGHNY-25AUG26-B55",
		Bracket:           "55-56",
		Side:              domain.SideLong,
		PriceCents:        22,
		Quantity:          2,
		ModelProbability:  0.42,
		MarketProbability: 0.22,
		EV:                0.08,
		Confidence:        "high",
	}
}

func TestExecute_PlacesOrderAndRecordsTrade(t *testing.T) {
	placer := &fakePlacer{order: &kalshi.Order{
		OrderID:        "ord-1",
		Status:         kalshi.OrderStatusExecuted,
		TakerFillCount: 2,
	}}
	e, st := testExecutor(t, placer)

	trade, err := e.Execute(context.Background(), "u1", testSignal())
	require.NoError(t, err)

	// Order protocol: limit buy on the signal's side and price.
	require.NotNil(t, placer.lastReq)
	assert.Equal(t, kalshi.OrderActionBuy, placer.lastReq.Action)
	assert.Equal(t, kalshi.OrderTypeLimit, placer.lastReq.Type)
	assert.Equal(t, kalshi.OrderSideYes, placer.lastReq.Side)
	assert.Equal(t, 2, placer.lastReq.Count)
	assert.Equal(t, 22, placer.lastReq.YesPrice)
	assert.NotEmpty(t, placer.lastReq.ClientOrderID)

	assert.Equal(t, "ord-1", trade.OrderID)
	assert.Equal(t, store.TradeOpen, trade.Status)
	assert.Equal(t, 2, trade.Quantity)
	assert.Nil(t, trade.SettledAt)

	got, err := st.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestExecute_ShortSideMapsToNo(t *testing.T) {
	placer := &fakePlacer{order: &kalshi.Order{
		OrderID:        "ord-2",
		Status:         kalshi.OrderStatusExecuted,
		TakerFillCount: 1,
	}}
	e, _ := testExecutor(t, placer)

	sig := testSignal()
	sig.Side = domain.SideShort
	sig.Quantity = 1

	_, err := e.Execute(context.Background(), "u1", sig)
	require.NoError(t, err)
	assert.Equal(t, kalshi.OrderSideNo, placer.lastReq.Side)
}

func TestExecute_EmptyTicker(t *testing.T) {
	placer := &fakePlacer{}
	e, _ := testExecutor(t, placer)

	sig := testSignal()
	sig.Ticker = ""

	_, err := e.Execute(context.Background(), "u1", sig)
	assert.ErrorIs(t, err, faults.ErrInput)
	assert.Nil(t, placer.lastReq, "no order is placed for an invalid signal")
}

func TestExecute_CanceledLeavesNoRow(t *testing.T) {
	placer := &fakePlacer{order: &kalshi.Order{
		OrderID: "ord-3",
		Status:  kalshi.OrderStatusCanceled,
	}}
	e, st := testExecutor(t, placer)

	_, err := e.Execute(context.Background(), "u1", testSignal())
	assert.ErrorIs(t, err, faults.ErrOrderRejected)

	ok, err := st.HasTradeForOrder(context.Background(), "ord-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_RestingIsRecorded(t *testing.T) {
	placer := &fakePlacer{order: &kalshi.Order{
		OrderID:        "ord-4",
		Status:         kalshi.OrderStatusResting,
		RemainingCount: 2,
	}}
	e, st := testExecutor(t, placer)

	trade, err := e.Execute(context.Background(), "u1", testSignal())
	require.NoError(t, err)

	// Zero fills so far: the row carries the requested quantity.
	assert.Equal(t, 2, trade.Quantity)

	ok, err := st.HasTradeForOrder(context.Background(), "ord-4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecute_PartialFillRecordsFilledCount(t *testing.T) {
	placer := &fakePlacer{order: &kalshi.Order{
		OrderID:        "ord-5",
		Status:         kalshi.OrderStatusResting,
		TakerFillCount: 1,
		RemainingCount: 1,
	}}
	e, _ := testExecutor(t, placer)

	trade, err := e.Execute(context.Background(), "u1", testSignal())
	require.NoError(t, err)
	assert.Equal(t, 1, trade.Quantity)
}

func TestExecute_ClientErrorSurfaces(t *testing.T) {
	placer := &fakePlacer{err: faults.New(faults.ErrConnection, "dial tcp: refused")}
	e, st := testExecutor(t, placer)

	_, err := e.Execute(context.Background(), "u1", testSignal())
	assert.True(t, errors.Is(err, faults.ErrConnection))

	open, err := st.ListOpenTrades(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, open)
}
