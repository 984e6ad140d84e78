package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(userID string) *Trade {
	return &Trade{
		ID:                uuid.NewString(),
		UserID:            userID,
		OrderID:           uuid.NewString(),
		City:              domain.CityNYC,
		TradeDate:         time.Now().UTC(),
		Ticker:            "KXHIGHNY-25AUG24-B55",
		Bracket:           "55-56",
		Side:              domain.SideLong,
		PriceCents:        22,
		Quantity:          2,
		ModelProbability:  0.42,
		MarketProbability: 0.22,
		EVAtEntry:         0.08,
		Confidence:        "high",
		Status:            TradeOpen,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestTrade_InsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tr := sampleTrade("u1")
	require.NoError(t, s.InsertTrade(ctx, tr))

	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, domain.CityNYC, got.City)
	assert.Equal(t, domain.SideLong, got.Side)
	assert.Equal(t, TradeOpen, got.Status)
	assert.Nil(t, got.SettledAt)
	assert.Nil(t, got.SettlementTempF)
}

func TestTrade_SettleTransition(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tr := sampleTrade("u1")
	require.NoError(t, s.InsertTrade(ctx, tr))

	settledAt := time.Now().UTC()
	require.NoError(t, s.SettleTrade(ctx, tr.ID, TradeWon, 134, 22, 55.4, "METAR KJFK", "won it", settledAt))

	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, TradeWon, got.Status)
	assert.EqualValues(t, 134, got.PnlCents)
	assert.EqualValues(t, 22, got.FeesCents)
	require.NotNil(t, got.SettlementTempF)
	assert.InDelta(t, 55.4, *got.SettlementTempF, 1e-9)
	require.NotNil(t, got.SettledAt)

	// Second settlement must fail: the OPEN->settled transition is single.
	err = s.SettleTrade(ctx, tr.ID, TradeLost, -44, 0, 57.0, "METAR KJFK", "", settledAt)
	assert.Error(t, err)
}

func TestTrade_OpenExposure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	long := sampleTrade("u1") // cost 22*2 = 44
	require.NoError(t, s.InsertTrade(ctx, long))

	short := sampleTrade("u1")
	short.ID = uuid.NewString()
	short.OrderID = uuid.NewString()
	short.Side = domain.SideShort
	short.PriceCents = 70 // cost (100-70)*2 = 60
	require.NoError(t, s.InsertTrade(ctx, short))

	other := sampleTrade("u2")
	require.NoError(t, s.InsertTrade(ctx, other))

	total, err := s.OpenExposureCents(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 104, total)

	// Settled trades drop out of exposure.
	require.NoError(t, s.SettleTrade(ctx, long.ID, TradeLost, -44, 0, 60, "METAR", "", time.Now()))
	total, err = s.OpenExposureCents(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 60, total)
}

func TestTrade_HasTradeForOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tr := sampleTrade("u1")
	require.NoError(t, s.InsertTrade(ctx, tr))

	ok, err := s.HasTradeForOrder(ctx, tr.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasTradeForOrder(ctx, "missing-order")
	require.NoError(t, err)
	assert.False(t, ok)
}

func samplePending(userID string, expiresAt time.Time) *PendingTrade {
	return &PendingTrade{
		ID:                uuid.NewString(),
		UserID:            userID,
		City:              domain.CityCHI,
		Ticker:            "KXHIGHCHI-25AUG24-B85",
		Bracket:           "85-86",
		Side:              domain.SideLong,
		PriceCents:        30,
		Quantity:          1,
		ModelProbability:  0.5,
		MarketProbability: 0.3,
		EV:                0.1,
		Confidence:        "medium",
		Status:            PendingPending,
		CreatedAt:         time.Now().UTC(),
		ExpiresAt:         expiresAt,
	}
}

func TestPending_TransitionSetsActedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := samplePending("u1", time.Now().Add(30*time.Minute))
	require.NoError(t, s.InsertPendingTrade(ctx, p))

	got, err := s.GetPendingTrade(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ActedAt, "PENDING rows carry no acted_at")

	ok, err := s.TransitionPendingTrade(ctx, p.ID, PendingPending, PendingApproved, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetPendingTrade(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PendingApproved, got.Status)
	assert.NotNil(t, got.ActedAt)

	// A second transition finds no PENDING row.
	ok, err = s.TransitionPendingTrade(ctx, p.ID, PendingPending, PendingRejected, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	// The approved entry can still advance to EXECUTED.
	ok, err = s.TransitionPendingTrade(ctx, p.ID, PendingApproved, PendingExecuted, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPending_ExpireOverdue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := samplePending("u1", now.Add(-time.Minute))
	fresh := samplePending("u1", now.Add(29*time.Minute))
	require.NoError(t, s.InsertPendingTrade(ctx, overdue))
	require.NoError(t, s.InsertPendingTrade(ctx, fresh))

	expired, err := s.ExpireOverduePending(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
	assert.Equal(t, PendingExpired, expired[0].Status)
	assert.NotNil(t, expired[0].ActedAt)

	got, err := s.GetPendingTrade(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, PendingExpired, got.Status)
	assert.NotNil(t, got.ActedAt)

	got, err = s.GetPendingTrade(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, PendingPending, got.Status)
}

func TestDailyRisk_GetOrCreate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	st, err := s.GetOrCreateDailyRisk(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.TotalExposureCents)
	assert.Equal(t, 0, st.ConsecutiveLosses)
	assert.Nil(t, st.CooldownUntil)

	// Idempotent: a second call returns the same row, not a reset one.
	err = s.UpdateDailyRisk(ctx, "u1", "2026-08-24", func(st *DailyRiskState) error {
		st.TotalExposureCents = 500
		return nil
	})
	require.NoError(t, err)

	st, err = s.GetOrCreateDailyRisk(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.EqualValues(t, 500, st.TotalExposureCents)
}

func TestDailyRisk_UpdateRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	deadline := time.Date(2026, 8, 24, 23, 59, 59, 0, time.UTC)
	err := s.UpdateDailyRisk(ctx, "u1", "2026-08-24", func(st *DailyRiskState) error {
		st.RealizedPnlCents = -300
		st.ConsecutiveLosses = 3
		st.CooldownUntil = &deadline
		return nil
	})
	require.NoError(t, err)

	st, err := s.GetOrCreateDailyRisk(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.EqualValues(t, -300, st.RealizedPnlCents)
	assert.Equal(t, 3, st.ConsecutiveLosses)
	require.NotNil(t, st.CooldownUntil)
	assert.True(t, st.CooldownUntil.Equal(deadline))
}

func TestDailyRisk_ConcurrentReservations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Two goroutines race to reserve 80 of the last 100 cents; exactly one
	// update callback may admit its cost.
	const maxExposure = 100
	results := make([]bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.UpdateDailyRisk(ctx, "u1", "2026-08-24", func(st *DailyRiskState) error {
				if st.TotalExposureCents+80 > maxExposure {
					return nil
				}
				st.TotalExposureCents += 80
				results[i] = true
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)

	st, err := s.GetOrCreateDailyRisk(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.EqualValues(t, 80, st.TotalExposureCents)
}

func TestSettlements_UpsertImmutable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := &SettlementRecord{
		City:      domain.CityMIA,
		Date:      "2026-08-24",
		HighTempF: 91.2,
		Source:    "METAR KMIA",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertSettlement(ctx, rec))

	// Re-inserting with a different value does not overwrite.
	changed := *rec
	changed.HighTempF = 80.0
	require.NoError(t, s.UpsertSettlement(ctx, &changed))

	got, err := s.GetSettlement(ctx, domain.CityMIA, "2026-08-24")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 91.2, got.HighTempF, 1e-9)

	missing, err := s.GetSettlement(ctx, domain.CityNYC, "2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestForecastErrors_SamplesByMonth(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insert := func(date string, forecast, actual float64) {
		require.NoError(t, s.InsertForecastError(ctx, &ForecastError{
			Source:    "nws",
			City:      domain.CityLAX,
			Date:      date,
			ForecastF: forecast,
			ActualF:   actual,
		}))
	}
	insert("2026-06-10", 75, 77) // summer
	insert("2026-07-11", 80, 79) // summer
	insert("2026-01-12", 60, 58) // winter

	summer, err := s.ErrorSamples(ctx, "nws", domain.CityLAX, []time.Month{time.June, time.July, time.August})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{2, -1}, summer)

	winter, err := s.ErrorSamples(ctx, "nws", domain.CityLAX, []time.Month{time.December, time.January, time.February})
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{-2}, winter)

	none, err := s.ErrorSamples(ctx, "other", domain.CityLAX, []time.Month{time.June})
	require.NoError(t, err)
	assert.Empty(t, none)
}
