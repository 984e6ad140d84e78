package scan

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

func TestEV_PositiveEdgeLong(t *testing.T) {
	// p=0.35 at 15c: fee(15, long) = max(1, floor(85*0.15)) = 12, so
	// EV = 0.35 - 0.15 - 0.12 = 0.08.
	ev := EV(0.35, 15, domain.SideLong)
	assert.InDelta(t, 0.08, ev, 1e-9)
}

func TestEV_ShortSide(t *testing.T) {
	// p=0.10 at 80c short: prob_win 0.90, cost 0.20, fee(80, short) =
	// max(1, floor(80*0.15)) = 12 -> EV = 0.90 - 0.20 - 0.12 = 0.58.
	ev := EV(0.10, 80, domain.SideShort)
	assert.InDelta(t, 0.58, ev, 1e-9)
}

func TestEV_RoundedToFourDecimals(t *testing.T) {
	ev := EV(0.33333, 15, domain.SideLong)
	assert.InDelta(t, 0.0633, ev, 1e-12)
}

func TestBestSide(t *testing.T) {
	side, ev := BestSide(0.35, 15)
	assert.Equal(t, domain.SideLong, side)
	assert.InDelta(t, 0.08, ev, 1e-9)

	side, ev = BestSide(0.10, 80)
	assert.Equal(t, domain.SideShort, side)
	assert.InDelta(t, 0.58, ev, 1e-9)
}

func TestKellyQuantity_CapsInOrder(t *testing.T) {
	// Bankroll 100,000c, quarter-Kelly, p=0.80 at 10c long. Raw Kelly is
	// large; the contract cap of 3 binds first.
	q := KellyQuantity(0.80, 10, domain.SideLong, KellyParams{
		Fraction:               0.25,
		BankrollCents:          100_000,
		MaxContractsPerTrade:   3,
		MaxBankrollPctPerTrade: 1.0,
		MaxTradeSizeCents:      100_000,
	})
	assert.Equal(t, 3, q)
}

func TestKellyQuantity_NoEdgeMeansZero(t *testing.T) {
	// p well below market: raw Kelly is negative.
	q := KellyQuantity(0.05, 50, domain.SideLong, KellyParams{
		Fraction:      0.25,
		BankrollCents: 100_000,
	})
	assert.Equal(t, 0, q)
}

func TestKellyQuantity_FloorsToOne(t *testing.T) {
	// Tiny bankroll: the naive quantity is 0 but the edge is positive.
	q := KellyQuantity(0.80, 10, domain.SideLong, KellyParams{
		Fraction:      0.25,
		BankrollCents: 30,
	})
	assert.Equal(t, 1, q)
}

func TestKellyQuantity_BankrollPctCap(t *testing.T) {
	// 10% of 10,000c = 1,000c at 50c/contract caps at 20.
	q := KellyQuantity(0.95, 50, domain.SideLong, KellyParams{
		Fraction:               1.0,
		BankrollCents:          10_000,
		MaxBankrollPctPerTrade: 0.10,
	})
	assert.LessOrEqual(t, q, 20)
	assert.Greater(t, q, 0)
}

func TestKellyQuantity_TradeSizeCap(t *testing.T) {
	q := KellyQuantity(0.95, 50, domain.SideLong, KellyParams{
		Fraction:          1.0,
		BankrollCents:     1_000_000,
		MaxTradeSizeCents: 500,
	})
	assert.Equal(t, 10, q)
}

func TestKellyQuantity_Idempotent(t *testing.T) {
	params := KellyParams{Fraction: 0.25, BankrollCents: 50_000, MaxContractsPerTrade: 100}
	first := KellyQuantity(0.60, 30, domain.SideLong, params)
	second := KellyQuantity(0.60, 30, domain.SideLong, params)
	assert.Equal(t, first, second)
	assert.Greater(t, first, 0)
}

func prediction(t *testing.T, generatedAt time.Time, probs map[string]float64) *forecast.Prediction {
	t.Helper()
	labels := []string{"<=50", "51-52", "53-54", "55-56", "57-58", ">=59"}
	brackets := make([]forecast.Bracket, 0, len(labels))
	for _, l := range labels {
		def, err := domain.DefFromLabel(l)
		require.NoError(t, err)
		brackets = append(brackets, forecast.Bracket{Def: def, Probability: probs[l]})
	}
	return &forecast.Prediction{
		City:        domain.CityNYC,
		Date:        time.Date(2026, 8, 24, 0, 0, 0, 0, domain.Eastern()),
		Brackets:    brackets,
		Confidence:  forecast.ConfidenceHigh,
		GeneratedAt: generatedAt,
	}
}

func evenTickers() map[string]string {
	return map[string]string{
		"<=50": "T1", "51-52": "T2", "53-54": "T3",
		"55-56": "T4", "57-58": "T5", ">=59": "T6",
	}
}

func TestScanner_PositiveEVLong(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})
	prices := map[string]int{
		"<=50": 5, "51-52": 20, "53-54": 15,
		"55-56": 25, "57-58": 10, ">=59": 5,
	}

	signals := s.Scan(pred, prices, evenTickers(), 100_000)
	require.NotEmpty(t, signals)

	top := signals[0]
	assert.Equal(t, "53-54", top.Bracket)
	assert.Equal(t, domain.SideLong, top.Side)
	assert.Equal(t, 15, top.PriceCents)
	assert.InDelta(t, 0.08, top.EV, 1e-9)
	assert.InDelta(t, 0.35, top.ModelProbability, 1e-9)
	assert.InDelta(t, 0.15, top.MarketProbability, 1e-9)
	assert.Equal(t, 1, top.Quantity, "Kelly disabled means flat one contract")

	// EV-descending ordering.
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i-1].EV, signals[i].EV)
	}
}

func TestScanner_FeesEatTheEdge(t *testing.T) {
	// Market priced exactly at model probability: fees push every EV
	// negative and no signal survives.
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	probs := map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	}
	prices := make(map[string]int, len(probs))
	for l, p := range probs {
		prices[l] = int(p * 100)
	}

	signals := s.Scan(prediction(t, now, probs), prices, evenTickers(), 100_000)
	assert.Empty(t, signals)
}

func TestScanner_Idempotent(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})
	prices := map[string]int{"53-54": 15, "55-56": 25}

	first := s.Scan(pred, prices, evenTickers(), 100_000)
	second := s.Scan(pred, prices, evenTickers(), 100_000)
	assert.Equal(t, first, second)
}

func TestScanner_SkipsBracketsWithoutQuotes(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.01}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})

	// Only one bracket has both a price and a ticker.
	prices := map[string]int{"53-54": 15, "55-56": 25}
	tickers := map[string]string{"53-54": "T3"}

	signals := s.Scan(pred, prices, tickers, 100_000)
	require.Len(t, signals, 1)
	assert.Equal(t, "53-54", signals[0].Bracket)
}

func TestScanner_RejectsStalePrediction(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now.Add(-3*time.Hour), map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})
	signals := s.Scan(pred, map[string]int{"53-54": 15}, evenTickers(), 100_000)
	assert.Nil(t, signals)
}

func TestScanner_RejectsBadDistribution(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	// Sum far from 1.
	pred := prediction(t, now, map[string]float64{
		"<=50": 0.5, "51-52": 0.5, "53-54": 0.5,
		"55-56": 0.5, "57-58": 0.5, ">=59": 0.5,
	})
	assert.Nil(t, s.Scan(pred, map[string]int{"53-54": 15}, evenTickers(), 100_000))

	// Negative probability.
	pred = prediction(t, now, map[string]float64{
		"<=50": -0.05, "51-52": 0.30, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})
	assert.Nil(t, s.Scan(pred, map[string]int{"53-54": 15}, evenTickers(), 100_000))

	// Wrong bracket count.
	short := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})
	short.Brackets = short.Brackets[:5]
	assert.Nil(t, s.Scan(short, map[string]int{"53-54": 15}, evenTickers(), 100_000))
}

func TestScanner_RejectsInvalidPrice(t *testing.T) {
	s := New(Config{MinEVThreshold: 0.05}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.20, "53-54": 0.35,
		"55-56": 0.25, "57-58": 0.10, ">=59": 0.05,
	})

	assert.Nil(t, s.Scan(pred, map[string]int{"53-54": 0}, evenTickers(), 100_000))
	assert.Nil(t, s.Scan(pred, map[string]int{"53-54": 100}, evenTickers(), 100_000))
}

func TestScanner_KellySizing(t *testing.T) {
	s := New(Config{
		MinEVThreshold:       0.05,
		UseKellySizing:       true,
		KellyFraction:        0.25,
		MaxContractsPerTrade: 3,
	}, zerolog.Nop())
	now := time.Now()
	s.clock = func() time.Time { return now }

	pred := prediction(t, now, map[string]float64{
		"<=50": 0.05, "51-52": 0.10, "53-54": 0.60,
		"55-56": 0.15, "57-58": 0.05, ">=59": 0.05,
	})
	prices := map[string]int{"53-54": 15}

	signals := s.Scan(pred, prices, evenTickers(), 100_000)
	require.Len(t, signals, 1)
	assert.Equal(t, 3, signals[0].Quantity, "contract cap binds")
}
