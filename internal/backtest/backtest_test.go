package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

func testConfig() Config {
	return Config{
		Cities:                 []domain.City{domain.CityNYC, domain.CityCHI},
		Start:                  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:                    time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		InitialBankrollCents:   100_000,
		MinEVThreshold:         0.05,
		UseKellySizing:         true,
		KellyFraction:          0.25,
		MaxContractsPerTrade:   10,
		MaxBankrollPctPerTrade: 0.10,
		MaxDailyTrades:         5,
		ConsecutiveLossLimit:   3,
		PriceNoiseCents:        10,
		Seed:                   42,
	}
}

func testPrediction(city domain.City, date time.Time) *forecast.Prediction {
	labels := []string{"<=50", "51-52", "53-54", "55-56", "57-58", ">=59"}
	probs := []float64{0.05, 0.15, 0.30, 0.30, 0.15, 0.05}

	brackets := make([]forecast.Bracket, len(labels))
	for i, label := range labels {
		def, err := domain.DefFromLabel(label)
		if err != nil {
			panic(err)
		}
		brackets[i] = forecast.Bracket{Def: def, Probability: probs[i]}
	}

	return &forecast.Prediction{
		City:        city,
		Date:        date,
		Mean:        54.5,
		Spread:      1.5,
		Sigma:       2.5,
		SourceCount: 4,
		Brackets:    brackets,
		Confidence:  forecast.ConfidenceHigh,
		GeneratedAt: date,
	}
}

func testInputs(cfg Config) map[DayKey]*forecast.Prediction {
	preds := make(map[DayKey]*forecast.Prediction)
	for date := cfg.Start; !date.After(cfg.End); date = date.AddDate(0, 0, 1) {
		for _, city := range cfg.Cities {
			preds[DayKey{City: city, Date: date.Format("2006-01-02")}] = testPrediction(city, date)
		}
	}
	return preds
}

func TestRun_Deterministic(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(zerolog.Nop())

	first, err := e.Run(cfg, testInputs(cfg), nil)
	require.NoError(t, err)
	second, err := e.Run(cfg, testInputs(cfg), nil)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same seed and inputs give bit-identical results")
}

func TestRun_Consistency(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(zerolog.Nop())

	res, err := e.Run(cfg, testInputs(cfg), nil)
	require.NoError(t, err)

	assert.Equal(t, res.TotalTrades, res.Wins+res.Losses)
	assert.Equal(t, res.TotalTrades, len(res.Trades))
	assert.Equal(t, cfg.InitialBankrollCents+res.TotalPnlCents, res.FinalBankrollCents)
	assert.Equal(t, 10, res.Days)

	var cityTrades int
	for _, cs := range res.City {
		cityTrades += cs.Trades
		assert.Equal(t, cs.Trades, cs.Wins+cs.Losses)
	}
	assert.Equal(t, res.TotalTrades, cityTrades)

	if res.TotalTrades > 0 {
		require.NotNil(t, res.Kelly)
		assert.GreaterOrEqual(t, res.Kelly.AvgQuantity, 1.0)
		assert.GreaterOrEqual(t, res.Kelly.MaxQuantity, 1)
	}
}

func TestRun_ProvidedActuals(t *testing.T) {
	cfg := testConfig()
	cfg.Cities = []domain.City{domain.CityNYC}
	cfg.End = cfg.Start
	e := NewEngine(zerolog.Nop())

	preds := testInputs(cfg)
	key := DayKey{City: domain.CityNYC, Date: cfg.Start.Format("2006-01-02")}
	actuals := map[DayKey]float64{key: 53.7}

	res, err := e.Run(cfg, preds, actuals)
	require.NoError(t, err)

	// With the actual pinned, every trade adjudicates against 53.7.
	for _, tr := range res.Trades {
		assert.InDelta(t, 53.7, tr.ActualF, 1e-9)
		won, aerr := domainHit(tr.Bracket, tr.Side, 53.7)
		require.NoError(t, aerr)
		assert.Equal(t, won, tr.Won)
	}
}

func domainHit(bracket string, side domain.Side, actual float64) (bool, error) {
	hit, err := domain.DidHit(bracket, actual)
	if err != nil {
		return false, err
	}
	if side == domain.SideShort {
		return !hit, nil
	}
	return hit, nil
}

func TestRun_InsufficientData(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(zerolog.Nop())

	_, err := e.Run(cfg, nil, nil)
	assert.ErrorIs(t, err, faults.ErrInsufficientData)

	// Predictions entirely outside the window also fail.
	outside := map[DayKey]*forecast.Prediction{
		{City: domain.CityNYC, Date: "2020-01-01"}: testPrediction(domain.CityNYC, time.Now()),
	}
	_, err = e.Run(cfg, outside, nil)
	assert.ErrorIs(t, err, faults.ErrInsufficientData)
}

func TestRun_ValidatesConfig(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	bad := testConfig()
	bad.Cities = nil
	_, err := e.Run(bad, testInputs(testConfig()), nil)
	assert.ErrorIs(t, err, faults.ErrInput)

	bad = testConfig()
	bad.End = bad.Start.AddDate(0, 0, -1)
	_, err = e.Run(bad, testInputs(testConfig()), nil)
	assert.ErrorIs(t, err, faults.ErrInput)

	bad = testConfig()
	bad.InitialBankrollCents = 0
	_, err = e.Run(bad, testInputs(testConfig()), nil)
	assert.ErrorIs(t, err, faults.ErrInput)
}

func TestRiskState_Gates(t *testing.T) {
	st := &riskState{bankrollCents: 10_000, peakBankrollCents: 10_000}

	assert.True(t, st.canTrade(2, 3))
	st.dailyCount = 2
	assert.False(t, st.canTrade(2, 3), "daily cap blocks")

	st.dailyCount = 0
	st.consecutiveLosses = 3
	assert.False(t, st.canTrade(2, 3), "consecutive losses block")

	st.consecutiveLosses = 0
	st.bankrollCents = 0
	assert.False(t, st.canTrade(2, 3), "empty bankroll blocks")
	assert.Equal(t, 3, st.blocked)
}

func TestRiskState_SettleUpdatesCounters(t *testing.T) {
	st := &riskState{bankrollCents: 1_000, peakBankrollCents: 1_000}

	st.settle(-100, false)
	st.settle(-100, false)
	assert.Equal(t, 2, st.consecutiveLosses)
	assert.EqualValues(t, 800, st.bankrollCents)

	st.settle(500, true)
	assert.Equal(t, 0, st.consecutiveLosses, "a win resets the streak")
	assert.EqualValues(t, 1_300, st.bankrollCents)
	assert.EqualValues(t, 1_300, st.peakBankrollCents)
}

func TestRiskState_MaxTradeSize(t *testing.T) {
	st := &riskState{bankrollCents: 50_000}
	assert.EqualValues(t, 5_000, st.maxTradeSizeCents())

	st.bankrollCents = 500
	assert.EqualValues(t, 100, st.maxTradeSizeCents(), "100c floor")
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, sharpe(nil))
	assert.Zero(t, sharpe([]float64{0.01}), "one day is not a series")
	assert.Zero(t, sharpe([]float64{0.02, 0.02, 0.02}), "flat series")

	// mean 0.02, sample std sqrt(2e-4/1) over {0.01, 0.03}.
	got := sharpe([]float64{0.01, 0.03})
	assert.InDelta(t, 22.45, got, 0.01)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, maxDrawdown(1_000, nil))
	assert.Zero(t, maxDrawdown(1_000, []int64{1_100, 1_200}))

	// Peak 1100 to trough 880 is a 20% decline.
	got := maxDrawdown(1_000, []int64{1_100, 880, 990, 1_210, 968})
	assert.InDelta(t, 20.0, got, 1e-9)
}

func TestSyntheticMarket_Clamps(t *testing.T) {
	pred := testPrediction(domain.CityNYC, time.Now())
	// Zero noise: prices are the probabilities in cents, floor-clamped.
	prices, tickers := syntheticMarket(nil, domain.CityNYC, "2026-06-01", pred, 0)

	require.Len(t, prices, 6)
	require.Len(t, tickers, 6)
	for label, price := range prices {
		assert.GreaterOrEqual(t, price, 1, "bracket %s", label)
		assert.LessOrEqual(t, price, 99, "bracket %s", label)
	}
	assert.Equal(t, 30, prices["53-54"])
	assert.Equal(t, "SIM-NYC-2026-06-01-B0", tickers["<=50"])
}
