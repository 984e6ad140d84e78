// Package backtest replays the live scanner and settlement math over
// historical or synthetic predictions, entirely in memory.
package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/settle"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// Config is one simulation run's settings.
type Config struct {
	Cities                 []domain.City
	Start                  time.Time // inclusive
	End                    time.Time // inclusive
	InitialBankrollCents   int64
	MinEVThreshold         float64
	UseKellySizing         bool
	KellyFraction          float64
	MaxContractsPerTrade   int
	MaxBankrollPctPerTrade float64
	MaxDailyTrades         int
	ConsecutiveLossLimit   int
	PriceNoiseCents        int
	Seed                   int64
}

// DayKey identifies one (city, date) in the input maps.
type DayKey struct {
	City domain.City
	Date string // 2006-01-02
}

// SimulatedTrade is one executed simulation trade.
type SimulatedTrade struct {
	City       domain.City
	Date       string
	Ticker     string
	Bracket    string
	Side       domain.Side
	PriceCents int
	Quantity   int
	EV         float64
	ActualF    float64
	Won        bool
	PnlCents   int64
	FeesCents  int64
}

// CityStats aggregates per-city performance.
type CityStats struct {
	Trades   int
	Wins     int
	Losses   int
	WinRate  float64
	PnlCents int64
	AvgEV    float64
}

// KellyStats compares Kelly sizing against flat one-contract sizing over
// the same trades.
type KellyStats struct {
	AvgQuantity  float64
	MaxQuantity  int
	FlatPnlCents int64
}

// Result is the aggregate simulation outcome.
type Result struct {
	TotalTrades        int
	Wins               int
	Losses             int
	WinRate            float64
	TotalPnlCents      int64
	ROIPct             float64
	SharpeRatio        float64
	MaxDrawdownPct     float64
	FinalBankrollCents int64
	PeakBankrollCents  int64
	Blocked            int
	Days               int
	City               map[domain.City]*CityStats
	Kelly              *KellyStats
	Trades             []SimulatedTrade
}

// riskState is the in-memory stand-in for the live risk manager.
type riskState struct {
	bankrollCents     int64
	peakBankrollCents int64
	dailyCount        int
	totalTrades       int
	consecutiveLosses int
	blocked           int
}

// canTrade applies the simulation risk gates; every refusal counts.
func (r *riskState) canTrade(maxDaily, lossLimit int) bool {
	if r.bankrollCents <= 0 || r.dailyCount >= maxDaily || r.consecutiveLosses >= lossLimit {
		r.blocked++
		return false
	}
	return true
}

// maxTradeSizeCents caps any single trade at a tenth of the bankroll,
// with a 100c floor.
func (r *riskState) maxTradeSizeCents() int64 {
	size := r.bankrollCents / 10
	if size < 100 {
		size = 100
	}
	return size
}

func (r *riskState) settle(pnl int64, won bool) {
	r.bankrollCents += pnl
	r.dailyCount++
	r.totalTrades++
	if won {
		r.consecutiveLosses = 0
	} else {
		r.consecutiveLosses++
	}
	if r.bankrollCents > r.peakBankrollCents {
		r.peakBankrollCents = r.bankrollCents
	}
}

// Engine runs simulations.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Run simulates the strategy day by day. Predictions are keyed by
// (city, date); actuals are optional and synthesized from the prediction
// distribution when absent. The same seed, config and inputs always
// produce a bit-identical result.
func (e *Engine) Run(cfg Config, predictions map[DayKey]*forecast.Prediction, actuals map[DayKey]float64) (*Result, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if len(predictions) == 0 {
		return nil, faults.New(faults.ErrInsufficientData, "no predictions supplied")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	cities := sortedCities(cfg.Cities)

	state := &riskState{
		bankrollCents:     cfg.InitialBankrollCents,
		peakBankrollCents: cfg.InitialBankrollCents,
	}

	res := &Result{City: make(map[domain.City]*CityStats)}
	var dailyCloses []int64
	var dailyReturns []float64
	matched := 0

	for date := dayStart(cfg.Start); !date.After(dayStart(cfg.End)); date = date.AddDate(0, 0, 1) {
		dayOpen := state.bankrollCents
		state.dailyCount = 0

		for _, city := range cities {
			key := DayKey{City: city, Date: date.Format("2006-01-02")}
			pred, ok := predictions[key]
			if !ok {
				continue
			}
			matched++

			actual, ok := actuals[key]
			if !ok {
				if pred.Sigma <= 0 {
					continue
				}
				actual = rng.NormFloat64()*pred.Sigma + pred.Mean
			}

			prices, tickers := syntheticMarket(rng, city, key.Date, pred, cfg.PriceNoiseCents)
			e.simulateDay(cfg, state, res, pred, key.Date, actual, prices, tickers)
		}

		dailyCloses = append(dailyCloses, state.bankrollCents)
		dailyReturns = append(dailyReturns, float64(state.bankrollCents-dayOpen)/float64(cfg.InitialBankrollCents))
	}

	if matched == 0 {
		return nil, faults.New(faults.ErrInsufficientData, "no predictions inside the simulation window")
	}

	e.aggregate(cfg, state, res, dailyCloses, dailyReturns)
	return res, nil
}

// simulateDay runs the live scanner over one (city, date) and settles
// every admitted signal against the actual value.
func (e *Engine) simulateDay(cfg Config, state *riskState, res *Result,
	pred *forecast.Prediction, date string, actual float64,
	prices map[string]int, tickers map[string]string) {

	// The freshness gate judges against the prediction's own timestamp:
	// simulated predictions are always current in simulated time.
	scanner := scan.NewWithClock(scan.Config{
		MinEVThreshold:         cfg.MinEVThreshold,
		UseKellySizing:         cfg.UseKellySizing,
		KellyFraction:          cfg.KellyFraction,
		MaxContractsPerTrade:   cfg.MaxContractsPerTrade,
		MaxBankrollPctPerTrade: cfg.MaxBankrollPctPerTrade,
		MaxTradeSizeCents:      state.maxTradeSizeCents(),
	}, e.logger, func() time.Time { return pred.GeneratedAt })

	signals := scanner.Scan(pred, prices, tickers, state.bankrollCents)

	for i := range signals {
		sig := &signals[i]
		if !state.canTrade(cfg.MaxDailyTrades, cfg.ConsecutiveLossLimit) {
			continue
		}

		won, err := settle.Adjudicate(sig.Bracket, sig.Side, actual)
		if err != nil {
			continue
		}
		pnl, fee := settle.PnL(sig.PriceCents, sig.Quantity, sig.Side, won)
		state.settle(pnl, won)

		res.Trades = append(res.Trades, SimulatedTrade{
			City:       sig.City,
			Date:       date,
			Ticker:     sig.Ticker,
			Bracket:    sig.Bracket,
			Side:       sig.Side,
			PriceCents: sig.PriceCents,
			Quantity:   sig.Quantity,
			EV:         sig.EV,
			ActualF:    actual,
			Won:        won,
			PnlCents:   pnl,
			FeesCents:  fee,
		})
	}
}

// syntheticMarket prices each bracket at its model probability plus
// uniform integer noise, clamped to the tradable range, with tickers
// derived deterministically from city and date.
func syntheticMarket(rng *rand.Rand, city domain.City, date string,
	pred *forecast.Prediction, noise int) (map[string]int, map[string]string) {

	prices := make(map[string]int, len(pred.Brackets))
	tickers := make(map[string]string, len(pred.Brackets))

	for i, b := range pred.Brackets {
		price := int(math.Round(b.Probability * 100))
		if noise > 0 {
			price += rng.Intn(2*noise+1) - noise
		}
		if price < 1 {
			price = 1
		}
		if price > 99 {
			price = 99
		}
		prices[b.Def.Label] = price
		tickers[b.Def.Label] = fmt.Sprintf("SIM-%s-%s-B%d", city, date, i)
	}
	return prices, tickers
}

// aggregate fills the result's summary statistics.
func (e *Engine) aggregate(cfg Config, state *riskState, res *Result,
	dailyCloses []int64, dailyReturns []float64) {

	for _, tr := range res.Trades {
		res.TotalTrades++
		res.TotalPnlCents += tr.PnlCents
		cs := res.City[tr.City]
		if cs == nil {
			cs = &CityStats{}
			res.City[tr.City] = cs
		}
		cs.Trades++
		cs.PnlCents += tr.PnlCents
		cs.AvgEV += tr.EV
		if tr.Won {
			res.Wins++
			cs.Wins++
		} else {
			res.Losses++
			cs.Losses++
		}
	}
	for _, cs := range res.City {
		cs.WinRate = float64(cs.Wins) / float64(cs.Trades)
		cs.AvgEV /= float64(cs.Trades)
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}

	res.ROIPct = float64(res.TotalPnlCents) / float64(cfg.InitialBankrollCents) * 100
	res.SharpeRatio = sharpe(dailyReturns)
	res.MaxDrawdownPct = maxDrawdown(cfg.InitialBankrollCents, dailyCloses)
	res.FinalBankrollCents = state.bankrollCents
	res.PeakBankrollCents = state.peakBankrollCents
	res.Blocked = state.blocked
	res.Days = len(dailyCloses)

	if cfg.UseKellySizing && res.TotalTrades > 0 {
		res.Kelly = kellyStats(res.Trades)
	}
}

// sharpe annualizes the mean/std of daily returns. Fewer than two days,
// or a flat series, yields zero.
func sharpe(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	mean := stat.Mean(dailyReturns, nil)
	std := stat.StdDev(dailyReturns, nil)
	if std < 1e-12 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest percent decline from a running peak across
// daily bankroll closes, starting from the initial bankroll.
func maxDrawdown(initial int64, closes []int64) float64 {
	peak := initial
	var worst float64
	for _, c := range closes {
		if c > peak {
			peak = c
			continue
		}
		if peak > 0 {
			dd := float64(peak-c) / float64(peak) * 100
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// kellyStats replays the trades at one contract each to measure what the
// sizing bought.
func kellyStats(trades []SimulatedTrade) *KellyStats {
	ks := &KellyStats{}
	var totalQty int
	for _, tr := range trades {
		totalQty += tr.Quantity
		if tr.Quantity > ks.MaxQuantity {
			ks.MaxQuantity = tr.Quantity
		}
		flatPnl, _ := settle.PnL(tr.PriceCents, 1, tr.Side, tr.Won)
		ks.FlatPnlCents += flatPnl
	}
	ks.AvgQuantity = float64(totalQty) / float64(len(trades))
	return ks
}

func validate(cfg Config) error {
	if len(cfg.Cities) == 0 {
		return faults.New(faults.ErrInput, "no cities configured")
	}
	if cfg.End.Before(cfg.Start) {
		return faults.New(faults.ErrInput, "end date precedes start date")
	}
	if cfg.InitialBankrollCents <= 0 {
		return faults.New(faults.ErrInput, "initial bankroll must be positive")
	}
	if cfg.MaxDailyTrades <= 0 {
		return faults.New(faults.ErrInput, "daily trade cap must be positive")
	}
	if cfg.ConsecutiveLossLimit <= 0 {
		return faults.New(faults.ErrInput, "consecutive loss limit must be positive")
	}
	return nil
}

func sortedCities(cities []domain.City) []domain.City {
	out := append([]domain.City(nil), cities...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
