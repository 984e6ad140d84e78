// Package main runs strategy simulations over synthetic weather seasons:
// it builds climatology-driven predictions for a date range, replays the
// live scanner and settlement math against them, and prints the aggregate
// performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/backtest"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// climatologyHigh is the monthly average daily high in °F per city, used
// as the center of each synthetic season.
var climatologyHigh = map[domain.City]map[time.Month]float64{
	domain.CityNYC: {
		time.January: 39, time.February: 42, time.March: 50,
		time.April: 61, time.May: 71, time.June: 79,
		time.July: 84, time.August: 83, time.September: 76,
		time.October: 65, time.November: 54, time.December: 44,
	},
	domain.CityLAX: {
		time.January: 68, time.February: 69, time.March: 70,
		time.April: 72, time.May: 74, time.June: 78,
		time.July: 83, time.August: 84, time.September: 83,
		time.October: 79, time.November: 73, time.December: 68,
	},
	domain.CityCHI: {
		time.January: 32, time.February: 36, time.March: 47,
		time.April: 59, time.May: 70, time.June: 80,
		time.July: 84, time.August: 82, time.September: 75,
		time.October: 63, time.November: 48, time.December: 36,
	},
	domain.CityMIA: {
		time.January: 76, time.February: 78, time.March: 80,
		time.April: 83, time.May: 87, time.June: 89,
		time.July: 91, time.August: 91, time.September: 89,
		time.October: 86, time.November: 81, time.December: 78,
	},
}

// dayToDaySigma is how far a synthetic day's forecast mean wanders from
// the monthly climatology.
const dayToDaySigma = 4.0

func main() {
	var (
		citiesFlag   = flag.String("cities", "NYC,LAX,CHI,MIA", "comma-separated cities to simulate")
		startFlag    = flag.String("start", "", "first simulated date, 2006-01-02 (default 90 days ago)")
		endFlag      = flag.String("end", "", "last simulated date, 2006-01-02 (default yesterday)")
		bankroll     = flag.Float64("bankroll", 1000, "starting bankroll in dollars")
		minEV        = flag.Float64("min-ev", 0.05, "minimum expected value per contract to trade")
		kelly        = flag.Bool("kelly", true, "size positions with fractional Kelly")
		kellyFrac    = flag.Float64("kelly-fraction", 0.25, "fraction of full Kelly to bet")
		maxContracts = flag.Int("max-contracts", 10, "contract cap per trade")
		maxPct       = flag.Float64("max-bankroll-pct", 0.05, "bankroll fraction cap per trade")
		maxDaily     = flag.Int("max-daily", 5, "trade cap per simulated day")
		lossLimit    = flag.Int("loss-limit", 3, "consecutive losses before the simulation stops trading")
		noise        = flag.Int("noise", 3, "market mispricing noise in cents")
		seed         = flag.Int64("seed", 42, "random seed; same seed, same result")
		verbose      = flag.Bool("v", false, "print every simulated trade")
	)
	flag.Parse()

	cities, err := parseCities(*citiesFlag)
	if err != nil {
		fatal(err)
	}
	start, end, err := parseWindow(*startFlag, *endFlag)
	if err != nil {
		fatal(err)
	}

	cfg := backtest.Config{
		Cities:                 cities,
		Start:                  start,
		End:                    end,
		InitialBankrollCents:   int64(*bankroll * 100),
		MinEVThreshold:         *minEV,
		UseKellySizing:         *kelly,
		KellyFraction:          *kellyFrac,
		MaxContractsPerTrade:   *maxContracts,
		MaxBankrollPctPerTrade: *maxPct,
		MaxDailyTrades:         *maxDaily,
		ConsecutiveLossLimit:   *lossLimit,
		PriceNoiseCents:        *noise,
		Seed:                   *seed,
	}

	predictions := buildPredictions(cities, start, end, *seed)

	engine := backtest.NewEngine(zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	res, err := engine.Run(cfg, predictions, nil)
	if err != nil {
		fatal(err)
	}

	printReport(cfg, res, *verbose)
}

// buildPredictions synthesizes one prediction per (city, date): the mean
// drifts around monthly climatology, sigma comes from the seasonal
// calibration table, and six brackets are laid out around the mean the
// way the exchange lists them.
func buildPredictions(cities []domain.City, start, end time.Time, seed int64) map[backtest.DayKey]*forecast.Prediction {
	// A separate stream from the engine's, so prediction generation and
	// market noise never interleave.
	rng := rand.New(rand.NewSource(seed + 1))
	ctx := context.Background()

	preds := make(map[backtest.DayKey]*forecast.Prediction)
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		for _, city := range cities {
			mean := climatologyHigh[city][date.Month()] + rng.NormFloat64()*dayToDaySigma
			sigma := forecast.Sigma(ctx, nil, city, date.Month())

			defs, err := bracketLadder(mean)
			if err != nil {
				continue
			}
			brackets, err := forecast.BracketProbabilities(mean, sigma, defs)
			if err != nil {
				continue
			}

			generated := time.Date(date.Year(), date.Month(), date.Day(), 10, 0, 0, 0, domain.Eastern())
			preds[backtest.DayKey{City: city, Date: date.Format("2006-01-02")}] = &forecast.Prediction{
				City:        city,
				Date:        date,
				Mean:        mean,
				Spread:      sigma / 2,
				Sigma:       sigma,
				SourceCount: 3,
				Brackets:    brackets,
				Confidence:  forecast.ScoreConfidence(sigma/2, sigma, 3, 0),
				GeneratedAt: generated,
			}
		}
	}
	return preds
}

// bracketLadder builds the exchange's six-bracket layout around a mean:
// two-degree interior ranges anchored on an odd base, with catch-all
// tails.
func bracketLadder(mean float64) ([]domain.BracketDef, error) {
	base := int(mean)
	if base%2 == 0 {
		base--
	}

	labels := []string{
		fmt.Sprintf("<=%d", base-5),
		fmt.Sprintf("%d-%d", base-4, base-3),
		fmt.Sprintf("%d-%d", base-2, base-1),
		fmt.Sprintf("%d-%d", base, base+1),
		fmt.Sprintf("%d-%d", base+2, base+3),
		fmt.Sprintf(">=%d", base+4),
	}

	defs := make([]domain.BracketDef, 0, len(labels))
	for _, label := range labels {
		def, err := domain.DefFromLabel(label)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseCities(s string) ([]domain.City, error) {
	var cities []domain.City
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		city, err := domain.ParseCity(part)
		if err != nil {
			return nil, err
		}
		cities = append(cities, city)
	}
	if len(cities) == 0 {
		return nil, fmt.Errorf("no cities given")
	}
	return cities, nil
}

func parseWindow(startFlag, endFlag string) (start, end time.Time, err error) {
	now := time.Now().UTC()
	end = now.AddDate(0, 0, -1)
	start = now.AddDate(0, 0, -90)

	if startFlag != "" {
		if start, err = time.Parse("2006-01-02", startFlag); err != nil {
			return start, end, fmt.Errorf("bad -start: %w", err)
		}
	}
	if endFlag != "" {
		if end, err = time.Parse("2006-01-02", endFlag); err != nil {
			return start, end, fmt.Errorf("bad -end: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("-end precedes -start")
	}
	return start, end, nil
}

func printReport(cfg backtest.Config, res *backtest.Result, verbose bool) {
	rule := strings.Repeat("=", 64)

	fmt.Println(rule)
	fmt.Println("WEATHER BRACKET STRATEGY BACKTEST")
	fmt.Println(rule)
	fmt.Printf("Window:        %s .. %s (%d days)\n",
		cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"), res.Days)
	fmt.Printf("Cities:        %s\n", joinCities(cfg.Cities))
	fmt.Printf("Bankroll:      %s\n", dollars(cfg.InitialBankrollCents))
	fmt.Printf("Min EV:        %.2f   Noise: %dc   Seed: %d\n",
		cfg.MinEVThreshold, cfg.PriceNoiseCents, cfg.Seed)
	if cfg.UseKellySizing {
		fmt.Printf("Sizing:        %.0f%% Kelly, max %d contracts, max %.0f%% of bankroll\n",
			cfg.KellyFraction*100, cfg.MaxContractsPerTrade, cfg.MaxBankrollPctPerTrade*100)
	} else {
		fmt.Println("Sizing:        flat 1 contract")
	}
	fmt.Println()

	fmt.Println("RESULTS")
	fmt.Printf("  Trades:        %d (%d won / %d lost, %.1f%% win rate)\n",
		res.TotalTrades, res.Wins, res.Losses, res.WinRate*100)
	fmt.Printf("  P&L:           %s (ROI %.1f%%)\n", dollars(res.TotalPnlCents), res.ROIPct)
	fmt.Printf("  Sharpe:        %.2f (annualized)\n", res.SharpeRatio)
	fmt.Printf("  Max drawdown:  %.1f%%\n", res.MaxDrawdownPct)
	fmt.Printf("  Bankroll:      %s final, %s peak\n",
		dollars(res.FinalBankrollCents), dollars(res.PeakBankrollCents))
	fmt.Printf("  Risk blocks:   %d signals refused\n", res.Blocked)
	fmt.Println()

	if len(res.City) > 0 {
		fmt.Println("PER CITY")
		fmt.Printf("  %-5s %7s %6s %8s %10s %8s\n", "City", "Trades", "Wins", "WinRate", "P&L", "AvgEV")
		for _, city := range sortedCityKeys(res.City) {
			cs := res.City[city]
			fmt.Printf("  %-5s %7d %6d %7.1f%% %10s %8.3f\n",
				city, cs.Trades, cs.Wins, cs.WinRate*100, dollars(cs.PnlCents), cs.AvgEV)
		}
		fmt.Println()
	}

	if res.Kelly != nil {
		fmt.Println("KELLY SIZING")
		fmt.Printf("  Avg quantity:  %.1f contracts (max %d)\n",
			res.Kelly.AvgQuantity, res.Kelly.MaxQuantity)
		fmt.Printf("  Flat 1x P&L:   %s vs sized %s\n",
			dollars(res.Kelly.FlatPnlCents), dollars(res.TotalPnlCents))
		fmt.Println()
	}

	if verbose {
		fmt.Println("TRADES")
		for _, tr := range res.Trades {
			outcome := "LOST"
			if tr.Won {
				outcome = "WON "
			}
			fmt.Printf("  %s %s %-3s %-7s %-5s %2dx @%2dc  actual %.1fF  %s %s\n",
				tr.Date, outcome, tr.City, tr.Bracket, tr.Side,
				tr.Quantity, tr.PriceCents, tr.ActualF, dollars(tr.PnlCents), tr.Ticker)
		}
	}
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func joinCities(cities []domain.City) string {
	parts := make([]string, len(cities))
	for i, c := range cities {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func sortedCityKeys(m map[domain.City]*backtest.CityStats) []domain.City {
	keys := make([]domain.City, 0, len(m))
	for c := range m {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "backtest:", err)
	os.Exit(1)
}
