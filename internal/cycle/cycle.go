// Package cycle runs the periodic trading loop: join live forecasts with
// cached market prices, scan for edge, pass signals through the risk
// gate, then execute or queue. It also owns the settlement and TTL
// sweeps. Background iterations never crash the process.
package cycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/config"
	"github.com/gopher-lab/weathertrader/internal/exec"
	"github.com/gopher-lab/weathertrader/internal/feed"
	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/internal/notify"
	"github.com/gopher-lab/weathertrader/internal/queue"
	"github.com/gopher-lab/weathertrader/internal/risk"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/settle"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// observationSource supplies per-source forecast highs.
type observationSource interface {
	Observations(ctx context.Context, city domain.City, date time.Time) ([]forecast.Observation, error)
}

// settlementSource supplies the observed high once a market day closes.
type settlementSource interface {
	ObservedHigh(ctx context.Context, city domain.City, date time.Time) (float64, string, error)
}

// balanceSource supplies the live bankroll for Kelly sizing.
type balanceSource interface {
	GetBalanceCents(ctx context.Context) (int, error)
}

// Runner drives one user's trading, settlement and queue sweeps.
type Runner struct {
	userID   string
	settings config.UserSettings

	observations observationSource
	settlements  settlementSource
	balance      balanceSource
	engine       *forecast.Engine
	cache        *feed.PriceCache
	scanner      *scan.Scanner
	risk         *risk.Manager
	queue        *queue.Queue
	executor     *exec.Executor
	settler      *settle.Engine
	store        *store.Store
	notifier     *notify.Notifier

	logger zerolog.Logger
	clock  func() time.Time

	// Per-source forecasts captured at prediction time, keyed by
	// city|date, consumed at settlement for calibration and narrative.
	// mu guards the map: the trading cycle and the settlement sweep run
	// on separate scheduler goroutines.
	mu        sync.Mutex
	forecasts map[string]map[string]float64
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Observations observationSource
	Settlements  settlementSource
	Balance      balanceSource
	Engine       *forecast.Engine
	Cache        *feed.PriceCache
	Risk         *risk.Manager
	Queue        *queue.Queue
	Executor     *exec.Executor
	Settler      *settle.Engine
	Store        *store.Store
	Notifier     *notify.Notifier
}

// NewRunner creates a cycle runner for one user.
func NewRunner(userID string, settings config.UserSettings, deps Deps, logger zerolog.Logger) *Runner {
	scanner := scan.New(scan.Config{
		MinEVThreshold:         settings.MinEVThreshold,
		UseKellySizing:         settings.UseKellySizing,
		KellyFraction:          settings.KellyFraction,
		MaxContractsPerTrade:   settings.MaxContractsPerTrade,
		MaxBankrollPctPerTrade: settings.MaxBankrollPctPerTrade,
		MaxTradeSizeCents:      int64(settings.MaxTradeSizeCents),
	}, logger)

	return &Runner{
		userID:       userID,
		settings:     settings,
		observations: deps.Observations,
		settlements:  deps.Settlements,
		balance:      deps.Balance,
		engine:       deps.Engine,
		cache:        deps.Cache,
		scanner:      scanner,
		risk:         deps.Risk,
		queue:        deps.Queue,
		executor:     deps.Executor,
		settler:      deps.Settler,
		store:        deps.Store,
		notifier:     deps.Notifier,
		logger:       logger,
		clock:        time.Now,
		forecasts:    make(map[string]map[string]float64),
	}
}

// TradingCycle runs one full pass over the active cities. Panics and
// errors are contained here so the schedule never dies.
func (r *Runner) TradingCycle(ctx context.Context) {
	defer r.recoverPanic("trading cycle")

	bankroll, err := r.balance.GetBalanceCents(ctx)
	if err != nil {
		metrics.CycleErrors.Inc()
		r.logger.Error().Err(err).Msg("fetch balance failed; skipping cycle")
		return
	}

	now := r.clock()
	for _, city := range r.activeCities() {
		for _, date := range []time.Time{now, now.AddDate(0, 0, 1)} {
			if err := r.processCity(ctx, city, date, int64(bankroll)); err != nil {
				metrics.CycleErrors.Inc()
				r.logger.Error().Err(err).Str("city", string(city)).
					Str("date", date.Format("2006-01-02")).Msg("city cycle failed")
			}
		}
	}

	metrics.CyclesCompleted.Inc()
}

// processCity predicts, scans and routes signals for one (city, date).
func (r *Runner) processCity(ctx context.Context, city domain.City, date time.Time, bankrollCents int64) error {
	prices, err := r.cache.Prices(ctx, city, date)
	if err != nil {
		return err
	}
	tickers, err := r.cache.Tickers(ctx, city, date)
	if err != nil {
		return err
	}
	if len(prices) == 0 || len(tickers) == 0 {
		r.logger.Debug().Str("city", string(city)).
			Str("date", date.Format("2006-01-02")).Msg("no cached market data")
		return nil
	}

	obs, err := r.observations.Observations(ctx, city, date)
	if err != nil {
		return err
	}
	r.captureForecasts(city, date, obs)

	defs, err := bracketDefs(tickers)
	if err != nil {
		return err
	}

	pred, err := r.engine.Predict(ctx, city, date, obs, defs)
	if err != nil {
		return err
	}

	signals := r.scanner.Scan(pred, prices, tickers, bankrollCents)
	if len(signals) == 0 {
		return nil
	}
	metrics.SignalsEmitted.WithLabelValues(string(city)).Add(float64(len(signals)))

	for i := range signals {
		r.routeSignal(ctx, &signals[i])
	}
	return nil
}

// routeSignal passes one signal through the risk gate and then executes
// (auto mode) or queues it (manual mode). A failed placement releases the
// reservation; a queued trade keeps it until acted on.
func (r *Runner) routeSignal(ctx context.Context, sig *scan.Signal) {
	decision, err := r.risk.CheckAndReserve(ctx, r.userID, sig)
	if err != nil {
		metrics.CycleErrors.Inc()
		r.logger.Error().Err(err).Str("ticker", sig.Ticker).Msg("risk check failed")
		return
	}
	if !decision.Allowed {
		r.logger.Info().Str("ticker", sig.Ticker).Str("reason", decision.Reason).
			Msg("signal blocked")
		return
	}

	cost := int64(domain.TotalCost(sig.PriceCents, sig.Quantity, sig.Side))

	if r.settings.AutoTrading() {
		trade, err := r.executor.Execute(ctx, r.userID, sig)
		if err != nil {
			r.logger.Error().Err(err).Str("ticker", sig.Ticker).Msg("execution failed")
			if relErr := r.risk.ReleaseExposure(ctx, r.userID, cost); relErr != nil {
				r.logger.Error().Err(relErr).Msg("release reservation failed")
			}
			r.notifier.ErrorAlert(ctx, "executor", err)
			return
		}
		r.notifier.TradeAlert(ctx, trade)
		return
	}

	pending, err := r.queue.Enqueue(ctx, r.userID, sig)
	if err != nil {
		r.logger.Error().Err(err).Str("ticker", sig.Ticker).Msg("enqueue failed")
		if relErr := r.risk.ReleaseExposure(ctx, r.userID, cost); relErr != nil {
			r.logger.Error().Err(relErr).Msg("release reservation failed")
		}
		return
	}
	r.notifier.QueuedAlert(ctx, pending)
}

// ExecuteApproved places the order for an approved queue entry and marks
// it executed. Used by the approval path; the reservation made at
// queueing time carries over.
func (r *Runner) ExecuteApproved(ctx context.Context, p *store.PendingTrade) (*store.Trade, error) {
	sig := &scan.Signal{
		City:              p.City,
		Ticker:            p.Ticker,
		Bracket:           p.Bracket,
		Side:              p.Side,
		PriceCents:        p.PriceCents,
		Quantity:          p.Quantity,
		ModelProbability:  p.ModelProbability,
		MarketProbability: p.MarketProbability,
		EV:                p.EV,
		Confidence:        forecast.Confidence(p.Confidence),
	}

	trade, err := r.executor.Execute(ctx, r.userID, sig)
	if err != nil {
		cost := int64(domain.TotalCost(p.PriceCents, p.Quantity, p.Side))
		if relErr := r.risk.ReleaseExposure(ctx, r.userID, cost); relErr != nil {
			r.logger.Error().Err(relErr).Msg("release reservation failed")
		}
		return nil, err
	}

	if err := r.queue.MarkExecuted(ctx, p.ID); err != nil {
		r.logger.Error().Err(err).Str("id", p.ID).Msg("mark executed failed")
	}
	r.notifier.TradeAlert(ctx, trade)
	return trade, nil
}

// SettlementSweep settles every OPEN trade whose market day has closed
// and whose observed high is available.
func (r *Runner) SettlementSweep(ctx context.Context) {
	defer r.recoverPanic("settlement sweep")

	open, err := r.store.ListOpenTrades(ctx, r.userID)
	if err != nil {
		metrics.CycleErrors.Inc()
		r.logger.Error().Err(err).Msg("list open trades failed")
		return
	}

	for _, trade := range open {
		if err := r.settleTrade(ctx, trade); err != nil {
			r.logger.Warn().Err(err).Str("trade_id", trade.ID).Msg("settlement deferred")
		}
	}
}

// settleTrade resolves the observed high for the trade's market day and
// runs the settlement engine. Days still in progress are left alone.
func (r *Runner) settleTrade(ctx context.Context, trade *store.Trade) error {
	loc, err := time.LoadLocation(trade.City.Timezone())
	if err != nil {
		loc = domain.Eastern()
	}

	day := trade.TradeDate.In(loc)
	dateKey := day.Format("2006-01-02")
	today := r.clock().In(loc).Format("2006-01-02")
	if dateKey >= today {
		return nil
	}

	rec, err := r.store.GetSettlement(ctx, trade.City, dateKey)
	if err != nil {
		return err
	}
	if rec == nil {
		high, source, err := r.settlements.ObservedHigh(ctx, trade.City, day)
		if err != nil {
			return err
		}
		rec = &store.SettlementRecord{
			City:      trade.City,
			Date:      dateKey,
			HighTempF: high,
			Source:    source,
			CreatedAt: r.clock(),
		}
		if err := r.store.UpsertSettlement(ctx, rec); err != nil {
			return err
		}
	}

	key := forecastKey(trade.City, dateKey)
	r.mu.Lock()
	sources := r.forecasts[key]
	r.mu.Unlock()

	result, err := r.settler.Settle(ctx, trade, rec, sources)
	if err != nil {
		return err
	}

	if len(sources) > 0 {
		if err := r.settler.RecordForecastErrors(ctx, trade.City, dateKey, rec.HighTempF, sources); err != nil {
			r.logger.Warn().Err(err).Msg("record forecast errors failed")
		}
		r.mu.Lock()
		delete(r.forecasts, key)
		r.mu.Unlock()
	}

	r.notifier.SettlementAlert(ctx, trade, result.Narrative)
	return nil
}

// QueueSweep expires overdue pending trades and releases their
// reservations.
func (r *Runner) QueueSweep(ctx context.Context) {
	defer r.recoverPanic("queue sweep")

	expired, err := r.queue.SweepExpired(ctx)
	if err != nil {
		metrics.CycleErrors.Inc()
		r.logger.Error().Err(err).Msg("queue sweep failed")
	}
	for _, p := range expired {
		r.releaseReservation(ctx, p)
	}
}

// RejectPending declines a queued trade and returns its reservation to
// the daily exposure budget.
func (r *Runner) RejectPending(ctx context.Context, id string) error {
	p, err := r.store.GetPendingTrade(ctx, id)
	if err != nil {
		return err
	}
	if err := r.queue.Reject(ctx, id); err != nil {
		return err
	}
	r.releaseReservation(ctx, p)
	return nil
}

// releaseReservation returns a queue entry's cost to the daily exposure
// budget.
func (r *Runner) releaseReservation(ctx context.Context, p *store.PendingTrade) {
	cost := int64(domain.TotalCost(p.PriceCents, p.Quantity, p.Side))
	if err := r.risk.ReleaseExposure(ctx, r.userID, cost); err != nil {
		r.logger.Error().Err(err).Str("id", p.ID).Msg("release reservation failed")
	}
}

// captureForecasts remembers each source's forecast for settlement-time
// calibration.
func (r *Runner) captureForecasts(city domain.City, date time.Time, obs []forecast.Observation) {
	loc, err := time.LoadLocation(city.Timezone())
	if err != nil {
		loc = domain.Eastern()
	}
	key := forecastKey(city, date.In(loc).Format("2006-01-02"))

	m := make(map[string]float64, len(obs))
	for _, o := range obs {
		m[o.Source] = o.HighF
	}

	r.mu.Lock()
	r.forecasts[key] = m
	r.mu.Unlock()
}

func forecastKey(city domain.City, date string) string {
	return fmt.Sprintf("%s|%s", city, date)
}

// activeCities returns the configured cities, validated and sorted.
func (r *Runner) activeCities() []domain.City {
	var cities []domain.City
	for _, s := range r.settings.ActiveCities {
		city, err := domain.ParseCity(s)
		if err != nil {
			r.logger.Warn().Str("city", s).Msg("ignoring unknown active city")
			continue
		}
		cities = append(cities, city)
	}
	sort.Slice(cities, func(i, j int) bool { return cities[i] < cities[j] })
	return cities
}

// bracketDefs converts the cached bracket labels into CDF definitions,
// ordered bottom catch-all first and top catch-all last.
func bracketDefs(tickers map[string]string) ([]domain.BracketDef, error) {
	defs := make([]domain.BracketDef, 0, len(tickers))
	for label := range tickers {
		def, err := domain.DefFromLabel(label)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defSortKey(defs[i]) < defSortKey(defs[j])
	})
	return defs, nil
}

// defSortKey orders brackets by their position on the temperature axis.
func defSortKey(d domain.BracketDef) float64 {
	if d.Lower == nil {
		return *d.Upper - 1e6
	}
	return *d.Lower
}

// recoverPanic keeps a background loop alive through anything.
func (r *Runner) recoverPanic(task string) {
	if p := recover(); p != nil {
		metrics.CycleErrors.Inc()
		r.logger.Error().Interface("panic", p).Str("task", task).Msg("background task panicked")
	}
}
