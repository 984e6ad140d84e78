// Package settle adjudicates open trades against observed daily highs,
// computes cents-exact P&L, and writes the postmortem narrative.
package settle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/internal/risk"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// narrativeSourceLimit caps the per-source accuracy lines in a narrative.
const narrativeSourceLimit = 4

// Result is the outcome of settling one trade.
type Result struct {
	TradeID   string
	Won       bool
	PnlCents  int64
	FeesCents int64
	Narrative string
}

// Engine settles trades and feeds outcomes back into risk state.
type Engine struct {
	store  *store.Store
	risk   *risk.Manager
	logger zerolog.Logger
	clock  func() time.Time
}

// NewEngine creates a settlement engine.
func NewEngine(st *store.Store, rm *risk.Manager, logger zerolog.Logger) *Engine {
	return &Engine{store: st, risk: rm, logger: logger, clock: time.Now}
}

// Adjudicate decides whether a position won. The long side wins exactly
// when the observed value lands inside the bracket; short wins the
// complement.
func Adjudicate(bracket string, side domain.Side, actual float64) (bool, error) {
	hit, err := domain.DidHit(bracket, actual)
	if err != nil {
		return false, faults.Wrap(faults.ErrInput, "adjudicate bracket", err).With("bracket", bracket)
	}
	if side == domain.SideShort {
		return !hit, nil
	}
	return hit, nil
}

// PnL computes exact settlement cents for a position. Winners pay out
// 100c per contract less cost and fees; losers forfeit cost and pay no
// fee.
func PnL(priceCents, quantity int, side domain.Side, won bool) (pnlCents, feeCents int64) {
	cost := int64(quantity) * int64(domain.CostPerContract(priceCents, side))
	if !won {
		return -cost, 0
	}
	payout := int64(quantity) * 100
	fee := int64(quantity) * int64(domain.EstimateFees(priceCents, side))
	return payout - cost - fee, fee
}

// Settle adjudicates one OPEN trade against the settlement record,
// persists the outcome, and updates the user's cooldown state. The
// sourceForecasts map (source -> forecast high) feeds the narrative's
// accuracy lines and may be nil.
func (e *Engine) Settle(ctx context.Context, trade *store.Trade, rec *store.SettlementRecord, sourceForecasts map[string]float64) (*Result, error) {
	if trade.Status != store.TradeOpen {
		return nil, faults.New(faults.ErrInput, "trade is not open").
			With("trade_id", trade.ID).
			With("status", string(trade.Status))
	}

	won, err := Adjudicate(trade.Bracket, trade.Side, rec.HighTempF)
	if err != nil {
		return nil, err
	}

	pnl, fee := PnL(trade.PriceCents, trade.Quantity, trade.Side, won)
	narrative := e.narrative(trade, rec, won, pnl, sourceForecasts)

	status := store.TradeLost
	outcome := "lost"
	if won {
		status = store.TradeWon
		outcome = "won"
	}

	now := e.clock()
	if err := e.store.SettleTrade(ctx, trade.ID, status, pnl, fee, rec.HighTempF, rec.Source, narrative, now); err != nil {
		return nil, err
	}

	if err := e.risk.RecordSettlement(ctx, trade.UserID, pnl, won); err != nil {
		return nil, err
	}

	metrics.TradesSettled.WithLabelValues(outcome).Inc()
	e.logger.Info().Str("trade_id", trade.ID).Str("outcome", outcome).
		Int64("pnl_cents", pnl).Int64("fees_cents", fee).
		Float64("observed_f", rec.HighTempF).
		Msg("trade settled")

	return &Result{
		TradeID:   trade.ID,
		Won:       won,
		PnlCents:  pnl,
		FeesCents: fee,
		Narrative: narrative,
	}, nil
}

// RecordForecastErrors stores per-source signed forecast errors for one
// settled (city, date), feeding sigma calibration.
func (e *Engine) RecordForecastErrors(ctx context.Context, city domain.City, date string, actual float64, sourceForecasts map[string]float64) error {
	for source, forecast := range sourceForecasts {
		fe := &store.ForecastError{
			Source:    source,
			City:      city,
			Date:      date,
			ForecastF: forecast,
			ActualF:   actual,
		}
		if err := e.store.InsertForecastError(ctx, fe); err != nil {
			return faults.Wrap(faults.ErrAPI, "record forecast error", err).
				With("source", source).
				With("city", string(city))
		}
	}
	return nil
}

// narrative renders the postmortem text stored on the trade row.
func (e *Engine) narrative(trade *store.Trade, rec *store.SettlementRecord, won bool, pnl int64, sourceForecasts map[string]float64) string {
	var b strings.Builder

	tag := "LOST"
	if won {
		tag = "WON"
	}
	fmt.Fprintf(&b, "%s %s\n", tag, signedDollars(pnl))
	fmt.Fprintf(&b, "%s %s %s %dx @ %dc\n",
		trade.City, trade.Bracket, trade.Side, trade.Quantity, trade.PriceCents)
	fmt.Fprintf(&b, "Observed high: %.1fF (%s)\n", rec.HighTempF, rec.Source)
	fmt.Fprintf(&b, "Edge: model %.1f%% vs market %.1f%% (%s confidence)",
		trade.ModelProbability*100, trade.MarketProbability*100, trade.Confidence)

	if len(sourceForecasts) > 0 {
		b.WriteString("\nSources:")
		for _, sa := range closestSources(sourceForecasts, rec.HighTempF, narrativeSourceLimit) {
			fmt.Fprintf(&b, "\n  %s: %.1fF (%+.1f)", sa.source, sa.forecast, sa.deviation)
		}
	}
	return b.String()
}

type sourceAccuracy struct {
	source    string
	forecast  float64
	deviation float64
}

// closestSources ranks sources by absolute deviation from the observed
// value, name-ordered on ties.
func closestSources(forecasts map[string]float64, actual float64, limit int) []sourceAccuracy {
	out := make([]sourceAccuracy, 0, len(forecasts))
	for source, forecast := range forecasts {
		out = append(out, sourceAccuracy{source, forecast, forecast - actual})
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := math.Abs(out[i].deviation), math.Abs(out[j].deviation)
		if di != dj {
			return di < dj
		}
		return out[i].source < out[j].source
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// signedDollars formats cents as a signed dollar amount, e.g. +$1.34.
func signedDollars(cents int64) string {
	sign := "+"
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
