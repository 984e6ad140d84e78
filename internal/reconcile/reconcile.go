// Package reconcile syncs the local trade ledger against the exchange's
// authoritative fill list, recovering trades placed outside the bot or
// lost to crashes.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
	"github.com/gopher-lab/weathertrader/pkg/kalshi"
)

// exchange is the REST surface reconciliation needs.
type exchange interface {
	GetFills(ctx context.Context) ([]kalshi.Fill, error)
	GetMarket(ctx context.Context, ticker string) (*kalshi.Market, error)
}

// Summary reports one reconciliation run.
type Summary struct {
	Synced  int
	Skipped int
	Failed  int
	Errors  []string
}

// Reconciler imports unknown exchange fills as sentinel trades.
type Reconciler struct {
	client exchange
	store  *store.Store
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a reconciler.
func New(client exchange, st *store.Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{client: client, store: st, logger: logger, clock: time.Now}
}

// Run fetches the authoritative fill list and records any weather-market
// fills the ledger does not know about. Unknown fills become sentinel
// trades: model probability, EV and confidence are placeholders because
// the decision-time context is gone. One fill's failure never aborts the
// rest.
func (r *Reconciler) Run(ctx context.Context, userID string) (*Summary, error) {
	fills, err := r.client.GetFills(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	markets := make(map[string]*kalshi.Market)

	for _, fill := range fills {
		city, ok := cityForTicker(fill.Ticker)
		if !ok {
			summary.Skipped++
			continue
		}
		if fill.Count <= 0 {
			summary.Skipped++
			continue
		}

		known, err := r.store.HasTradeForOrder(ctx, fill.OrderID)
		if err != nil {
			summary.fail(fill.OrderID, err)
			continue
		}
		if known {
			summary.Skipped++
			continue
		}

		market, ok := markets[fill.Ticker]
		if !ok {
			market, err = r.client.GetMarket(ctx, fill.Ticker)
			if err != nil {
				summary.fail(fill.OrderID, err)
				continue
			}
			markets[fill.Ticker] = market
		}

		trade, err := r.tradeFromFill(userID, &fill, city, market)
		if err != nil {
			summary.fail(fill.OrderID, err)
			continue
		}

		if err := r.store.InsertTrade(ctx, trade); err != nil {
			summary.fail(fill.OrderID, err)
			continue
		}

		summary.Synced++
		r.logger.Info().Str("trade_id", trade.ID).Str("order_id", fill.OrderID).
			Str("ticker", fill.Ticker).Msg("imported exchange fill")
	}

	r.logger.Info().Int("synced", summary.Synced).Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).Msg("reconciliation complete")
	return summary, nil
}

// tradeFromFill builds the sentinel trade row for an imported fill.
func (r *Reconciler) tradeFromFill(userID string, fill *kalshi.Fill, city domain.City, market *kalshi.Market) (*store.Trade, error) {
	side, err := domain.SideFromExchange(string(fill.Side))
	if err != nil {
		return nil, err
	}

	tradeDate, err := tickerDate(fill.Ticker)
	if err != nil {
		return nil, err
	}

	bracket := market.YesSubTitle
	if bracket == "" {
		bracket = market.Subtitle
	}

	return &store.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		OrderID:    fill.OrderID,
		City:       city,
		TradeDate:  tradeDate,
		Ticker:     fill.Ticker,
		Bracket:    bracket,
		Side:       side,
		PriceCents: fill.YesPrice,
		Quantity:   fill.Count,
		// Sentinels: the decision-time model context is unrecoverable.
		ModelProbability: 0,
		EVAtEntry:        0,
		Confidence:       "low",
		Status:           store.TradeOpen,
		CreatedAt:        r.clock(),
	}, nil
}

func (s *Summary) fail(orderID string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, fmt.Sprintf("order %s: %v", orderID, err))
}

// cityForTicker matches a market ticker against the weather event
// prefixes.
func cityForTicker(ticker string) (domain.City, bool) {
	for _, city := range domain.Cities() {
		if strings.HasPrefix(ticker, city.EventPrefix()+"-") {
			return city, true
		}
	}
	return "", false
}

// tickerDate extracts the event date from a ticker like
// KXHIGHNY-25AUG26-B55.
func tickerDate(ticker string) (time.Time, error) {
	parts := strings.Split(ticker, "-")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("reconcile: malformed ticker %q", ticker)
	}

	code := parts[1]
	if len(code) != 7 {
		return time.Time{}, fmt.Errorf("reconcile: malformed event date in %q", ticker)
	}

	// The exchange uppercases month names; Go's parser wants Jan case.
	normalized := code[:2] + code[2:3] + strings.ToLower(code[3:5]) + code[5:]
	t, err := time.ParseInLocation("06Jan02", normalized, domain.Eastern())
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: parse event date in %q: %w", ticker, err)
	}
	return t, nil
}
